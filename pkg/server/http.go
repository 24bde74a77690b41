/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 */

package server

import (
	"errors"
	"net"
	"time"

	"gitlab.com/go-extension/http"
	"go.uber.org/zap"
)

const (
	defaultReadHeaderTimeout = 3 * time.Second
	defaultReadTimeout       = 10 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 30 * time.Second

	// Lookups are plain GETs with a short query string.
	defaultMaxHeaderBytes = 4096
)

// ServeHTTP serves the location api on l until the Server is closed.
// It always returns a non-nil error. After Close it returns ErrServerClosed.
func (s *Server) ServeHTTP(l net.Listener) error {
	defer l.Close()

	if s.opts.HttpHandler == nil {
		return errMissingHTTPHandler
	}

	hs := &http.Server{
		Handler:           &eHttpHandlerWrapper{s},
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}
	if ok := s.track(hs); !ok {
		return ErrServerClosed
	}
	defer s.untrack(hs)

	s.opts.Logger.Info("location api server started", zap.Stringer("addr", l.Addr()))
	err := hs.Serve(l)
	if errors.Is(err, http.ErrServerClosed) || s.Closed() {
		return ErrServerClosed
	}
	return err
}
