// Package source defines the geography data sources the fetcher falls
// back between, and the JSON-over-HTTP client they share.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/pmkol/locres/pkg/location"
)

// ErrEmptyResult reports a successful response that carried no data.
// Such a response is not trusted as "nothing exists".
var ErrEmptyResult = errors.New("empty result")

// Source is one geography data provider. Implementations map their own
// response shapes into location entities and return an error for
// transport, status and protocol failures. An empty slice with a nil
// error is a valid return; callers decide what empty means.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string

	Countries(ctx context.Context) ([]location.Country, error)
	States(ctx context.Context, country string) ([]location.State, error)
	Cities(ctx context.Context, country, state string) ([]string, error)
}

// HTTPError captures an unexpected status code and the head of the body.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// ProtocolError is a 2xx response whose envelope reports a failure.
type ProtocolError struct {
	Source  string
	Message string
}

func (e *ProtocolError) Error() string {
	if len(e.Message) == 0 {
		return e.Source + " reported a failure"
	}
	return e.Source + " reported a failure: " + e.Message
}
