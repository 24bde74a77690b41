package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gitlab.com/go-extension/http"

	"github.com/pmkol/locres/pkg/utils"
)

const (
	jsonContentType     = "application/json"
	defaultUserAgent    = "locres"
	defaultMaxBodySize  = 4 << 20
	maxErrorBodySize    = 512
	defaultIdleTimeout  = 90 * time.Second
	defaultMaxIdleConns = 4
)

type ClientOpts struct {
	// UserAgent is sent with every request. Default is "locres".
	UserAgent string

	// MaxBodySize limits the size of a decoded response body.
	// Default is 4MiB.
	MaxBodySize int64

	// Transport is optional. A nil Transport uses a new transport
	// that honors the proxy environment variables.
	Transport *http.Transport
}

func (opts *ClientOpts) Init() {
	if len(opts.UserAgent) == 0 {
		opts.UserAgent = defaultUserAgent
	}
	utils.SetDefaultNum(&opts.MaxBodySize, defaultMaxBodySize)
	if opts.Transport == nil {
		opts.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			IdleConnTimeout:     defaultIdleTimeout,
			MaxIdleConnsPerHost: defaultMaxIdleConns,
		}
	}
}

// Client sends JSON requests and decodes JSON responses. Deadlines come
// from the request context.
type Client struct {
	opts ClientOpts
}

func NewClient(opts ClientOpts) *Client {
	opts.Init()
	return &Client{opts: opts}
}

// GetJSON sends a GET to url and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// PostJSON sends in as a JSON body to url and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request body, %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", jsonContentType)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", jsonContentType)
	req.Header.Set("User-Agent", c.opts.UserAgent)

	res, err := c.opts.Transport.RoundTrip(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
		return &HTTPError{StatusCode: res.StatusCode, Body: body}
	}

	if err := json.NewDecoder(io.LimitReader(res.Body, c.opts.MaxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response, %w", err)
	}
	return nil
}

// Close closes idle connections.
func (c *Client) Close() error {
	c.opts.Transport.CloseIdleConnections()
	return nil
}
