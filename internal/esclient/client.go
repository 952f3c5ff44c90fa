// Package esclient wraps the official Elasticsearch client with the console's
// transport policy and maps cluster responses into core errors.
package esclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/types"
)

// Options control how clients reach a cluster.
type Options struct {
	// InsecureSkipVerify disables TLS certificate verification. Clusters
	// managed from the console commonly run with self-signed certificates.
	InsecureSkipVerify bool
	// RequestTimeout bounds waiting for response headers. Zero means no limit.
	RequestTimeout time.Duration
}

// DefaultOptions trusts any certificate, matching historical behaviour.
func DefaultOptions() Options {
	return Options{InsecureSkipVerify: true}
}

// Client is a handle on one cluster.
type Client struct {
	es        *elasticsearch.Client
	url       string
	transport *http.Transport
}

// New builds a client for creds. It performs no network I/O.
func New(creds types.Credentials, opts Options) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	transport.ResponseHeaderTimeout = opts.RequestTimeout

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{creds.URL},
		Username:     creds.Username,
		Password:     creds.Password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return &Client{es: es, url: creds.URL, transport: transport}, nil
}

// ES exposes the typed API.
func (c *Client) ES() *elasticsearch.Client {
	return c.es
}

// URL returns the cluster address this client targets.
func (c *Client) URL() string {
	return c.url
}

// Close releases idle connections. The client must not be used afterwards.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// Ping probes liveness.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("ping failed with status: %s", res.Status())
	}
	return nil
}

// Do runs an esapi request and decodes a successful JSON response into out.
// out may be nil to discard the body, or a *json.RawMessage to keep it verbatim.
func (c *Client) Do(ctx context.Context, req esapi.Request, out any) error {
	res, err := req.Do(ctx, c.es)
	return decode(res, err, out)
}

func decode(res *esapi.Response, err error, out any) error {
	if err != nil {
		return core.Upstream(0, nil, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return core.Upstream(res.StatusCode, nil, fmt.Errorf("reading response: %w", err))
	}
	if res.IsError() {
		return core.Upstream(res.StatusCode, body, nil)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], body...)
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return core.Internal(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// Response is an upstream reply relayed as-is.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Perform forwards a raw request. path may carry a query string. Error
// statuses come back as a core upstream error carrying the body.
func (c *Client) Perform(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, core.Validationf(core.ErrPathRequired, "%v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.es.Perform(req)
	if err != nil {
		return nil, core.Upstream(0, nil, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, core.Upstream(res.StatusCode, nil, fmt.Errorf("reading response: %w", err))
	}
	if res.StatusCode >= http.StatusBadRequest {
		return nil, core.Upstream(res.StatusCode, data, nil)
	}
	return &Response{
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// Exists runs a HEAD-style existence request. 200 means present, 404 absent,
// anything else is an upstream error.
func (c *Client) Exists(ctx context.Context, req esapi.Request) (bool, error) {
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return false, core.Upstream(0, nil, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		body, _ := io.ReadAll(res.Body)
		return false, core.Upstream(res.StatusCode, body, nil)
	}
}
