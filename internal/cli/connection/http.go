package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yndnr/tablesync-go/internal/cli/config"
	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/infra/buildinfo"
)

// DefaultTimeout bounds a single HTTP request.
const DefaultTimeout = 30 * time.Second

// Client is an HTTP client for one server.
type Client struct {
	base    *url.URL
	actorID string
	tls     *tls.Config
	client  *http.Client
}

// NewClient creates a client for server. actorID is sent as X-Actor-ID
// when set. tlsCfg may be nil.
func NewClient(server, actorID string, tlsCfg *tls.Config) (*Client, error) {
	base, err := config.ServerURL(server)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	return &Client{
		base:    base,
		actorID: actorID,
		tls:     tlsCfg,
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
	}, nil
}

// BaseURL returns the base URL of the client.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ActorID returns the actor sent with each request.
func (c *Client) ActorID() string {
	return c.actorID
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.addHeaders(req)
	return c.do(req)
}

// Post performs a POST request with JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.addHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.ErrTransportLost.WithCause(err)
	}
	return resp, nil
}

func (c *Client) addHeaders(req *http.Request) {
	if c.actorID != "" {
		req.Header.Set("X-Actor-ID", c.actorID)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tablesync-cli/"+buildinfo.Get().Version)
}

// envelope is the server's response wrapper.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// APIError is a failed request as the server reported it.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap rebuilds the domain error so that domain.KindOf classifies it.
func (e *APIError) Unwrap() error {
	if e.Code == "" {
		return nil
	}
	return domain.NewDomainError(e.Code, e.Message)
}

// ParseResponse decodes the envelope's data into target, or returns an
// *APIError for a failed request. target may be nil.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
			apiErr.RequestID = env.RequestID
		}
		return apiErr
	}

	if decodeErr != nil {
		return fmt.Errorf("parse response: %w", decodeErr)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}
