// Package provider is the HTTPS JSON transport used to talk to the Alien identity provider.
// It owns header conventions, response decompression, schema validation and the mapping
// of HTTP failures onto the ssoerr taxonomy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/alien-org/alien-sso-go/internal/buildinfo"
	"github.com/alien-org/alien-sso-go/internal/logging"
	"github.com/alien-org/alien-sso-go/sdk/ssoerr"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// HeaderProviderAddress identifies the calling application to the provider.
const HeaderProviderAddress = "X-PROVIDER-ADDRESS"

// HeaderRequestID correlates client and provider logs.
const HeaderRequestID = "X-Request-ID"

const defaultTimeout = 30 * time.Second

// Client sends requests to one provider base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	validate   *validator.Validate
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.headers.Set(key, value)
		}
	}
}

// WithProviderAddress sets the X-PROVIDER-ADDRESS header.
func WithProviderAddress(address string) Option {
	return WithHeader(HeaderProviderAddress, address)
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		headers:    make(http.Header),
		validate:   newValidator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the underlying http.Client.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// URL joins path onto the base URL.
func (c *Client) URL(path string) string {
	if path == "" {
		return c.baseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// PostJSON sends in as a JSON body and decodes the validated reply into out.
func (c *Client) PostJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("alien sso: %s: marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alien sso: %s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req, op, out)
}

// PostForm sends form as application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, op, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("alien sso: %s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(req, op, out)
}

// Get issues a GET with query parameters. A non-empty bearer is sent as Authorization.
func (c *Client) Get(ctx context.Context, op, path string, query url.Values, bearer string, out any) error {
	target := c.URL(path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("alien sso: %s: create request: %w", op, err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.Do(req, op, out)
}

// Do sends req and decodes the reply into out (which may be nil).
// Transport failures become *ssoerr.NetworkError, non-2xx replies *ssoerr.ProviderError,
// and undecodable or invalid payloads *ssoerr.ValidationError.
func (c *Client) Do(req *http.Request, op string, out any) error {
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	requestID := logging.GetRequestID(req.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(HeaderRequestID, requestID)

	entry := log.WithField("request_id", requestID)
	entry.Debugf("alien sso: %s %s %s", op, req.Method, req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ssoerr.NetworkError{Op: op, Err: err}
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			entry.Errorf("alien sso %s: close body error: %v", op, errClose)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ssoerr.NetworkError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	body, err := decompressBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return &ssoerr.ValidationError{Op: op, Message: "undecodable response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		entry.Debugf("alien sso: %s returned status %d", op, resp.StatusCode)
		return &ssoerr.ProviderError{
			Op:         op,
			HTTPStatus: resp.StatusCode,
			Message:    errorMessage(body, resp.Status),
			Body:       body,
		}
	}

	if out == nil {
		return nil
	}
	if err = json.Unmarshal(body, out); err != nil {
		return &ssoerr.ValidationError{Op: op, Message: "malformed JSON", Err: err}
	}
	return c.Validate(op, out)
}

// Validate runs the struct validation tags of out.
func (c *Client) Validate(op string, out any) error {
	err := c.validate.Struct(out)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// not a struct, nothing to validate
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		return &ssoerr.ValidationError{
			Op:      op,
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed %q check", fe.Tag()),
		}
	}
	return &ssoerr.ValidationError{Op: op, Err: err}
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errorMessage pulls a provider supplied description out of an error body.
func errorMessage(body []byte, fallback string) string {
	for _, path := range []string{"error_description", "message", "error.message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" && len(trimmed) <= 256 && !gjson.ValidBytes(body) {
		return trimmed
	}
	return fallback
}

// StampedHTTPClient returns an http.Client that adds this client's headers and a request id
// to requests issued by other libraries (the oauth2 token endpoint calls).
func (c *Client) StampedHTTPClient() *http.Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   c.httpClient.Timeout,
		Transport: &stampTransport{base: base, headers: c.headers.Clone()},
	}
}

type stampTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *stampTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for key, values := range t.headers {
		for _, v := range values {
			clone.Header.Set(key, v)
		}
	}
	if clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", buildinfo.UserAgent())
	}
	if clone.Header.Get(HeaderRequestID) == "" {
		requestID := logging.GetRequestID(req.Context())
		if requestID == "" {
			requestID = uuid.NewString()
		}
		clone.Header.Set(HeaderRequestID, requestID)
	}
	return t.base.RoundTrip(clone)
}
