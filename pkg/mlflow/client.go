// Package mlflow is a small client for the MLflow tracking server REST API
// and the artifact stores it points at.
//
// Only the calls needed to log a training run, register the resulting model
// and resolve it again for serving are implemented. Responses are read with
// gjson paths rather than full struct mirrors of the MLflow protos.
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/iris-mlops/pkg/httpx"
	iristls "github.com/HatiCode/iris-mlops/pkg/tls"
)

const apiPrefix = "/api/2.0/mlflow"

// Error codes returned by the tracking server.
const (
	CodeAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	CodeDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
)

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("mlflow: http status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mlflow: %s: %s (http %d)", e.ErrorCode, e.Message, e.StatusCode)
}

// IsNotFound reports whether err is an MLflow "does not exist" error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode == CodeDoesNotExist || apiErr.StatusCode == http.StatusNotFound
}

// IsAlreadyExists reports whether err is an MLflow "already exists" error.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == CodeAlreadyExists
}

// S3Config locates the object store behind s3:// artifact URIs.
type S3Config struct {
	Endpoint  string // host:port
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Client talks to one tracking server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	s3      S3Config
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client, e.g. to add tracing.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithS3 configures access to s3:// artifact locations.
func WithS3(cfg S3Config) Option {
	return func(cl *Client) {
		cl.s3 = cfg
	}
}

// New returns a client for the tracking server at trackingURI
// (e.g. http://mlflow-service.mlops-training:5000).
func New(trackingURI string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(trackingURI, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid tracking uri %q: %w", trackingURI, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid tracking uri %q: scheme must be http or https", trackingURI)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid tracking uri %q: missing host", trackingURI)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config holds the connection settings read from the environment by the
// binaries that talk to the tracking server.
type Config struct {
	TrackingURI string
	// S3Endpoint is a URL or bare host:port; empty leaves s3:// artifact
	// roots unsupported.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	Timeout     time.Duration
}

// NewFromConfig returns a client whose requests carry trace context and,
// when cfg.S3Endpoint is set, can read and write s3:// artifacts.
func NewFromConfig(cfg Config) (*Client, error) {
	httpClient, err := httpx.NewClient(iristls.Config{}, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithHTTPClient(httpClient)}

	if cfg.S3Endpoint != "" {
		endpoint, useSSL, err := ParseS3Endpoint(cfg.S3Endpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithS3(S3Config{
			Endpoint:  endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    useSSL,
		}))
	}
	return New(cfg.TrackingURI, opts...)
}

// TrackingURI returns the server base URL.
func (c *Client) TrackingURI() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// get issues a GET against an API method with query parameters.
func (c *Client) get(ctx context.Context, method string, query url.Values) (gjson.Result, error) {
	u := c.endpoint(apiPrefix + method)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

// post issues a POST against an API method with a JSON body.
func (c *Client) post(ctx context.Context, method string, body any) (gjson.Result, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(apiPrefix+method), bytes.NewReader(data))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (gjson.Result, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("mlflow request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, parseAPIError(resp.StatusCode, body)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return gjson.Parse("{}"), nil
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("mlflow %s: response is not valid JSON", req.URL.Path)
	}
	return gjson.ParseBytes(body), nil
}

func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}
	if gjson.ValidBytes(body) {
		r := gjson.ParseBytes(body)
		e.ErrorCode = r.Get("error_code").String()
		e.Message = r.Get("message").String()
	}
	if e.Message == "" {
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		e.Message = strings.TrimSpace(msg)
	}
	return e
}
