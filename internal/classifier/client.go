// Package classifier is the client for the remote pest classification
// service. Every call returns a Result: transport failures, bad statuses
// and malformed bodies come back as data, never as a panic or a bare error.
// A negative verdict (not a pest, not found) is a successful Result whose
// payload says so.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GoosieGav/PestHub/internal/httpclient"
)

const (
	// DefaultBaseURL is used when Config.BaseURL is empty.
	DefaultBaseURL = "http://localhost:8000"
	// DefaultTimeout bounds every call.
	DefaultTimeout = 30 * time.Second

	// Operation names used in errors, logs and metrics.
	OpPredict     = "predict"
	OpSearchPest  = "search_pest"
	OpPestDetails = "pest_details"

	maxResponseBytes = 8 << 20
)

// Config is injected at construction.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Transport replaces the pooled HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Observer is told about every finished call. kind is empty on success.
type Observer func(op string, kind Kind, elapsed time.Duration)

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used for failed calls.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers a call observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// WithHTTPClient shares an existing outbound client.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client talks to the classification backend. It holds no per-call state
// and is safe for concurrent use; concurrent calls are independent.
type Client struct {
	base    *url.URL
	timeout time.Duration
	http    *httpclient.Client
	logger  *zap.Logger
	observe Observer
}

// New validates cfg and builds a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: must be an absolute http(s) URL", raw)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		base:    base,
		timeout: timeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(&httpclient.Config{Timeout: timeout, Transport: cfg.Transport})
	}
	c.logger = c.logger.Named("classifier")
	return c, nil
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string { return c.base.String() }

// ClassifyPest loads the image at location (a path or file:// URI) and
// submits it to /predict.
func (c *Client) ClassifyPest(ctx context.Context, location string) Result[ClassificationResult] {
	img, err := LoadImage(location)
	if err != nil {
		return fail[ClassificationResult](c, OpPredict, time.Now(), newError(KindValidation, OpPredict, err, "%v", err))
	}
	return c.ClassifyImage(ctx, img)
}

// ClassifyImage uploads img as the multipart field "file" to /predict.
func (c *Client) ClassifyImage(ctx context.Context, img Image) Result[ClassificationResult] {
	start := time.Now()
	if strings.TrimSpace(img.Filename) == "" {
		return fail[ClassificationResult](c, OpPredict, start, newError(KindValidation, OpPredict, nil, "image filename is empty"))
	}
	if len(img.Data) == 0 {
		return fail[ClassificationResult](c, OpPredict, start, newError(KindValidation, OpPredict, nil, "image %q is empty", img.Filename))
	}

	body, contentType, err := multipartBody(img)
	if err != nil {
		return fail[ClassificationResult](c, OpPredict, start, newError(KindValidation, OpPredict, err, "encode upload: %v", err))
	}

	payload, _, cerr := c.send(ctx, OpPredict, http.MethodPost, c.endpoint("predict"), contentType, body)
	if cerr != nil {
		return fail[ClassificationResult](c, OpPredict, start, cerr)
	}
	out, cerr := decode[ClassificationResult](OpPredict, payload)
	if cerr != nil {
		return fail[ClassificationResult](c, OpPredict, start, cerr)
	}
	if out.Message == "" {
		out.Message = "NOT A PEST"
		if out.IsPest {
			out.Message = "PEST DETECTED!"
		}
	}
	c.succeed(OpPredict, start)
	return Succeed(out)
}

// SearchPest asks the backend about a free-text species name. A blank
// query is rejected without a request.
func (c *Client) SearchPest(ctx context.Context, query string) Result[SearchResult] {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return fail[SearchResult](c, OpSearchPest, start, newError(KindValidation, OpSearchPest, nil, "search query is empty"))
	}

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return fail[SearchResult](c, OpSearchPest, start, newError(KindValidation, OpSearchPest, err, "encode query: %v", err))
	}
	payload, _, cerr := c.send(ctx, OpSearchPest, http.MethodPost, c.endpoint("search_pest"), "application/json", body)
	if cerr != nil {
		return fail[SearchResult](c, OpSearchPest, start, cerr)
	}
	out, cerr := decode[SearchResult](OpSearchPest, payload)
	if cerr != nil {
		return fail[SearchResult](c, OpSearchPest, start, cerr)
	}
	c.succeed(OpSearchPest, start)
	return Succeed(out)
}

// GetPestDetails fetches /pest/{name}. The body is returned as the backend
// sent it.
func (c *Client) GetPestDetails(ctx context.Context, name string) Result[PestDetails] {
	start := time.Now()
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fail[PestDetails](c, OpPestDetails, start, newError(KindValidation, OpPestDetails, nil, "pest name %q is not valid", name))
	}

	payload, contentType, cerr := c.send(ctx, OpPestDetails, http.MethodGet, c.endpoint("pest", url.PathEscape(name)), "", nil)
	if cerr != nil {
		return fail[PestDetails](c, OpPestDetails, start, cerr)
	}
	details := PestDetails{ContentType: contentType, Body: payload}
	if details.IsJSON() {
		if cerr := backendError(OpPestDetails, payload); cerr != nil {
			return fail[PestDetails](c, OpPestDetails, start, cerr)
		}
	}
	c.succeed(OpPestDetails, start)
	return Succeed(details)
}

func (c *Client) endpoint(elem ...string) string {
	return c.base.JoinPath(elem...).String()
}

// send performs one attempt and returns the 2xx body and its content type.
func (c *Client) send(ctx context.Context, op, method, target, contentType string, body []byte) ([]byte, string, *Error) {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, target, reader)
	if err != nil {
		return nil, "", newError(KindValidation, op, err, "build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, done, err := c.http.Do(callCtx, req)
	defer done()
	if err != nil {
		return nil, "", c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", c.transportError(ctx, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", statusError(op, resp.StatusCode, payload)
	}
	return payload, resp.Header.Get("Content-Type"), nil
}

func (c *Client) transportError(parent context.Context, op string, err error) *Error {
	var netErr interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.Canceled) && parent.Err() != nil:
		return newError(KindCanceled, op, err, "%s request canceled", op)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return newError(KindTimeout, op, err, "%s request to %s timed out after %s", op, c.base.Host, c.timeout)
	default:
		return newError(KindConnectivity, op, err,
			"cannot reach the classification service at %s, make sure the backend is running: %v", c.base, unwrapURLError(err))
	}
}

func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err
	}
	return err
}

func statusError(op string, status int, body []byte) *Error {
	detail := messageFromBody(body)
	var e *Error
	if detail != "" {
		e = newError(KindStatus, op, nil, "classification service returned %d %s: %s", status, http.StatusText(status), detail)
	} else {
		e = newError(KindStatus, op, nil, "classification service returned %d %s", status, http.StatusText(status))
	}
	e.StatusCode = status
	return e
}

// messageFromBody pulls a human-readable reason out of an error body.
func messageFromBody(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 || strings.HasPrefix(text, "<") {
			return ""
		}
		return text
	}
	for _, key := range []string{"error", "detail", "message"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		if text := strings.TrimSpace(string(raw)); text != "" && text != "null" {
			return text
		}
	}
	return ""
}

// backendError recognizes the {"error": "..."} envelope the backend uses for
// failures it reports with a 2xx status.
func backendError(op string, body []byte) *Error {
	var envelope struct {
		Error  json.RawMessage `json:"error"`
		IsPest *bool           `json:"is_pest"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.IsPest != nil || len(envelope.Error) == 0 {
		return nil
	}
	msg := messageFromBody(body)
	if msg == "" {
		return nil
	}
	return newError(KindBackend, op, nil, "classification service error: %s", msg)
}

func decode[T any](op string, body []byte) (T, *Error) {
	var out T
	if cerr := backendError(op, body); cerr != nil {
		return out, cerr
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, newError(KindDecode, op, err, "unexpected %s response: %v", op, err)
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func multipartBody(img Image) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(img.Filename)))
	header.Set("Content-Type", img.ContentType())

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) succeed(op string, start time.Time) {
	elapsed := time.Since(start)
	c.logger.Debug("classification call succeeded", zap.String("operation", op), zap.Duration("elapsed", elapsed))
	if c.observe != nil {
		c.observe(op, "", elapsed)
	}
}

func fail[T any](c *Client, op string, start time.Time, err *Error) Result[T] {
	elapsed := time.Since(start)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("kind", string(err.Kind)),
		zap.String("base_url", c.base.String()),
		zap.Duration("elapsed", elapsed),
	}
	if err.StatusCode != 0 {
		fields = append(fields, zap.Int("status", err.StatusCode))
	}
	if err.Kind == KindValidation {
		c.logger.Debug("classification call rejected", append(fields, zap.String("reason", err.Message))...)
	} else {
		c.logger.Warn("classification call failed", append(fields, zap.Error(err))...)
	}
	if c.observe != nil {
		c.observe(op, err.Kind, elapsed)
	}
	return Fail[T](err)
}
