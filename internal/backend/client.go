// Package backend is the HTTP client for the CSV processing backend.
//
// Every call goes through a circuit breaker. Failures are returned as
// *APIError whose message is safe to show to the user: the backend's own
// "error" text when it sent one, otherwise a generic message for the call.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Backend routes.
const (
	pathGetColumns         = "/api/get-columns"
	pathPreviewFile        = "/api/preview-file"
	pathProcessFile        = "/api/process-file"
	pathProgress           = "/api/progress/"
	pathMultiExportInitial = "/api/multi-export-initial-process"
	pathMultiExportProcess = "/api/multi-export-process"
	pathCRMGetColumns      = "/api/crm-get-columns"
	pathCRMPreview         = "/api/crm-preview"
	pathCRMProcess         = "/api/crm-process"
)

const maxResponseBytes = 32 << 20

// Generic user-facing messages, used when the backend sends none.
const (
	msgDiscover          = "Server error while reading the file."
	msgPreview           = "Preview failed."
	msgProcess           = "Could not start processing."
	msgProgress          = "Could not check task progress."
	msgMultiExportUpload = "Initial multi-export processing failed."
	msgMultiExportStart  = "Could not start the multi-export."
	msgDedupDiscover     = "Could not read the CRM file columns."
	msgDedupPreview      = "CRM preview failed."
	msgDedupStart        = "Could not start the CRM process."
	msgNetwork           = "Network error while contacting the server."
	msgUnavailable       = "The processing server is unavailable. Try again shortly."
	msgMalformed         = "The server sent an unexpected response."
)

// Options configures a Client.
type Options struct {
	// Timeout bounds JSON calls. Uploads are bounded by their context only.
	Timeout time.Duration

	// BreakerFailures is the number of consecutive failures that opens the
	// breaker. BreakerTimeout is how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the backend.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", baseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		base:    u,
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  opts.Logger.With("component", "backend"),
	}

	failures := opts.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsClientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c, nil
}

// BreakerState returns the current breaker state name.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// ResolveLocator turns a result locator into an absolute download URL.
// Absolute locators are returned unchanged.
func (c *Client) ResolveLocator(loc string) string {
	ref, err := url.Parse(loc)
	if err != nil || ref.IsAbs() {
		return loc
	}
	return c.base.ResolveReference(ref).String()
}

// DiscoverFields uploads a file and returns its columns.
func (c *Client) DiscoverFields(ctx context.Context, up Upload, progress ProgressFunc) (*Columns, error) {
	var out Columns
	if err := c.upload(ctx, "discover fields", pathGetColumns, up, progress, msgDiscover, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview requests a sample of the transformed output.
func (c *Client) Preview(ctx context.Context, req TransformRequest) (*Preview, error) {
	var out Preview
	if err := c.postJSON(ctx, "preview", pathPreviewFile, req, msgPreview, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartTransform starts the transform task and returns its id.
func (c *Client) StartTransform(ctx context.Context, req TransformRequest) (string, error) {
	return c.startTask(ctx, "start transform", pathProcessFile, req, msgProcess)
}

// TaskStatus queries a task. A task unknown to the backend comes back as an
// error carrying the backend's message.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	var out TaskStatus
	path := pathProgress + url.PathEscape(taskID)
	err := c.do(ctx, "task status", msgProgress, &out, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	}, true)
	return out, err
}

// MultiExportInitial uploads a file for category analysis and returns the
// analysis task id.
func (c *Client) MultiExportInitial(ctx context.Context, up Upload, progress ProgressFunc) (string, error) {
	var ref taskRef
	if err := c.upload(ctx, "multi-export upload", pathMultiExportInitial, up, progress, msgMultiExportUpload, &ref); err != nil {
		return "", err
	}
	return c.taskID("multi-export upload", ref, msgMultiExportUpload)
}

// MultiExportStart starts the per-item export task.
func (c *Client) MultiExportStart(ctx context.Context, req ExportRequest) (string, error) {
	return c.startTask(ctx, "start multi-export", pathMultiExportProcess, req, msgMultiExportStart)
}

// DedupDiscover uploads a CRM file and returns its columns.
func (c *Client) DedupDiscover(ctx context.Context, up Upload, progress ProgressFunc) (*DedupColumns, error) {
	var out DedupColumns
	if err := c.upload(ctx, "dedup discover", pathCRMGetColumns, up, progress, msgDedupDiscover, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DedupPreview requests a sample of unique emails and counters.
func (c *Client) DedupPreview(ctx context.Context, req DedupRequest) (*DedupPreview, error) {
	var out DedupPreview
	if err := c.postJSON(ctx, "dedup preview", pathCRMPreview, req, msgDedupPreview, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DedupStart starts the dedup task.
func (c *Client) DedupStart(ctx context.Context, req DedupRequest) (string, error) {
	return c.startTask(ctx, "start dedup", pathCRMProcess, req, msgDedupStart)
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) startTask(ctx context.Context, op, path string, body any, generic string) (string, error) {
	var ref taskRef
	if err := c.postJSON(ctx, op, path, body, generic, &ref); err != nil {
		return "", err
	}
	return c.taskID(op, ref, generic)
}

func (c *Client) taskID(op string, ref taskRef, generic string) (string, error) {
	if ref.TaskID == "" {
		return "", &APIError{Op: op, Message: generic, Err: errors.New("response has no task_id")}
	}
	return ref.TaskID, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, body any, generic string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &APIError{Op: op, Message: generic, Err: err}
	}
	return c.do(ctx, op, generic, out, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, true)
}

func (c *Client) upload(ctx context.Context, op, path string, up Upload, progress ProgressFunc, generic string, out any) error {
	return c.do(ctx, op, generic, out, func(ctx context.Context) (*http.Request, error) {
		body, contentType, err := multipartBody(up, progress)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), body)
		if err != nil {
			body.Close()
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, false)
}

// do runs one request through the breaker and decodes a 2xx JSON body
// into out.
func (c *Client) do(ctx context.Context, op, generic string, out any, build func(context.Context) (*http.Request, error), bounded bool) error {
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, op, generic, out, build)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &APIError{Op: op, Message: msgUnavailable, Err: ErrBackendUnavailable}
	}

	if err != nil {
		detail := err.Error()
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			detail = apiErr.Detail()
		}
		c.logger.Warn("backend call failed",
			"op", op,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", detail,
		)
		return err
	}

	c.logger.Debug("backend call",
		"op", op,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, generic string, out any, build func(context.Context) (*http.Request, error)) error {
	req, err := build(ctx)
	if err != nil {
		return &APIError{Op: op, Message: generic, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &APIError{Op: op, Message: msgNetwork, Err: ctx.Err()}
		}
		return &APIError{Op: op, Message: msgNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &APIError{Op: op, Status: resp.StatusCode, Message: msgNetwork, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Op:      op,
			Status:  resp.StatusCode,
			Message: serverMessage(data, generic),
			Err:     fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Op: op, Status: resp.StatusCode, Message: msgMalformed, Err: err}
	}
	return nil
}

// serverMessage extracts the "error" text from a failure body.
func serverMessage(body []byte, generic string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || strings.TrimSpace(payload.Error) == "" {
		return generic
	}
	return payload.Error
}
