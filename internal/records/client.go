package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/internal/tenancy"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

const defaultTimeout = 15 * time.Second

var recordsTracer = otel.Tracer("dentalogic.internal.records")

// ErrNotFound is returned when the records service has no such entity.
var ErrNotFound = errors.New("records: not found")

// Client talks to the clinic records service: professionals, treatment
// types and appointments. Requests carry the caller's bearer token and
// tenant, both taken from the context.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewClient constructs a records client.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	ctx, span := recordsTracer.Start(ctx, "records "+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	endpoint := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s, ok := session.FromContext(ctx); ok && s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	if tenantID, ok := tenancy.TenantIDFromContext(ctx); ok {
		req.Header.Set("X-Tenant-Id", tenantID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := errorDetail(respBody)
		c.logger.Warn("records API non-2xx response", "status", resp.StatusCode, "path", path, "detail", detail)
		switch {
		case resp.StatusCode == http.StatusConflict:
			return &bookings.StoreConflict{Detail: detail}
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, detail)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return &bookings.UpstreamRejection{Status: resp.StatusCode, Detail: detail}
		default:
			return fmt.Errorf("records API returned %d: %s", resp.StatusCode, detail)
		}
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

const maxDetailBytes = 300

// errorDetail extracts the human-readable message from an error body of
// the form {"detail": "..."} or {"error": "..."}, falling back to the raw
// text.
func errorDetail(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Detail) > 0 {
			var s string
			if json.Unmarshal(payload.Detail, &s) == nil {
				return s
			}
			return string(payload.Detail)
		}
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxDetailBytes {
		cut := maxDetailBytes
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
