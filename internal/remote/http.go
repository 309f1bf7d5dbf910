package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/config"
	"github.com/Gopher0727/PortalChat/internal/metrics"
	"github.com/Gopher0727/PortalChat/internal/model"
	logger "github.com/Gopher0727/PortalChat/middleware/log"
)

const tracerName = "portalchat/remote"

// maxResponseBytes bounds a single response body, attachments included.
const maxResponseBytes = 32 << 20

// HTTPClient implements API over the server's REST/JSON endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	tracer  trace.Tracer
	logger  *zap.Logger
}

type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client, e.g. with an
// httptest server's client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.client = c }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(h *HTTPClient) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHTTPClient(cfg *config.RemoteConfig, opts ...ClientOption) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPClient) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (gjson.Result, error) {
	ctx, span := h.tracer.Start(ctx, "remote."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)

	start := time.Now()
	res, err := h.roundTrip(ctx, op, method, path, body, contentType)
	metrics.ObserveRemote(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.FromZap(h.logger).WarnContext(ctx, "remote call failed", zap.String("op", op), zap.Error(err))
		return gjson.Result{}, err
	}
	return res, nil
}

func (h *HTTPClient) roundTrip(ctx context.Context, op, method, path string, body io.Reader, contentType string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if traceID := logger.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := h.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = gjson.GetBytes(data, "message").String()
		}
		return gjson.Result{}, &StatusError{Op: op, Code: resp.StatusCode, Message: msg}
	}
	return unwrap(data), nil
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (h *HTTPClient) FetchGroups(ctx context.Context) ([]model.Group, error) {
	res, err := h.do(ctx, "fetch_groups", http.MethodGet, "/groups", nil, "")
	if err != nil {
		return nil, err
	}
	return decodeGroups(res)
}

func (h *HTTPClient) FetchMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]model.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	path := "/groups/" + url.PathEscape(groupID) + "/messages?" + q.Encode()
	res, err := h.do(ctx, "fetch_messages", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	msgs, err := decodeMessages(res)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].GroupID == "" {
			msgs[i].GroupID = groupID
		}
	}
	return msgs, nil
}

type sendRequest struct {
	Content     string                `json:"content"`
	Attachments []model.AttachmentRef `json:"attachments,omitempty"`
}

func (h *HTTPClient) decodeSent(res gjson.Result, groupID string) (*model.Message, error) {
	m, err := decodeMessage(res)
	if err != nil {
		return nil, err
	}
	if m.GroupID == "" {
		m.GroupID = groupID
	}
	return &m, nil
}

func (h *HTTPClient) SendMessage(ctx context.Context, groupID, content string, attachments []model.AttachmentRef) (*model.Message, error) {
	body, err := jsonBody(sendRequest{Content: content, Attachments: attachments})
	if err != nil {
		return nil, err
	}
	res, err := h.do(ctx, "send_message", http.MethodPost, "/groups/"+url.PathEscape(groupID)+"/messages", body, "application/json")
	if err != nil {
		return nil, err
	}
	return h.decodeSent(res, groupID)
}

func (h *HTTPClient) SendMessageWithFiles(ctx context.Context, groupID, content string, files []model.PendingFile) (*model.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("content", content); err != nil {
		return nil, err
	}
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Filename))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		hdr.Set("Content-Type", ct)
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Payload); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	res, err := h.do(ctx, "send_message_files", http.MethodPost, "/groups/"+url.PathEscape(groupID)+"/messages/files", &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return h.decodeSent(res, groupID)
}

func (h *HTTPClient) DeleteMessage(ctx context.Context, id string) error {
	_, err := h.do(ctx, "delete_message", http.MethodDelete, "/messages/"+url.PathEscape(id), nil, "")
	return err
}

func (h *HTTPClient) FetchAttachment(ctx context.Context, id string) (*model.Attachment, error) {
	res, err := h.do(ctx, "fetch_attachment", http.MethodGet, "/attachments/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	return decodeAttachment(res, id)
}
