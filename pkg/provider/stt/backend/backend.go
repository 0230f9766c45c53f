// Package backend provides an stt.Transcriber that uploads recordings to the
// application's own transcription endpoint.
//
// The endpoint accepts a multipart/form-data POST with the recording in the
// "file" field, authenticated with a bearer token, and answers with
// {"text": "..."} on success or {"error": "..."} on failure.
//
// Usage:
//
//	t, err := backend.New("http://localhost:3000",
//	    backend.WithTokenSource(backend.StaticToken(tok)),
//	)
//	tr, err := t.Transcribe(ctx, stt.Upload{Filename: "recording.wav", ContentType: "audio/wav", Data: wav})
package backend

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
	"strings"
	"time"

	"github.com/voxmemo/voxmemo/pkg/provider/stt"
)

const (
	// DefaultPath is the transcription route on the application server.
	DefaultPath = "/api/transcribe"

	defaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("backend: server returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap yields [stt.ErrRejected] for statuses that reject the upload itself.
func (e *StatusError) Unwrap() error {
	if stt.RejectedStatus(e.StatusCode) {
		return stt.ErrRejected
	}
	return nil
}

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithPath overrides the endpoint path. Defaults to [DefaultPath].
func WithPath(path string) Option {
	return func(t *Transcriber) {
		if path != "" {
			t.path = "/" + strings.TrimPrefix(path, "/")
		}
	}
}

// WithTokenSource sets where the bearer token comes from. Without one no
// Authorization header is sent.
func WithTokenSource(ts TokenSource) Option {
	return func(t *Transcriber) { t.tokens = ts }
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) {
		if d > 0 {
			t.httpClient = &http.Client{Timeout: d}
		}
	}
}

// Transcriber posts recordings to the application transcription endpoint.
type Transcriber struct {
	baseURL    string
	path       string
	tokens     TokenSource
	httpClient *http.Client
}

// New returns a Transcriber for the server at baseURL. baseURL must be
// non-empty.
func New(baseURL string, opts ...Option) (*Transcriber, error) {
	if baseURL == "" {
		return nil, errors.New("backend: baseURL must not be empty")
	}
	t := &Transcriber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultPath,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Endpoint returns the full URL requests are sent to.
func (t *Transcriber) Endpoint() string { return t.baseURL + t.path }

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, u stt.Upload) (stt.Transcript, error) {
	if len(u.Data) == 0 {
		return stt.Transcript{}, stt.ErrEmptyUpload
	}
	start := time.Now()

	body, contentType, err := buildForm(u)
	if err != nil {
		return stt.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint(), body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if t.tokens != nil {
		tok, err := t.tokens.Token(ctx)
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("backend: token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("backend: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stt.Transcript{}, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return stt.Transcript{}, fmt.Errorf("backend: parse JSON response: %w", err)
	}
	return stt.Transcript{
		Text:     result.Text,
		Language: result.Language,
		Provider: "backend",
		Latency:  time.Since(start),
	}, nil
}

func buildForm(u stt.Upload) (io.Reader, string, error) {
	filename := u.Filename
	if filename == "" {
		filename = "recording.wav"
	}
	ctype := u.ContentType
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", ctype)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("backend: create form file: %w", err)
	}
	if _, err := fw.Write(u.Data); err != nil {
		return nil, "", fmt.Errorf("backend: write audio: %w", err)
	}
	if u.Language != "" {
		if err := mw.WriteField("language", u.Language); err != nil {
			return nil, "", fmt.Errorf("backend: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("backend: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// errorMessage extracts a message from an {"error": ...} or
// {"detail": ...} body, falling back to the trimmed text.
func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return strings.TrimSpace(string(data))
}
