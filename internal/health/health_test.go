package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxmemo/voxmemo/internal/health"
)

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, h http.Handler, path string) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("%s: decode body: %v", path, err)
	}
	return rec.Code, body
}

func mux(checkers ...health.Checker) http.Handler {
	m := http.NewServeMux()
	health.New(checkers...).Register(m)
	return m
}

func ok(name string) health.Checker {
	return health.Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name string, optional bool) health.Checker {
	return health.Checker{
		Name:     name,
		Optional: optional,
		Check:    func(context.Context) error { return errors.New(name + " down") },
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	code, body := get(t, mux(failing("transcriber", false)), "/healthz")
	if code != http.StatusOK || body.Status != health.StatusOK {
		t.Errorf("healthz = %d %q, want 200 ok even with a failing check", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []health.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: health.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []health.Checker{ok("transcriber"), ok("microphone")},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusOK,
			wantChecks: map[string]string{"transcriber": "ok", "microphone": "ok"},
		},
		{
			name:       "analyzer missing degrades",
			checkers:   []health.Checker{ok("transcriber"), failing("analyzer", true)},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusDegraded,
			wantChecks: map[string]string{"transcriber": "ok", "analyzer": "degraded: analyzer down"},
		},
		{
			name:       "transcriber down fails",
			checkers:   []health.Checker{failing("transcriber", false), ok("microphone")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusFail,
			wantChecks: map[string]string{"transcriber": "fail: transcriber down", "microphone": "ok"},
		},
		{
			name:       "required failure outranks degraded",
			checkers:   []health.Checker{failing("transcriber", false), failing("analyzer", true)},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusFail,
			wantChecks: map[string]string{"transcriber": "fail: transcriber down", "analyzer": "degraded: analyzer down"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := get(t, mux(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for k, want := range tt.wantChecks {
				if got := body.Checks[k]; got != want {
					t.Errorf("checks[%s] = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := mux(health.Checker{Name: "a", Check: wait}, health.Checker{Name: "b", Check: wait})

	done := make(chan int, 1)
	go func() {
		code, _ := get(t, h, "/readyz")
		done <- code
	}()
	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("code = %d, want 200", code)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := health.New(health.Checker{
		Name:  "transcriber",
		Check: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}
