package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"batchbridge/internal/apperrors"
	"batchbridge/internal/health"
	"batchbridge/internal/job"
	"batchbridge/internal/observability"
)

// fakeBackend scripts responses per method.
type fakeBackend struct {
	submitHandle *job.Handle
	submitErr    error
	pollReport   job.StatusReport
	pollErr      error
	killErr      error
	statusReport job.StatusReport
	statusErr    error
	jobs         []job.StatusReport

	lastSpec *job.Spec
}

func (f *fakeBackend) Submit(ctx context.Context, spec *job.Spec) (*job.Handle, error) {
	f.lastSpec = spec
	return f.submitHandle, f.submitErr
}

func (f *fakeBackend) Poll(ctx context.Context, jobID string) (job.StatusReport, error) {
	return f.pollReport, f.pollErr
}

func (f *fakeBackend) Kill(ctx context.Context, jobID string) error { return f.killErr }

func (f *fakeBackend) Status(jobID string) (job.StatusReport, error) {
	return f.statusReport, f.statusErr
}

func (f *fakeBackend) List() []job.StatusReport { return f.jobs }

func (f *fakeBackend) Ready(ctx context.Context) error { return nil }

func newTestRouter(backend *fakeBackend, apiKey string) http.Handler {
	return NewRouter(RouterConfig{
		Handler: NewHandler(backend, health.NewChecker(backend)),
		APIKey:  apiKey,
	})
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		submitHandle: &job.Handle{ID: "j1", ExternalID: "12345", Status: job.StatusSubmitted},
	}
	router := newTestRouter(backend, "")

	body := `{"name": "j1", "script": "/run.sh", "attributes": {"memory": 32000}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var handle job.Handle
	if err := json.NewDecoder(w.Body).Decode(&handle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if handle.ID != "j1" || handle.ExternalID != "12345" || handle.Status != job.StatusSubmitted {
		t.Errorf("handle = %+v", handle)
	}
	if backend.lastSpec == nil || backend.lastSpec.Name != "j1" {
		t.Errorf("backend received spec %+v", backend.lastSpec)
	}
}

func TestSubmitJob_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", apperrors.Validation("name", "job name is required"), http.StatusBadRequest},
		{"conflict", apperrors.Conflict("job", "j1", "job already exists"), http.StatusConflict},
		{"submission", apperrors.Submission("j1", errors.New("exit 1")), http.StatusBadGateway},
		{"timeout", apperrors.Submission("j1", apperrors.TimedOut("submit")), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := newTestRouter(&fakeBackend{submitErr: tt.err}, "")

			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"name":"j1","script":"/run.sh"}`))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestSubmitJob_InvalidBody(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeBackend{}, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmitJob_WrongContentType(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeBackend{}, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`name: j1`))
	req.Header.Set("Content-Type", "text/yaml")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", w.Code)
	}
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	code := 0
	backend := &fakeBackend{
		statusReport: job.StatusReport{ID: "j1", ExternalID: "12345", Status: job.StatusSucceeded, ExitCode: &code},
	}
	router := newTestRouter(backend, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/j1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var report job.StatusReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != job.StatusSucceeded || report.ExitCode == nil || *report.ExitCode != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeBackend{statusErr: apperrors.NotFound("job", "ghost")}, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPollJob(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		pollReport: job.StatusReport{ID: "j1", ExternalID: "12345", Status: job.StatusRunning},
	}
	router := newTestRouter(backend, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/j1/poll", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var report job.StatusReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != job.StatusRunning {
		t.Errorf("status = %s, want running", report.Status)
	}
}

func TestPollJob_PollError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		pollErr: apperrors.PollFailed("j1", apperrors.TimedOut("check-alive")),
	}
	router := newTestRouter(backend, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/j1/poll", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeBackend{}, "")

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/j1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestDeleteJob_KillError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{killErr: apperrors.KillFailed("j1", errors.New("exit 1"))}
	router := newTestRouter(backend, "")

	req := httptest.NewRequest(http.MethodDelete, "/v1/jobs/j1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{jobs: []job.StatusReport{
		{ID: "j1", Status: job.StatusRunning},
		{ID: "j2", Status: job.StatusSucceeded},
	}}
	router := newTestRouter(backend, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list job.ListReport
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Jobs) != 2 {
		t.Errorf("listed %d jobs, want 2", len(list.Jobs))
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeBackend{jobs: []job.StatusReport{}}, "secret-key")

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"malformed header", "secret-key", http.StatusUnauthorized},
		{"valid token", "Bearer secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeBackend{}, "secret-key")

	for _, path := range []string{"/livez", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200 without auth", path, w.Code)
		}
	}
}

func TestReadyz_ShuttingDown(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	checker := health.NewChecker(backend)
	router := NewRouter(RouterConfig{Handler: NewHandler(backend, checker)})

	checker.SetShuttingDown()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 while shutting down", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := RecoveryMiddleware(panicky)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestMetricsMiddleware_RecordsWithRealMetrics(t *testing.T) {
	t.Parallel()

	metrics, _, err := observability.NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	backend := &fakeBackend{jobs: []job.StatusReport{}}
	router := NewRouter(RouterConfig{
		Handler: NewHandler(backend, health.NewChecker(backend)),
		Metrics: metrics,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 through the metrics middleware", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&fakeBackend{}, "")

	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
