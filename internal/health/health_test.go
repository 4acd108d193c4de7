package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ready(_ context.Context) error { return nil }

func broken(msg string) Check {
	return func(_ context.Context) error { return errors.New(msg) }
}

func readyz(t *testing.T, h *Handler) (int, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
}

func TestReadyz_AllProbesPass(t *testing.T) {
	h := New()
	h.Add("prompts", ready)
	h.Add("providers", ready)
	h.Add("routes", ready)

	code, body := readyz(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q", body.Status)
	}
	for _, name := range []string{"prompts", "providers", "routes"} {
		if body.Checks[name] != "ok" {
			t.Errorf("check %s = %q, want ok", name, body.Checks[name])
		}
	}
}

func TestReadyz_BrokenDependency(t *testing.T) {
	h := New()
	h.Add("prompts", ready)
	h.Add("providers", broken("no drivers registered"))

	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Status != "unavailable" {
		t.Errorf("status field = %q", body.Status)
	}
	if body.Checks["providers"] != "no drivers registered" {
		t.Errorf("providers check = %q", body.Checks["providers"])
	}
	// A broken probe does not hide the healthy ones.
	if body.Checks["prompts"] != "ok" {
		t.Errorf("prompts check = %q, want ok", body.Checks["prompts"])
	}
}

func TestReadyz_NamesEveryBrokenDependency(t *testing.T) {
	h := New()
	h.Add("prompts", broken("directory empty"))
	h.Add("embedding-models", broken("no default model"))

	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Checks["prompts"] != "directory empty" {
		t.Errorf("prompts check = %q", body.Checks["prompts"])
	}
	if body.Checks["embedding-models"] != "no default model" {
		t.Errorf("embedding-models check = %q", body.Checks["embedding-models"])
	}
}

func TestReadyz_NoProbes(t *testing.T) {
	code, body := readyz(t, New())
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q", body.Status)
	}
}

func TestAdd_ReplacesProbeKeepingPosition(t *testing.T) {
	h := New()
	h.Add("providers", broken("not yet configured"))
	h.Add("providers", ready)

	code, body := readyz(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200 after replacement", code)
	}
	if len(body.Checks) != 1 {
		t.Errorf("checks = %v, want single entry", body.Checks)
	}
}

func TestReadyz_ProbeSeesCancelledRequestContext(t *testing.T) {
	h := New()
	h.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
