package testutil

import (
	"errors"
	"net/http"
	"path/filepath"
	"testing"
)

func TestAssertStatusCode_FailurePath(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)

	ok := t.Run("status mismatch", func(t *testing.T) {
		AssertStatusCode(t, http.StatusOK, http.StatusBadRequest)
	})
	if ok {
		t.Fatal("expected subtest to fail on mismatched status code")
	}
}

func TestAssertNoError_FailurePath(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)

	ok := t.Run("unexpected error", func(t *testing.T) {
		AssertNoError(t, errors.New("boom"))
	})
	if ok {
		t.Fatal("expected subtest to fail when error is non-nil")
	}
}

func TestGetAndDecode(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	})
	rec := Get(t, h, "/api/runs")
	AssertStatusCode(t, rec.Code, http.StatusOK)

	var body map[string]string
	DecodeJSON(t, rec, &body)
	if body["path"] != "/api/runs" {
		t.Errorf("path = %q, want /api/runs", body["path"])
	}
}

func TestTempDBPath(t *testing.T) {
	t.Parallel()

	p := TempDBPath(t)
	if filepath.Base(p) != "laneguard.db" {
		t.Errorf("base = %q", filepath.Base(p))
	}
}
