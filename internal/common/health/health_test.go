package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMultiChecker(t *testing.T) {
	healthy := CheckerFunc(func() error { return nil })
	assert.NoError(t, NewMultiChecker().Check())
	assert.NoError(t, NewMultiChecker(healthy).Check())

	mc := NewMultiChecker(healthy, CheckerFunc(func() error { return errors.New("redis down") }))
	mc.Add(CheckerFunc(func() error { return errors.New("state not loaded") }))
	err := mc.Check()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Contains(t, err.Error(), "state not loaded")
}

func TestReadyChecker(t *testing.T) {
	c := NewReadyChecker("reconciler")
	assert.EqualError(t, c.Check(), "reconciler is not ready")
	c.MarkReady()
	assert.NoError(t, c.Check())
}

func TestHttpHandler(t *testing.T) {
	ready := NewReadyChecker("reconciler")
	mux := http.NewServeMux()
	SetupHttpMux(mux, ready)

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "reconciler is not ready", recorder.Body.String())

	ready.MarkReady()
	recorder = httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, recorder.Code)
}
