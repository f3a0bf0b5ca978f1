package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

type CheckHttpHandler struct {
	checker Checker
}

func NewCheckHttpHandler(checker Checker) *CheckHttpHandler {
	return &CheckHttpHandler{
		checker: checker,
	}
}

func (h *CheckHttpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.checker.Check()
	if err == nil {
		log.Debug("Health check passed")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	log.Warnf("Health check failed: %v", err)
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, err := w.Write([]byte(err.Error())); err != nil {
		log.Errorf("Failed to write health check response: %v", err)
	}
}

// SetupHttpMux serves checker on /health.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle("/health", NewCheckHttpHandler(checker))
}
