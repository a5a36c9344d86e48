package router

import (
	"net/http"

	"Mansoor88-6/activity-agent/internal/handler"
	"Mansoor88-6/activity-agent/internal/metrics"

	"go.uber.org/zap"
)

// New returns the loopback API: agent endpoints, health and prometheus metrics
func New(agentHandler *handler.AgentHandler, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", agentHandler.Health)
	mux.HandleFunc("/api/v1/status", agentHandler.Status)
	mux.HandleFunc("/api/v1/activity", agentHandler.Activity)
	mux.HandleFunc("/api/v1/break/start", agentHandler.StartBreak)
	mux.HandleFunc("/api/v1/break/stop", agentHandler.StopBreak)
	mux.HandleFunc("/api/v1/break/request", agentHandler.RequestBreak)
	mux.Handle("/metrics", metrics.Handler())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Activity pulses arrive several times a second
		if r.URL.Path != "/api/v1/activity" {
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
		}
		mux.ServeHTTP(w, r)
	})
}

// setCORSHeaders lets the desktop shell's renderer call the API
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}
