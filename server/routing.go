package server

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/wakeup/compose"
	"github.com/teranos/wakeup/dispatch"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
)

// requestIDHeader carries the correlation id of a request
const requestIDHeader = "X-Request-ID"

// Webhook paths registered with the provider
const (
	StatusCallbackPath = "/calls/status/"
	InboundCallPath    = "/calls/inbound/"
	TextReplyPath      = "/sms/reply/"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// provider webhooks
	mux.HandleFunc("POST "+dispatch.VoicePath+"{id}", s.handleVoiceScript)
	mux.HandleFunc("POST "+compose.VoiceInputPath+"{$}", s.handleVoiceInput)
	mux.HandleFunc("POST "+StatusCallbackPath+"{$}", s.handleStatusCallback)
	mux.HandleFunc("POST "+InboundCallPath+"{$}", s.handleInboundCall)
	mux.HandleFunc("POST "+TextReplyPath+"{$}", s.handleTextReply)

	// call API
	mux.HandleFunc("POST /api/calls", s.handleCreateCall)
	mux.HandleFunc("GET /api/calls", s.handleListCalls)
	mux.HandleFunc("GET /api/calls/{id}", s.handleGetCall)
	mux.HandleFunc("POST /api/calls/{id}/cancel", s.handleCancelCall)
	mux.HandleFunc("POST /api/calls/{id}/reschedule", s.handleRescheduleCall)
	mux.HandleFunc("POST /api/calls/{id}/channel", s.handleChangeChannel)
	mux.HandleFunc("GET /api/calls/{id}/logs", s.handleCallLogs)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /ws/executions", s.deps.Hub.ServeWS)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return s.withRequestID(s.withLogging(s.withRecover(mux)))
}

// withRequestID attaches a request id to the context and the response
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.FromContext(r.Context(), s.logger).Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				err := errors.Newf("handler panicked: %v", p)
				writeError(w, logger.FromContext(r.Context(), s.logger), err)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the response status for the request log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the middleware
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
