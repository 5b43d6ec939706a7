package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/teranos/wakeup/compose"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
)

// handleVoiceScript serves the wake-up script the provider plays on answer
func (s *Server) handleVoiceScript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := logger.WithCallID(r.Context(), id)
	log := logger.FromContext(ctx, s.logger)

	resp, err := s.deps.Scripts.Script(ctx, id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			log.Warnw("Voice script requested for unknown call")
			resp = compose.Final(compose.MsgCallNotFound)
		} else {
			log.Errorw("Failed to render voice script", logger.FieldError, err)
			resp = compose.Final(compose.MsgError)
		}
	}
	s.writeVoice(w, r, resp)
}

func (s *Server) handleVoiceInput(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	resp := s.deps.Interact.VoiceInput(r.Context(), r.PostForm.Get("CallSid"), strings.TrimSpace(r.PostForm.Get("Digits")))
	s.writeVoice(w, r, resp)
}

// handleStatusCallback accepts voice and messaging status callbacks
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	txID := firstOf(r.PostForm.Get("CallSid"), r.PostForm.Get("MessageSid"))
	status := firstOf(r.PostForm.Get("CallStatus"), r.PostForm.Get("MessageStatus"))
	s.deps.Interact.StatusCallback(r.Context(), txID, status, parseDuration(r.PostForm.Get("CallDuration")))
	writeTwiML(w, compose.EmptyTwiML())
}

func (s *Server) handleInboundCall(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	resp := s.deps.Interact.InboundCall(r.Context(),
		r.PostForm.Get("CallSid"), r.PostForm.Get("From"), r.PostForm.Get("To"))
	s.writeVoice(w, r, resp)
}

// handleTextReply answers an inbound text. The reply goes out through the
// provider so the webhook itself returns empty TwiML.
func (s *Server) handleTextReply(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	s.deps.Interact.TextReply(r.Context(), r.PostForm.Get("From"), r.PostForm.Get("Body"))
	writeTwiML(w, compose.EmptyTwiML())
}

// parseForm reads the webhook form. A malformed body still gets a 200 so the
// provider does not retry.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		logger.FromContext(r.Context(), s.logger).Warnw("Malformed webhook body",
			logger.FieldPath, r.URL.Path, logger.FieldError, err)
		writeTwiML(w, compose.EmptyTwiML())
		return false
	}
	return true
}

func (s *Server) writeVoice(w http.ResponseWriter, r *http.Request, resp compose.VoiceResponse) {
	body, err := resp.TwiML()
	if err != nil {
		logger.FromContext(r.Context(), s.logger).Errorw("Failed to encode TwiML", logger.FieldError, err)
		body = compose.EmptyTwiML()
	}
	writeTwiML(w, body)
}

// parseDuration returns nil for a missing or malformed duration
func parseDuration(v string) *int {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
