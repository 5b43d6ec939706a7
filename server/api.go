package server

import (
	"net/http"
	"time"

	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
	"github.com/teranos/wakeup/wakeup"
)

type createCallRequest struct {
	OwnerID       string    `json:"owner_id" validate:"required,max=64"`
	ScheduledTime time.Time `json:"scheduled_time" validate:"required"`
	Destination   string    `json:"destination" validate:"required,max=20"`
	Channel       string    `json:"channel" validate:"omitempty,oneof=call sms"`
	Region        string    `json:"region" validate:"omitempty,max=16"`
	IsSimulated   bool      `json:"is_simulated"`
}

type rescheduleRequest struct {
	ScheduledTime time.Time `json:"scheduled_time" validate:"required"`
}

type channelRequest struct {
	Channel string `json:"channel" validate:"required,oneof=call sms"`
}

// statsResponse is the body of GET /api/stats
type statsResponse struct {
	Calls     map[wakeup.Status]int `json:"calls"`
	Workers   interface{}           `json:"workers,omitempty"`
	Scheduler interface{}           `json:"scheduler,omitempty"`
	Clients   int                   `json:"stream_clients"`
}

// decode reads and validates a JSON body, writing the error response on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	log := logger.FromContext(r.Context(), s.logger)
	if err := readJSON(w, r, v); err != nil {
		writeError(w, log, err)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, log, errors.NewValidationError("validation error: %s", err.Error()))
		return false
	}
	return true
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if !s.decode(w, r, &req) {
		return
	}
	call, err := s.deps.Service.Create(r.Context(), wakeup.CreateRequest{
		OwnerID:       req.OwnerID,
		ScheduledTime: req.ScheduledTime,
		Destination:   req.Destination,
		Channel:       wakeup.Channel(req.Channel),
		Region:        req.Region,
		IsSimulated:   req.IsSimulated,
	})
	if err != nil {
		writeError(w, logger.FromContext(r.Context(), s.logger), err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, s.logger, errors.NewValidationError("owner query parameter is required"))
		return
	}
	calls, err := s.deps.Service.ListByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, logger.FromContext(r.Context(), s.logger), err)
		return
	}
	if calls == nil {
		calls = []*wakeup.Call{}
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.deps.Service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, logger.FromContext(r.Context(), s.logger), err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleCancelCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mutate(w, r, id, func() error { return s.deps.Service.Cancel(r.Context(), id) })
}

func (s *Server) handleRescheduleCall(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	s.mutate(w, r, id, func() error { return s.deps.Service.Reschedule(r.Context(), id, req.ScheduledTime) })
}

func (s *Server) handleChangeChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	s.mutate(w, r, id, func() error { return s.deps.Service.ChangeChannel(r.Context(), id, wakeup.Channel(req.Channel)) })
}

// mutate applies op and responds with the updated call
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, id string, op func() error) {
	log := logger.FromContext(logger.WithCallID(r.Context(), id), s.logger)
	if err := op(); err != nil {
		writeError(w, log, err)
		return
	}
	call, err := s.deps.Service.Get(r.Context(), id)
	if err != nil {
		writeError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) handleCallLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := logger.FromContext(r.Context(), s.logger)
	if _, err := s.deps.Service.Get(r.Context(), id); err != nil {
		writeError(w, log, err)
		return
	}
	entries, err := s.deps.Logs.ListByCall(r.Context(), id)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if entries == nil {
		entries = []*wakeup.CallLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Calls.CountByStatus(r.Context())
	if err != nil {
		writeError(w, logger.FromContext(r.Context(), s.logger), err)
		return
	}
	resp := statsResponse{Calls: counts, Clients: s.deps.Hub.ClientCount()}
	if s.deps.Pool != nil {
		resp.Workers = s.deps.Pool.Stats()
	}
	if s.deps.Scheduler != nil {
		resp.Scheduler = s.deps.Scheduler.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
