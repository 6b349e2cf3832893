package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/device"
)

type createCommandRequest struct {
	DeviceID string          `json:"device_id"`
	Command  string          `json:"command"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// createCommandResponse reports whether the command reached the device's
// connection. Undelivered commands stay pending.
type createCommandResponse struct {
	Command   *command.Command `json:"command"`
	Delivered bool             `json:"delivered"`
}

// handleListCommands returns commands, newest first.
//
// Query parameters:
//   - device_id: filter by device
//   - status: filter by pending, completed or failed
//   - limit, offset: paging
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := command.Filter{DeviceID: q.Get("device_id")}

	if status := q.Get("status"); status != "" {
		filter.Status = command.Status(status)
		if !filter.Status.Valid() {
			writeBadRequest(w, "status must be pending, completed or failed")
			return
		}
	}

	var ok bool
	if filter.Limit, filter.Offset, ok = parsePaging(w, r); !ok {
		return
	}

	commands, err := s.commands.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list commands failed", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}

// handleGetCommand returns a single command.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "invalid command id")
		return
	}

	c, err := s.commands.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, command.ErrCommandNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		s.logger.Error("get command failed", "error", err)
		writeInternalError(w, "failed to get command")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCreateCommand stores a command and forwards it to the device.
func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	var req createCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, delivered, err := s.hub.DispatchCommand(r.Context(), command.CreateRequest{
		DeviceID:  req.DeviceID,
		Command:   req.Command,
		Payload:   req.Payload,
		CreatedBy: callerID(r.Context()),
	})
	if err != nil {
		switch {
		case errors.Is(err, command.ErrInvalidCommand):
			writeValidationError(w, err.Error())
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		default:
			s.logger.Error("dispatch command failed", "error", err)
			writeInternalError(w, "failed to create command")
		}
		return
	}

	writeJSON(w, http.StatusCreated, createCommandResponse{Command: cmd, Delivered: delivered})
}

// parsePaging reads limit and offset. It writes a 400 and returns false on
// malformed values; range clamping is left to the repositories.
func parsePaging(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return 0, 0, false
		}
		*p.dst = n
	}
	return limit, offset, true
}
