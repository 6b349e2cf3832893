package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relayhub/internal/activity"
	"github.com/nerrad567/relayhub/internal/device"
)

// Registration code lifetimes.
const (
	defaultCodeTTL = time.Hour
	maxCodeTTL     = 7 * 24 * time.Hour
)

// ─── Request/Response Types ────────────────────────────────────────

type createDeviceRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type registerDeviceRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"device_id,omitempty"`
}

// deviceTokenResponse carries a device and the token it presents in AUTH.
type deviceTokenResponse struct {
	Device *device.Device `json:"device,omitempty"`
	Token  string         `json:"token"`
}

type createCodeRequest struct {
	DeviceName string `json:"device_name"`
	TTLMinutes int    `json:"ttl_minutes,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListDevices returns all devices.
//
// Query parameters:
//   - status: filter by online or offline
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var filter device.ListFilter
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = device.Status(status)
		if !filter.Status.Valid() {
			writeBadRequest(w, "status must be online or offline")
			return
		}
	}

	devices, err := s.devices.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by its device id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetByDeviceID(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("get device failed", "error", err)
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleCreateDevice registers a device directly, without a registration code.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = device.GenerateDeviceID()
	}

	d := &device.Device{DeviceID: req.DeviceID, Name: req.Name}
	if err := s.devices.Create(r.Context(), d); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice):
			writeValidationError(w, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device already exists")
		default:
			s.logger.Error("create device failed", "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	s.recordActivity(&activity.Activity{
		DeviceID:     d.DeviceID,
		ActivityType: activity.TypeDeviceRegistered,
		Description:  "Device registered",
		Details:      actorDetails(r, nil),
	})
	s.logger.Info("device created", "device_id", d.DeviceID)
	writeJSON(w, http.StatusCreated, d)
}

// handleDeleteDevice removes a device and drops its live connection.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	if err := s.hub.RemoveDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("delete device failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIssueDeviceToken issues a fresh token for an existing device.
func (s *Server) handleIssueDeviceToken(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetByDeviceID(r.Context(), chi.URLParam(r, "deviceId"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("get device failed", "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	token, err := s.tokens.IssueDeviceToken(d.DeviceID)
	if err != nil {
		s.logger.Error("issuing device token failed", "error", err)
		writeInternalError(w, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, deviceTokenResponse{Device: d, Token: token})
}

// handleRegisterDevice redeems a registration code. It is unauthenticated;
// the single-use code is the credential.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	d, err := s.devices.Redeem(r.Context(), req.Code, req.DeviceID)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrCodeNotFound):
			writeNotFound(w, "registration code not found")
		case errors.Is(err, device.ErrCodeUsed), errors.Is(err, device.ErrCodeExpired):
			writeGone(w, err.Error())
		case errors.Is(err, device.ErrInvalidDevice):
			writeValidationError(w, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device already exists")
		default:
			s.logger.Error("device registration failed", "error", err)
			writeInternalError(w, "failed to register device")
		}
		return
	}

	token, err := s.tokens.IssueDeviceToken(d.DeviceID)
	if err != nil {
		s.logger.Error("issuing device token failed", "error", err)
		writeInternalError(w, "failed to issue token")
		return
	}

	s.recordActivity(&activity.Activity{
		DeviceID:     d.DeviceID,
		ActivityType: activity.TypeDeviceRegistered,
		Description:  "Device enrolled with a registration code",
		Details:      map[string]any{"remote_addr": r.RemoteAddr},
	})
	s.logger.Info("device enrolled", "device_id", d.DeviceID)
	writeJSON(w, http.StatusCreated, deviceTokenResponse{Device: d, Token: token})
}

// handleCreateRegistrationCode issues a one-time enrolment code.
func (s *Server) handleCreateRegistrationCode(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ttl := defaultCodeTTL
	if req.TTLMinutes != 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	if ttl <= 0 || ttl > maxCodeTTL {
		writeValidationError(w, fmt.Sprintf("ttl_minutes must be between 1 and %d", int(maxCodeTTL.Minutes())))
		return
	}

	code := &device.RegistrationCode{
		DeviceName: req.DeviceName,
		CreatedBy:  callerID(r.Context()),
		ExpiresAt:  time.Now().Add(ttl),
	}
	if err := s.devices.CreateRegistrationCode(r.Context(), code); err != nil {
		s.logger.Error("create registration code failed", "error", err)
		writeInternalError(w, "failed to create registration code")
		return
	}

	s.recordActivity(&activity.Activity{
		ActivityType: activity.TypeRegistrationCodeCreated,
		Description:  "Registration code created",
		Details:      actorDetails(r, map[string]any{"device_name": code.DeviceName}),
	})
	writeJSON(w, http.StatusCreated, code)
}
