package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ascotlab/ascot-gateway/internal/device"
	"github.com/ascotlab/ascot-gateway/internal/dispatch"
)

// handleListDevices returns the registry snapshot, optionally filtered
// by health state (?health=fresh|stale|unreachable).
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.gateway.Devices()

	if filter := r.URL.Query().Get("health"); filter != "" {
		health, err := device.ParseHealthState(filter)
		if err != nil {
			writeBadRequest(w, "unrecognised health filter: "+filter)
			return
		}
		filtered := devices[:0]
		for _, d := range devices {
			if d.Health == health {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device record including its manifest.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, ok := s.gateway.Device(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice forgets a device on operator request. The device
// will reappear if it announces itself again.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.gateway.Remove(id) {
		writeNotFound(w, "device not found: "+id)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"removed": id})
}

// dispatchRequest is the body for POST /devices/{id}/actions/{action}.
type dispatchRequest struct {
	Args               map[string]any `json:"args,omitempty"`
	AcknowledgeHazards bool           `json:"acknowledge_hazards,omitempty"`
}

// handleDispatch validates and forwards one command to a device.
//
// Status mapping: unknown device or action → 404, bad arguments → 400,
// unresolved capabilities or unacknowledged hazards → 409 (the latter
// listing the hazards needing acknowledgment), device failure → 502.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")

	var body dispatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid request body: "+err.Error())
			return
		}
	}

	outcome, err := s.gateway.Dispatch(r.Context(), dispatch.Request{
		DeviceID:           id,
		Action:             action,
		Args:               body.Args,
		AcknowledgeHazards: body.AcknowledgeHazards,
	})
	if err != nil {
		s.writeDispatchError(w, outcome, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// writeDispatchError maps the dispatcher's typed errors onto HTTP
// statuses.
func (s *Server) writeDispatchError(w http.ResponseWriter, outcome *dispatch.Outcome, err error) {
	var invalidArg *dispatch.InvalidArgumentError

	switch {
	case errors.Is(err, dispatch.ErrUnknownDevice):
		writeNotFound(w, err.Error())

	case errors.Is(err, dispatch.ErrUnknownAction):
		writeNotFound(w, err.Error())

	case errors.As(err, &invalidArg):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, invalidArg.Error())

	case errors.Is(err, dispatch.ErrCapabilitiesUnknown):
		writeError(w, http.StatusConflict, ErrCodeCapsUnknown, err.Error())

	case errors.Is(err, dispatch.ErrHazardNotAcknowledged):
		resp := Error{
			Status:  http.StatusConflict,
			Code:    ErrCodeHazardUnacked,
			Message: err.Error(),
		}
		if outcome != nil {
			for _, h := range outcome.Hazards {
				resp.Hazards = append(resp.Hazards, string(h))
			}
		}
		writeJSON(w, http.StatusConflict, resp)

	case errors.Is(err, dispatch.ErrDeviceFailure):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceUpstream, err.Error())

	default:
		s.logger.Error("unexpected dispatch error", "error", err)
		writeInternalError(w, "dispatch failed")
	}
}
