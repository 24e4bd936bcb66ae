package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"zigbee-energy-gateway/internal/gateway"
	"zigbee-energy-gateway/internal/store"
	"zigbee-energy-gateway/internal/wire"
)

const maxBodyBytes = 1 << 20

// pathIEEE normalizes the {ieee} path value, answering 400 when it is malformed.
func (s *Server) pathIEEE(w http.ResponseWriter, r *http.Request) (string, bool) {
	ieee, err := wire.NormalizeIEEE(r.PathValue("ieee"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ieee address"})
		return "", false
	}
	return ieee, true
}

// writeStoreError maps store lookups to 404 and everything else to 500.
func (s *Server) writeStoreError(w http.ResponseWriter, op, ieee string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.logger.Error(op, "err", err, "ieee", ieee)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.gw.Devices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if devices == nil {
		devices = []*store.Device{}
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	ieee, ok := s.pathIEEE(w, r)
	if !ok {
		return
	}
	dev, err := s.gw.Device(ieee)
	if err != nil {
		s.writeStoreError(w, "get device", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAPIUpdateDevice(w http.ResponseWriter, r *http.Request) {
	ieee, ok := s.pathIEEE(w, r)
	if !ok {
		return
	}

	var req gateway.DeviceUpdate
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Model != nil && *req.Model != "" && s.gw.Definition(*req.Model) == nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown model"})
		return
	}

	dev, err := s.gw.UpdateDevice(ieee, req)
	if err != nil {
		s.writeStoreError(w, "update device", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ieee, ok := s.pathIEEE(w, r)
	if !ok {
		return
	}
	if err := s.gw.RemoveDevice(ieee); err != nil {
		s.writeStoreError(w, "delete device", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIDeviceState(w http.ResponseWriter, r *http.Request) {
	ieee, ok := s.pathIEEE(w, r)
	if !ok {
		return
	}
	state, err := s.gw.State(ieee)
	if err != nil {
		s.writeStoreError(w, "device state", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAPIListDefinitions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gw.Definitions())
}

type optionView struct {
	Key   string `json:"key"`
	Field string `json:"field"`
	Kind  string `json:"kind"`
	Mode  string `json:"mode,omitempty"`
}

func (s *Server) handleAPIDefinitionOptions(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	opts, err := s.gw.ConverterOptions(model)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown model"})
		return
	}
	views := make([]optionView, 0, len(opts))
	for _, o := range opts {
		views = append(views, optionView{Key: o.Key(), Field: o.Field, Kind: string(o.Kind), Mode: string(o.Mode)})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.parser.Registry().All())
}

// handleAPIPostMessage accepts one attribute message, as published by the
// transport, and answers with the decoded reading.
func (s *Server) handleAPIPostMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	msg, err := s.parser.Parse(body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	reading, err := s.gw.HandleMessage(msg)
	switch {
	case errors.Is(err, gateway.ErrDuplicate):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "duplicate message"})
		return
	case errors.Is(err, gateway.ErrUnknownModel):
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("handle message", "err", err, "ieee", msg.IEEE)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if reading == nil {
		reading = map[string]any{}
	}
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
