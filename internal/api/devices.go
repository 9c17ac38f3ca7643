package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
)

// maxPermitSeconds is the longest join window the radio accepts.
const maxPermitSeconds = 254

// deviceListResponse is the response body for GET /devices.
type deviceListResponse struct {
	Devices []mesh.DeviceInfo `json:"devices"`
	Count   int               `json:"count"`
}

// handleListDevices returns every registered device in registration order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.mesh.Devices()
	writeJSON(w, http.StatusOK, deviceListResponse{Devices: devices, Count: len(devices)})
}

// handleGetDevice returns one device by identity.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ieee, err := mesh.ParseEUI64(chi.URLParam(r, "ieee"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	info, err := s.mesh.GetDevice(mesh.DeviceSelector{IEEE: &ieee})
	if err != nil {
		writeMeshError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleGetDeviceByNWK returns the device currently holding a short address.
func (s *Server) handleGetDeviceByNWK(w http.ResponseWriter, r *http.Request) {
	nwk, err := mesh.ParseNWK(chi.URLParam(r, "nwk"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	info, err := s.mesh.GetDevice(mesh.DeviceSelector{NWK: &nwk})
	if err != nil {
		writeMeshError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleRemoveDevice removes a device from the registry and evicts it from
// the network. A failed eviction is reported as 502; the registry entry is
// gone either way.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	ieee, err := mesh.ParseEUI64(chi.URLParam(r, "ieee"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if _, err := s.mesh.GetDevice(mesh.DeviceSelector{IEEE: &ieee}); err != nil {
		writeMeshError(w, err)
		return
	}

	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	s.logger.Info("device removal requested", "ieee", ieee.String(), "by", subject)

	if err := s.mesh.Remove(r.Context(), ieee); err != nil {
		s.logger.Warn("device removed from registry but eviction failed", "ieee", ieee.String(), "error", err)
		writeMeshError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// networkResponse is the response body for GET /network.
type networkResponse struct {
	IEEE           *mesh.EUI64 `json:"ieee"`
	NWK            *mesh.NWK   `json:"nwk"`
	AddressingRoot bool        `json:"addressing_root"`
	Devices        int         `json:"devices"`
}

// handleGetNetwork returns the controller's own addresses.
func (s *Server) handleGetNetwork(w http.ResponseWriter, _ *http.Request) {
	resp := networkResponse{
		AddressingRoot: s.mesh.IsAddressingRoot(),
		Devices:        s.mesh.DeviceCount(),
	}
	if ieee, ok := s.mesh.LocalIEEE(); ok {
		resp.IEEE = &ieee
	}
	if nwk, ok := s.mesh.LocalNWK(); ok {
		resp.NWK = &nwk
	}
	writeJSON(w, http.StatusOK, resp)
}

// permitRequest is the request body for POST /network/permit.
// Node and InstallCode are given together to admit a single device.
type permitRequest struct {
	DurationSeconds *int   `json:"duration_seconds"`
	Node            string `json:"node,omitempty"`
	InstallCode     string `json:"install_code,omitempty"`
}

// handlePermit opens the network for joining. A zero duration closes it.
func (s *Server) handlePermit(w http.ResponseWriter, r *http.Request) {
	var req permitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	duration := s.netCfg.PermitDuration
	if req.DurationSeconds != nil {
		if *req.DurationSeconds < 0 || *req.DurationSeconds > maxPermitSeconds {
			writeBadRequest(w, "duration_seconds must be between 0 and 254")
			return
		}
		duration = time.Duration(*req.DurationSeconds) * time.Second
	}

	if (req.Node == "") != (req.InstallCode == "") {
		writeBadRequest(w, "node and install_code must be given together")
		return
	}

	var err error
	if req.Node != "" {
		node, parseErr := mesh.ParseEUI64(req.Node)
		if parseErr != nil {
			writeBadRequest(w, parseErr.Error())
			return
		}
		code, decodeErr := hex.DecodeString(req.InstallCode)
		if decodeErr != nil || len(code) == 0 {
			writeBadRequest(w, "install_code must be hex")
			return
		}
		err = s.mesh.PermitWithKey(r.Context(), node, code, duration)
	} else {
		err = s.mesh.Permit(r.Context(), duration)
	}

	if err != nil {
		writeMeshError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"permitted":        true,
		"duration_seconds": int(duration / time.Second),
	})
}
