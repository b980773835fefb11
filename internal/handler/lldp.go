package handler

import (
	"net/http"

	"topokeeper/internal/service"
)

// LLDPPrefix is the base path of the hello/liveness API
const LLDPPrefix = "/api/lldp/v1"

// LLDPHandler handles liveness, polling time and hello allow list requests
type LLDPHandler struct {
	svc *service.LLDPService
}

// NewLLDPHandler creates a new LLDP handler
func NewLLDPHandler(svc *service.LLDPService) *LLDPHandler {
	return &LLDPHandler{svc: svc}
}

// InterfacesRequest is the body of every interface list operation
type InterfacesRequest struct {
	Interfaces []string `json:"interfaces"`
}

// PollingTimeRequest is the body of a polling time update
type PollingTimeRequest struct {
	PollingTime *int `json:"polling_time"`
}

// Register mounts the LLDP routes on mux. Every path is served with and
// without a trailing slash.
func (h *LLDPHandler) Register(mux Mux) {
	p := LLDPPrefix

	handleBoth(mux, "GET", p+"/liveness", h.ListLiveness)
	handleBoth(mux, "POST", p+"/liveness/enable", h.EnableLiveness)
	handleBoth(mux, "POST", p+"/liveness/disable", h.DisableLiveness)
	handleBoth(mux, "GET", p+"/liveness/pair", h.ListPairs)

	handleBoth(mux, "GET", p+"/polling_time", h.GetPollingTime)
	handleBoth(mux, "POST", p+"/polling_time", h.SetPollingTime)

	handleBoth(mux, "GET", p+"/interfaces", h.ListInterfaces)
	handleBoth(mux, "POST", p+"/interfaces/enable", h.EnableInterfaces)
	handleBoth(mux, "POST", p+"/interfaces/disable", h.DisableInterfaces)
}

// ListLiveness returns monitored interfaces, filtered by ?interface_id=
func (h *LLDPHandler) ListLiveness(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query()["interface_id"]
	writeJSON(w, map[string]interface{}{"interfaces": h.svc.LivenessInterfaces(filter...)}, http.StatusOK)
}

// ListPairs returns the monitored interface pairs
func (h *LLDPHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"pairs": h.svc.LivenessPairs()}, http.StatusOK)
}

// EnableLiveness starts liveness monitoring on the listed interfaces
func (h *LLDPHandler) EnableLiveness(w http.ResponseWriter, r *http.Request) {
	var req InterfacesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.EnableLiveness(r.Context(), req.Interfaces); err != nil {
		writeFailure(w, "Failed to enable liveness", err)
		return
	}
	writeJSON(w, map[string]interface{}{}, http.StatusOK)
}

// DisableLiveness stops liveness monitoring on the listed interfaces
func (h *LLDPHandler) DisableLiveness(w http.ResponseWriter, r *http.Request) {
	var req InterfacesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.DisableLiveness(r.Context(), req.Interfaces); err != nil {
		writeFailure(w, "Failed to disable liveness", err)
		return
	}
	writeJSON(w, map[string]interface{}{}, http.StatusOK)
}

// GetPollingTime returns the hello interval in seconds
func (h *LLDPHandler) GetPollingTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"polling_time": h.svc.PollingTime()}, http.StatusOK)
}

// SetPollingTime changes the hello interval
func (h *LLDPHandler) SetPollingTime(w http.ResponseWriter, r *http.Request) {
	var req PollingTimeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PollingTime == nil {
		writeError(w, "Invalid request body", "polling_time is required", http.StatusBadRequest)
		return
	}
	if err := h.svc.SetPollingTime(r.Context(), *req.PollingTime); err != nil {
		writeFailure(w, "Failed to set polling time", err)
		return
	}
	writeJSON(w, map[string]string{"response": "Polling time has been updated"}, http.StatusOK)
}

// ListInterfaces returns the interfaces allowed to emit hellos
func (h *LLDPHandler) ListInterfaces(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.LLDPInterfaces(r.Context())
	if err != nil {
		writeFailure(w, "Failed to list interfaces", err)
		return
	}
	writeJSON(w, map[string]interface{}{"interfaces": ids}, http.StatusOK)
}

// EnableInterfaces allows hello emission on the listed interfaces
func (h *LLDPHandler) EnableInterfaces(w http.ResponseWriter, r *http.Request) {
	var req InterfacesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.EnableLLDP(r.Context(), req.Interfaces); err != nil {
		writeFailure(w, "Failed to enable LLDP", err)
		return
	}
	writeJSON(w, map[string]string{"response": "Operation successful"}, http.StatusOK)
}

// DisableInterfaces excludes the listed interfaces from hello emission
func (h *LLDPHandler) DisableInterfaces(w http.ResponseWriter, r *http.Request) {
	var req InterfacesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.DisableLLDP(r.Context(), req.Interfaces); err != nil {
		writeFailure(w, "Failed to disable LLDP", err)
		return
	}
	writeJSON(w, map[string]string{"response": "Operation successful"}, http.StatusOK)
}
