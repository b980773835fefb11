package handler

import (
	"context"
	"net/http"

	"topokeeper/internal/domain"
	"topokeeper/internal/service"
)

// TopologyPrefix is the base path of the topology API
const TopologyPrefix = "/api/topology/v3"

// TopologyHandler handles topology API requests
type TopologyHandler struct {
	svc *service.TopologyService
}

// NewTopologyHandler creates a new topology handler
func NewTopologyHandler(svc *service.TopologyService) *TopologyHandler {
	return &TopologyHandler{svc: svc}
}

// Register mounts the topology routes on mux
func (h *TopologyHandler) Register(mux Mux) {
	p := TopologyPrefix

	mux.HandleFunc("GET "+p+"/switches", h.ListSwitches)
	mux.HandleFunc("POST "+p+"/switches/{id}/enable", h.toggle(h.svc.EnableSwitch, "Failed to enable switch", http.StatusCreated))
	mux.HandleFunc("POST "+p+"/switches/{id}/disable", h.toggle(h.svc.DisableSwitch, "Failed to disable switch", http.StatusCreated))
	mux.HandleFunc("DELETE "+p+"/switches/{id}", h.toggle(h.svc.DeleteSwitch, "Failed to delete switch", http.StatusOK))

	mux.HandleFunc("GET "+p+"/interfaces", h.ListInterfaces)
	mux.HandleFunc("POST "+p+"/interfaces/{id}/enable", h.toggle(h.svc.EnableInterface, "Failed to enable interface", http.StatusOK))
	mux.HandleFunc("POST "+p+"/interfaces/{id}/disable", h.toggle(h.svc.DisableInterface, "Failed to disable interface", http.StatusOK))
	mux.HandleFunc("POST "+p+"/interfaces/switch/{id}/enable", h.toggle(h.svc.EnableAllInterfaces, "Failed to enable interfaces", http.StatusOK))
	mux.HandleFunc("POST "+p+"/interfaces/switch/{id}/disable", h.toggle(h.svc.DisableAllInterfaces, "Failed to disable interfaces", http.StatusOK))

	mux.HandleFunc("GET "+p+"/links", h.ListLinks)
	mux.HandleFunc("POST "+p+"/links/{id}/enable", h.toggle(h.svc.EnableLink, "Failed to enable link", http.StatusCreated))
	mux.HandleFunc("POST "+p+"/links/{id}/disable", h.toggle(h.svc.DisableLink, "Failed to disable link", http.StatusCreated))
	mux.HandleFunc("DELETE "+p+"/links/{id}", h.toggle(h.svc.DeleteLink, "Failed to delete link", http.StatusOK))

	for _, kind := range []string{"switches", "interfaces", "links"} {
		mux.HandleFunc("GET "+p+"/"+kind+"/{id}/metadata", h.GetMetadata)
		mux.HandleFunc("POST "+p+"/"+kind+"/{id}/metadata", h.SetMetadata)
		mux.HandleFunc("DELETE "+p+"/"+kind+"/{id}/metadata/{key}", h.DeleteMetadata)
	}
}

// toggle adapts a single-id operation to a handler answering code on success
func (h *TopologyHandler) toggle(op func(context.Context, string) error, action string, code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := op(r.Context(), id); err != nil {
			writeFailure(w, action, err)
			return
		}
		writeJSON(w, map[string]string{"response": "Operation successful"}, code)
	}
}

// ListSwitches returns every switch keyed by id
func (h *TopologyHandler) ListSwitches(w http.ResponseWriter, r *http.Request) {
	switches, err := h.svc.ListSwitches(r.Context())
	if err != nil {
		writeFailure(w, "Failed to list switches", err)
		return
	}

	out := make(map[string]*domain.Switch, len(switches))
	for _, sw := range switches {
		out[sw.ID] = sw
	}
	writeJSON(w, map[string]interface{}{"switches": out}, http.StatusOK)
}

// ListInterfaces returns every interface keyed by id
func (h *TopologyHandler) ListInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := h.svc.ListInterfaces(r.Context())
	if err != nil {
		writeFailure(w, "Failed to list interfaces", err)
		return
	}

	out := make(map[string]*domain.Interface, len(ifaces))
	for _, iface := range ifaces {
		out[iface.ID] = iface
	}
	writeJSON(w, map[string]interface{}{"interfaces": out}, http.StatusOK)
}

// ListLinks returns every link keyed by id
func (h *TopologyHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.ListLinks(r.Context())
	if err != nil {
		writeFailure(w, "Failed to list links", err)
		return
	}

	out := make(map[string]*domain.Link, len(links))
	for _, link := range links {
		out[link.ID] = link
	}
	writeJSON(w, map[string]interface{}{"links": out}, http.StatusOK)
}

// metadataKind resolves the entity kind from the request path
func metadataKind(r *http.Request) (domain.EntityKind, error) {
	// /api/topology/v3/<kind>/<id>/metadata[/<key>]
	rest := r.URL.Path[len(TopologyPrefix)+1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return domain.ParseEntityKind(rest[:i])
		}
	}
	return domain.ParseEntityKind(rest)
}

// GetMetadata returns the metadata of an entity
func (h *TopologyHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	kind, err := metadataKind(r)
	if err != nil {
		writeFailure(w, "Invalid entity kind", err)
		return
	}

	md, err := h.svc.GetMetadata(r.Context(), kind, r.PathValue("id"))
	if err != nil {
		writeFailure(w, "Failed to get metadata", err)
		return
	}
	writeJSON(w, map[string]interface{}{"metadata": md}, http.StatusOK)
}

// SetMetadata merges the request body into an entity's metadata
func (h *TopologyHandler) SetMetadata(w http.ResponseWriter, r *http.Request) {
	kind, err := metadataKind(r)
	if err != nil {
		writeFailure(w, "Invalid entity kind", err)
		return
	}

	var md domain.Metadata
	if !decodeBody(w, r, &md) {
		return
	}

	if _, err := h.svc.SetMetadata(r.Context(), kind, r.PathValue("id"), md); err != nil {
		writeFailure(w, "Failed to set metadata", err)
		return
	}
	writeJSON(w, map[string]string{"response": "Operation successful"}, http.StatusCreated)
}

// DeleteMetadata removes one metadata key
func (h *TopologyHandler) DeleteMetadata(w http.ResponseWriter, r *http.Request) {
	kind, err := metadataKind(r)
	if err != nil {
		writeFailure(w, "Invalid entity kind", err)
		return
	}

	if err := h.svc.DeleteMetadata(r.Context(), kind, r.PathValue("id"), r.PathValue("key")); err != nil {
		writeFailure(w, "Failed to delete metadata", err)
		return
	}
	writeJSON(w, map[string]string{"response": "Operation successful"}, http.StatusOK)
}
