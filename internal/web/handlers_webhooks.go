package web

import (
	"net/http"

	"github.com/JonMunkholm/product-importer/internal/core"
)

type webhookListResponse struct {
	Items []core.Webhook `json:"items"`
	Total int            `json:"total"`
}

type eventTypeEntry struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type eventTypesResponse struct {
	EventTypes []eventTypeEntry `json:"event_types"`
}

var eventLabels = map[string]string{
	core.EventProductCreated:  "Product Created",
	core.EventProductUpdated:  "Product Updated",
	core.EventProductDeleted:  "Product Deleted",
	core.EventImportStarted:   "Import Started",
	core.EventImportCompleted: "Import Completed",
	core.EventImportFailed:    "Import Failed",
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	enabled, err := optionalBool(r, "is_enabled")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	hooks, err := s.service.ListWebhooks(r.Context(), core.WebhookFilter{
		EventType: optionalString(r, "event_type"),
		IsEnabled: enabled,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if hooks == nil {
		hooks = []core.Webhook{}
	}
	writeJSON(w, http.StatusOK, webhookListResponse{Items: hooks, Total: len(hooks)})
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	h, err := s.service.GetWebhook(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var in core.WebhookInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	h, err := s.service.CreateWebhook(withRequestMetadata(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var patch core.WebhookPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}
	h, err := s.service.UpdateWebhook(withRequestMetadata(r), id, patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteWebhook(withRequestMetadata(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Webhook deleted successfully"})
}

// handleTestWebhook reports delivery failures in the body with status 200;
// only an unknown webhook is an HTTP error.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.service.TestWebhook(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEventTypes(w http.ResponseWriter, r *http.Request) {
	types := s.service.EventTypes()
	out := make([]eventTypeEntry, len(types))
	for i, t := range types {
		out[i] = eventTypeEntry{Value: t.Value, Label: eventLabels[t.Value], Description: t.Description}
	}
	writeJSON(w, http.StatusOK, eventTypesResponse{EventTypes: out})
}
