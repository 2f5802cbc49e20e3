// Package httpapi exposes the buddy service over a local JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"buddyline/internal/buddy"
	"buddyline/internal/conversation"
	"buddyline/internal/personality"
	"buddyline/internal/server"
)

const maxBodyBytes = 1 << 20

// NewRouter returns the API routes for svc.
func NewRouter(svc *server.Service) http.Handler {
	h := &handlers{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/buddies", func(r chi.Router) {
		r.Get("/", h.listBuddies)
		r.Post("/", h.addBuddy)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getBuddy)
			r.Delete("/", h.removeBuddy)
			r.Post("/messages", h.sendMessage)
			r.Get("/conversation", h.conversation)
			r.Get("/conversation/stats", h.conversationStats)
			r.Get("/conversation/export", h.exportConversation)
			r.Get("/settings", h.getSettings)
			r.Patch("/settings", h.updateSettings)
		})
	})

	r.Get("/providers", h.providers)
	r.Post("/providers/probe", h.probe)
	return r
}

type handlers struct {
	svc *server.Service
}

type providersResponse struct {
	Backends []string `json:"backends"`
	State    any      `json:"state"`
}

type sendRequest struct {
	Message string `json:"message"`
}

func (h *handlers) listBuddies(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.GetBuddies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*buddy.Buddy{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) addBuddy(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := personality.ValidateProfileJSON(raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var p buddy.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.svc.AddBuddy(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handlers) getBuddy(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBuddySettings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) removeBuddy(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveBuddy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in sendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply, err := h.svc.SendMessage(r.Context(), chi.URLParam(r, "id"), in.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handlers) conversation(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handlers) conversationStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ConversationStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) exportConversation(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = conversation.FormatJSON
	}
	data, err := h.svc.ExportConversation(r.Context(), chi.URLParam(r, "id"), format)
	if err != nil {
		writeError(w, err)
		return
	}
	if format == conversation.FormatText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBuddySettings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch buddy.SettingsPatch
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := h.svc.UpdateBuddySettings(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) providers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, providersResponse{Backends: h.svc.Backends(), State: h.svc.ProviderState()})
}

func (h *handlers) probe(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Reinitialize(r.Context())
	writeJSON(w, http.StatusOK, providersResponse{Backends: h.svc.Backends(), State: st})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case server.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, server.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("[httpapi] %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] encode response: %v", err)
	}
}
