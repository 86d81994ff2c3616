package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/practicehq/agendly/services/directory-service/internal/storage"
)

type Handler struct {
	repo         *storage.ProfileRepository
	availability *storage.AvailabilityRepository
}

func New(repo *storage.ProfileRepository, availability *storage.AvailabilityRepository) *Handler {
	return &Handler{repo: repo, availability: availability}
}

func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor-Id"))
}

type profileView struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	Phone         string `json:"phone,omitempty"`
	Timezone      string `json:"timezone"`
	UpdatedAt     string `json:"updated_at"`
}

func toView(p storage.Profile) profileView {
	return profileView{
		ParticipantID: p.ParticipantID,
		Role:          p.Role,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		Phone:         p.Phone,
		Timezone:      p.Timezone,
		UpdatedAt:     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// GetProfile returns the caller's own directory record.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := actorID(r)
	if id == "" {
		http.Error(w, "missing X-Actor-Id", http.StatusUnauthorized)
		return
	}

	p, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(toView(p))
}

// UpsertProfile creates or updates the caller's directory record.
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	id := actorID(r)
	if id == "" {
		http.Error(w, "missing X-Actor-Id", http.StatusUnauthorized)
		return
	}
	role := strings.TrimSpace(r.Header.Get("X-Actor-Role"))
	if role != "provider" && role != "requester" {
		http.Error(w, "missing or invalid X-Actor-Role", http.StatusBadRequest)
		return
	}

	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Phone       string `json:"phone"`
		Timezone    string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if req.DisplayName == "" {
		http.Error(w, "display_name required", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		http.Error(w, "invalid email", http.StatusBadRequest)
		return
	}

	if err := h.repo.Upsert(r.Context(), storage.Profile{
		ParticipantID: id,
		Role:          role,
		Email:         req.Email,
		DisplayName:   req.DisplayName,
		Phone:         strings.TrimSpace(req.Phone),
		Timezone:      req.Timezone,
	}); err != nil {
		http.Error(w, "failed to save profile", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetContact resolves contact info for any participant id. Internal
// endpoint consumed by agenda-service when gRPC is not compiled in.
func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	participantID := strings.TrimSpace(r.URL.Query().Get("participant_id"))
	if participantID == "" {
		http.Error(w, "participant_id required", http.StatusBadRequest)
		return
	}

	p, err := h.repo.Get(r.Context(), participantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "participant not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load contact", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"email":        p.Email,
		"display_name": p.DisplayName,
	})
}

// ListProviders is the public provider directory used when a requester
// picks who to book with.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	profiles, err := h.repo.ListByRole(r.Context(), "provider", limit)
	if err != nil {
		http.Error(w, "failed to list providers", http.StatusInternalServerError)
		return
	}
	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, toView(p))
	}
	_ = json.NewEncoder(w).Encode(views)
}
