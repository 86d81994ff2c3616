package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/practicehq/agendly/services/directory-service/internal/storage"
)

func providerActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := actorID(r)
	if id == "" {
		http.Error(w, "missing X-Actor-Id", http.StatusUnauthorized)
		return "", false
	}
	if strings.TrimSpace(r.Header.Get("X-Actor-Role")) != "provider" {
		http.Error(w, "providers only", http.StatusForbidden)
		return "", false
	}
	return id, true
}

type windowView struct {
	Weekday     int  `json:"weekday"`
	Available   bool `json:"available"`
	StartMinute int  `json:"start_minute"`
	EndMinute   int  `json:"end_minute"`
}

type blockView struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

// Availability reads or updates the caller's weekly schedule.
// GET returns windows plus blocks for the next 90 days; PUT sets one
// weekday window.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := providerActor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		windows, err := h.availability.ListWindows(r.Context(), providerID)
		if err != nil {
			http.Error(w, "failed to load availability", http.StatusInternalServerError)
			return
		}
		now := time.Now().UTC()
		blocks, err := h.availability.ListBlocks(r.Context(), providerID, now, now.AddDate(0, 3, 0))
		if err != nil {
			http.Error(w, "failed to load availability", http.StatusInternalServerError)
			return
		}

		wv := make([]windowView, 0, len(windows))
		for _, win := range windows {
			wv = append(wv, windowView{Weekday: win.Weekday, Available: win.Available, StartMinute: win.StartMinute, EndMinute: win.EndMinute})
		}
		bv := make([]blockView, 0, len(blocks))
		for _, b := range blocks {
			bv = append(bv, blockView{
				ID:        b.ID,
				StartTime: b.StartTime.UTC().Format(time.RFC3339),
				EndTime:   b.EndTime.UTC().Format(time.RFC3339),
				Reason:    b.Reason,
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"windows": wv, "blocks": bv})

	case http.MethodPut:
		var req windowView
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.Weekday < 0 || req.Weekday > 6 {
			http.Error(w, "weekday must be 0..6", http.StatusBadRequest)
			return
		}
		if req.Available && (req.StartMinute < 0 || req.EndMinute > 24*60 || req.EndMinute <= req.StartMinute) {
			http.Error(w, "window minutes out of range", http.StatusBadRequest)
			return
		}
		if err := h.availability.UpsertWindow(r.Context(), providerID, storage.Window{
			Weekday:     req.Weekday,
			Available:   req.Available,
			StartMinute: req.StartMinute,
			EndMinute:   req.EndMinute,
		}); err != nil {
			http.Error(w, "failed to save window", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Blocks adds or removes one-off unavailable intervals.
func (h *Handler) Blocks(w http.ResponseWriter, r *http.Request) {
	providerID, ok := providerActor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req struct {
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
			Reason    string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			http.Error(w, "start_time must be RFC3339", http.StatusBadRequest)
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			http.Error(w, "end_time must be RFC3339", http.StatusBadRequest)
			return
		}
		if !end.After(start) {
			http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}
		id, err := h.availability.AddBlock(r.Context(), providerID, start, end, strings.TrimSpace(req.Reason))
		if err != nil {
			http.Error(w, "failed to save block", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})

	case http.MethodDelete:
		blockID := strings.TrimSpace(r.URL.Query().Get("id"))
		if blockID == "" {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}
		if err := h.availability.RemoveBlock(r.Context(), providerID, blockID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "block not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to delete block", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// SessionSettings sets the provider's default session length and slot step.
func (h *Handler) SessionSettings(w http.ResponseWriter, r *http.Request) {
	providerID, ok := providerActor(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionMinutes  int `json:"session_minutes"`
		SlotStepMinutes int `json:"slot_step_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.SessionMinutes < 10 || req.SessionMinutes > 8*60 {
		http.Error(w, "session_minutes out of range", http.StatusBadRequest)
		return
	}
	if req.SlotStepMinutes < 5 || req.SlotStepMinutes > 120 {
		http.Error(w, "slot_step_minutes out of range", http.StatusBadRequest)
		return
	}
	if err := h.availability.UpsertSettings(r.Context(), providerID, req.SessionMinutes, req.SlotStepMinutes); err != nil {
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
