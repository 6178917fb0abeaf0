package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"promptlab/internal/chat"
	"promptlab/internal/playground"
	"promptlab/internal/queue"
)

// Handlers holds the handler dependencies. Limiter may be nil when rate
// limiting is disabled.
type Handlers struct {
	Session *playground.Session
	Limiter *queue.RateLimiter
	Logger  zerolog.Logger
}

func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Session.Snapshot())
}

func (h *Handlers) GetKey(w http.ResponseWriter, r *http.Request) {
	snap := h.Session.Snapshot()
	respondJSON(w, http.StatusOK, map[string]string{
		"state":         string(snap.KeyState),
		"statusMessage": snap.StatusMessage,
	})
}

func (h *Handlers) SubmitKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Session.SubmitKey(r.Context(), req.Key); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.Logger.Info().Msg("API key accepted")
	respondJSON(w, http.StatusOK, h.Session.Snapshot())
}

func (h *Handlers) ClearKey(w http.ResponseWriter, r *http.Request) {
	h.Session.ClearKey(r.Context())
	h.Logger.Info().Msg("API key cleared")
	respondJSON(w, http.StatusOK, h.Session.Snapshot())
}

func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"models":   h.Session.Snapshot().Models,
		"selected": h.Session.Settings().SelectedModel,
	})
}

func (h *Handlers) SelectModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Session.SelectModel(req.Name); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.Session.Settings())
}

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Session.Settings())
}

func (h *Handlers) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req playground.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.Session.ApplySettings(req)
	snap := h.Session.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"settings":    snap.Settings,
		"schemaError": snap.SchemaError,
		"promptError": snap.PromptError,
	})
}

func (h *Handlers) SetStructuredInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.Session.SetStructuredInput(req.Enabled)
	snap := h.Session.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"settings":    snap.Settings,
		"promptError": snap.PromptError,
	})
}

func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Session.Templates())
}

func (h *Handlers) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Session.SaveTemplate(r.Context(), req.Name); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, h.Session.Templates())
}

func (h *Handlers) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Session.ApplyTemplate(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.Session.Settings())
}

func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Session.DeleteTemplate(r.Context(), name); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.Session.Templates())
}

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Session.Conversation())
}

func (h *Handlers) ClearConversation(w http.ResponseWriter, r *http.Request) {
	h.Session.ClearChat()
	respondJSON(w, http.StatusOK, h.Session.Conversation())
}

func (h *Handlers) AttachScreenshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DataURI string `json:"dataUri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.Session.AttachScreenshot(req.DataURI); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"attached": true})
}

func (h *Handlers) ClearScreenshot(w http.ResponseWriter, r *http.Request) {
	h.Session.ClearScreenshot()
	respondJSON(w, http.StatusOK, map[string]bool{"attached": false})
}

// Generate streams one generation as server-sent events: fragment events
// while text arrives, then a single done or error event. The body may carry
// a prompt and a screenshot data URI to use for this attempt; an empty body
// keeps whatever is pending in the settings.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	if h.Session.Busy() {
		respondError(w, http.StatusConflict, chat.ErrGenerationActive.Error())
		return
	}
	if h.Limiter != nil {
		allowed, used, resetAt, err := h.Limiter.Allow(r.Context(), r.RemoteAddr, time.Now())
		if err != nil {
			h.Logger.Warn().Err(err).Msg("rate limit check")
		} else if !allowed {
			w.Header().Set("Retry-After", resetAt.UTC().Format(http.TimeFormat))
			respondError(w, http.StatusTooManyRequests,
				fmt.Sprintf("rate limit reached (%d used), resets at %s", used, resetAt.UTC().Format(time.RFC3339)))
			return
		}
	}

	var req struct {
		Prompt     string `json:"prompt"`
		Screenshot string `json:"screenshot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Prompt != "" {
		h.Session.SetPrompt(req.Prompt)
	}
	if req.Screenshot != "" {
		if err := h.Session.AttachScreenshot(req.Screenshot); err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	res, err := h.Session.Generate(r.Context(), func(frag string) {
		writeEvent(w, flusher, "fragment", map[string]string{"text": frag})
	})
	if err != nil {
		var genErr *chat.GenerateError
		msg := err.Error()
		if errors.As(err, &genErr) {
			msg = genErr.Message
		}
		writeEvent(w, flusher, "error", map[string]string{"message": msg})
		return
	}
	writeEvent(w, flusher, "done", map[string]string{
		"status":     string(res.Status),
		"validation": string(res.Validation),
		"content":    res.Content,
	})
}

func (h *Handlers) StopGenerate(w http.ResponseWriter, r *http.Request) {
	h.Session.Stop()
	respondJSON(w, http.StatusOK, map[string]bool{"stopping": true})
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
