package background

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/morph/internal/history"
	"github.com/hazyhaar/morph/kit"
	"github.com/hazyhaar/morph/message"
)

const maxBody = 1 << 20

// Router returns the HTTP surface of the service. extra, when non-nil,
// mounts further handlers (the MCP endpoint, watcher status) on the same
// router.
func (s *Service) Router(extra func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := kit.WithTransport(req.Context(), "http")
			ctx = kit.WithRequestID(ctx, middleware.GetReqID(ctx))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"enabled":     s.Icon().Enabled,
			"subscribers": s.hub.Count(),
			"detections":  s.DetectionCount(),
		})
	})

	r.Post("/api/messages", s.handleMessage)

	r.Get("/api/settings", func(w http.ResponseWriter, req *http.Request) {
		raw, err := s.Settings(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	})

	r.Put("/api/settings", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.UpdateSettings(req.Context(), body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, Success{Success: true})
	})

	r.Post("/api/toggle", func(w http.ResponseWriter, req *http.Request) {
		enabled, err := s.Toggle(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, Toggled{Enabled: enabled})
	})

	r.Get("/api/icon", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Icon())
	})

	r.Get("/api/detections", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		f := history.Filter{PageID: q.Get("page_id"), Word: q.Get("word")}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "limit: "+err.Error())
				return
			}
			f.Limit = n
		}
		if v := q.Get("since"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "since: "+err.Error())
				return
			}
			f.Since = ts
		}
		entries, err := s.Detections(req.Context(), f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"detections": entries})
	})

	r.Get("/ws", s.ServeWS)

	if extra != nil {
		extra(r)
	}
	return r
}

func (s *Service) handleMessage(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := message.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.HandleMessage(req.Context(), msg)
	switch {
	case errors.Is(err, ErrUnknownMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("background: message failed", "type", msg.Type, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
