package editor

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/protoboard/domsync"
	"github.com/hazyhaar/protoboard/prototype"
)

// RegisterHTTP mounts the engine API on the router.
func (e *Engine) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, e.Stats(r.Context()))
		})

		r.Route("/sessions", func(r chi.Router) {
			// Open an existing prototype (prototype_id) or create a new
			// one (name). A failed load still answers 201: the session
			// exists and carries the error in its state.
			r.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					PrototypeID string `json:"prototype_id"`
					Name        string `json:"name"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, 400, err)
					return
				}
				var (
					info Info
					err  error
				)
				switch {
				case req.PrototypeID != "":
					info, err = e.Open(r.Context(), req.PrototypeID)
				case req.Name != "":
					info, err = e.Create(r.Context(), req.Name)
				default:
					writeError(w, 400, errors.New("prototype_id or name required"))
					return
				}
				if err != nil {
					writeError(w, errStatus(err), err)
					return
				}
				writeJSON(w, 201, info)
			})

			r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, 200, e.List())
			})

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					info, err := e.Get(chi.URLParam(r, "sessionID"))
					if err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 200, info)
				})

				r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
					if err := e.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 200, map[string]string{"status": "closed"})
				})

				// The body is the raw content blob; empty means "something
				// changed" without a payload.
				r.Post("/changes", func(w http.ResponseWriter, r *http.Request) {
					body, err := io.ReadAll(r.Body)
					if err != nil {
						writeError(w, 400, err)
						return
					}
					var data json.RawMessage
					if len(body) > 0 {
						if !json.Valid(body) {
							writeError(w, 400, errors.New("body is not valid JSON"))
							return
						}
						data = body
					}
					if err := e.Change(chi.URLParam(r, "sessionID"), data); err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 202, map[string]string{"status": "recorded"})
				})

				r.Post("/save", func(w http.ResponseWriter, r *http.Request) {
					info, err := e.Save(r.Context(), chi.URLParam(r, "sessionID"))
					if err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 200, info)
				})

				r.Post("/switch-page", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						PageID string `json:"page_id"`
					}
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						writeError(w, 400, err)
						return
					}
					info, err := e.SwitchPage(r.Context(), chi.URLParam(r, "sessionID"), req.PageID)
					if err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 200, info)
				})

				r.Post("/restore", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						Version int64 `json:"version"`
					}
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						writeError(w, 400, err)
						return
					}
					if req.Version <= 0 {
						writeError(w, 400, errors.New("version must be positive"))
						return
					}
					info, err := e.Restore(r.Context(), chi.URLParam(r, "sessionID"), req.Version)
					if err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 200, info)
				})

				r.Post("/clear-error", func(w http.ResponseWriter, r *http.Request) {
					info, err := e.ClearError(chi.URLParam(r, "sessionID"))
					if err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 200, info)
				})

				r.Post("/autosave", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						Enabled bool `json:"enabled"`
					}
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						writeError(w, 400, err)
						return
					}
					info, err := e.SetAutosave(chi.URLParam(r, "sessionID"), req.Enabled)
					if err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 200, info)
				})

				r.Get("/versions", func(w http.ResponseWriter, r *http.Request) {
					versions, err := e.Versions(r.Context(), chi.URLParam(r, "sessionID"))
					if err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 200, versions)
				})

				r.Get("/draft", func(w http.ResponseWriter, r *http.Request) {
					d, err := e.Draft(r.Context(), chi.URLParam(r, "sessionID"))
					if err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					if d == nil {
						writeError(w, 404, errors.New("no draft"))
						return
					}
					writeJSON(w, 200, map[string]any{
						"prototype_id": d.PrototypeID,
						"session_id":   d.SessionID,
						"saved_at":     d.SavedAt,
						"data":         json.RawMessage(d.Data),
					})
				})

				r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						Task     string `json:"task"`
						Selector string `json:"selector"`
						Property string `json:"property"`
						Value    string `json:"value"`
					}
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						writeError(w, 400, err)
						return
					}
					if req.Task == "" || req.Selector == "" || req.Property == "" {
						writeError(w, 400, errors.New("task, selector, property required"))
						return
					}
					target := domsync.Target{Selector: req.Selector, Property: req.Property}
					if err := e.SyncAttribute(chi.URLParam(r, "sessionID"), req.Task, target, req.Value); err != nil {
						writeError(w, errStatus(err), err)
						return
					}
					writeJSON(w, 202, map[string]string{"status": "scheduled"})
				})
			})
		})
	})
}

// errStatus maps engine and storage errors to HTTP codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrPageNotFound),
		errors.Is(err, prototype.ErrNotFound):
		return 404
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrNoHost):
		return 409
	case errors.Is(err, prototype.ErrUnavailable):
		return 503
	default:
		return 500
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
