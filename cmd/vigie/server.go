package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/vigie/acquire"
	"github.com/hazyhaar/vigie/kit"
	"github.com/hazyhaar/vigie/shield"
)

// newRouter builds the status API. Runs started over HTTP outlive the
// request but stop with base.
func newRouter(base context.Context, logger *slog.Logger, svc *acquire.Service) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": svc.Running()})
	})

	r.Handle("/metrics", svc.Metrics().Handler())

	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			runs, err := svc.Runs(r.Context(), queryInt(r, "limit", 20))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			log := shield.GetLogger(r.Context())
			ctx := kit.WithRequestID(kit.WithTransport(base, "http"), kit.GetRequestID(r.Context()))
			id, err := svc.Start(ctx, func(_ *acquire.Report, err error) {
				if err != nil {
					log.Error("vigie: triggered run failed", "error", err)
				}
			})
			if err != nil {
				code := http.StatusInternalServerError
				if errors.Is(err, acquire.ErrRunInProgress) {
					code = http.StatusConflict
				}
				writeError(w, code, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "run_id": id})
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			detail, err := svc.GetRun(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				code := http.StatusInternalServerError
				if errors.Is(err, acquire.ErrRunNotFound) {
					code = http.StatusNotFound
				}
				writeError(w, code, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
