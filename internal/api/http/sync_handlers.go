package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	auth "github.com/mind-engage/mindengage-testsync/internal/auth/middleware"
	"github.com/mind-engage/mindengage-testsync/internal/exam"
	syncx "github.com/mind-engage/mindengage-testsync/internal/sync"
)

// Runner runs one sync pass.
type Runner interface {
	Run(ctx context.Context) (syncx.BatchReport, error)
}

// RunLister lists recorded sync runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]syncx.RunSummary, error)
}

// POST /api/sync
// Runs a full pass and returns its report. The pass is not cancelled when
// the client goes away.
func TriggerSyncHandler(p Runner, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Info("sync triggered", zap.String("by", auth.SubjectFromContext(r.Context())))
		rep, err := p.Run(context.WithoutCancel(r.Context()))
		switch {
		case errors.Is(err, syncx.ErrBusy):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case err != nil && rep.RunID == "":
			log.Error("sync pass failed before reading records", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		case err != nil:
			writeJSON(w, http.StatusBadGateway, rep)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// GET /api/sync/runs?limit=20
func ListRunsHandler(runs RunLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
		list, err := runs.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /api/test-instances/{tiid}
func GetTestInstanceHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ti, err := store.GetTestInstance(r.Context(), chi.URLParam(r, "tiid"))
		if errors.Is(err, exam.ErrNotFound) {
			http.Error(w, "test instance not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		states, err := store.ListTestStates(r.Context(), ti.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if states == nil {
			states = []exam.TestState{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"test_instance": ti,
			"states":        states,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
