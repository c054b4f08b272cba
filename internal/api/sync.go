package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexusai/nexusd/internal/syncer"
)

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storageState := "ok"
		if deps.Degraded {
			storageState = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"storage": storageState,
		})
	}
}

func handleSyncStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Syncer == nil {
			httpError(w, http.StatusServiceUnavailable, "sync_unavailable", "cloud sync is not configured")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Syncer.Status())
	}
}

func handleSyncNow(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Syncer == nil {
			httpError(w, http.StatusServiceUnavailable, "sync_unavailable", "cloud sync is not configured")
			return
		}

		pushed, err := deps.Syncer.RunPass(r.Context())
		if errors.Is(err, syncer.ErrSyncInProgress) {
			httpError(w, http.StatusConflict, "sync_in_progress", "a sync pass is already running")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "sync stopped after %d records: %v", pushed, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"pushed": pushed})
	}
}

func handleQuotaSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Quota == nil {
			httpError(w, http.StatusServiceUnavailable, "quota_unavailable", "cloud credentials are not configured")
			return
		}

		summary, err := deps.Quota.Summary(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to fetch quota: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	}
}

func handleQuotaFeature(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Quota == nil {
			httpError(w, http.StatusServiceUnavailable, "quota_unavailable", "cloud credentials are not configured")
			return
		}

		access, err := deps.Quota.CheckAccess(r.Context(), chi.URLParam(r, "feature"))
		if err != nil {
			// Callers treat any non-200 as a denial.
			httpError(w, http.StatusBadGateway, "api_error", "quota check failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(access)
	}
}
