// Package api exposes the local NexusAI daemon surface: a chi HTTP API for
// the record store, sync and quota, plus an MCP server for agent access.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexusai/nexusd/internal/quota"
	"github.com/nexusai/nexusd/internal/storage"
	"github.com/nexusai/nexusd/internal/syncer"
)

// Result payloads can carry inline media, so the cap is generous.
const maxRequestBodySize = 10 << 20 // 10MB

// SyncTrigger is the slice of the sync coordinator the API needs.
type SyncTrigger interface {
	RunPass(ctx context.Context) (int, error)
	Status() syncer.Status
}

// QuotaChecker answers subscription and per-feature quota questions.
type QuotaChecker interface {
	Summary(ctx context.Context) (quota.Summary, error)
	CheckAccess(ctx context.Context, feature string) (quota.FeatureAccess, error)
}

// AppDeps holds dependencies for the local HTTP API.
type AppDeps struct {
	Store    storage.Recorder
	Syncer   SyncTrigger  // optional; nil when cloud sync is not running
	Quota    QuotaChecker // optional; nil when cloud credentials are missing
	UserID   string
	Token    string // empty disables bearer auth
	Degraded bool   // true when running on the in-memory fallback store
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	// Health and metrics stay reachable without a token.
	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/records", handleSaveRecord(deps))
		r.Get("/records", handleListRecords(deps))
		r.Delete("/records", handleClearRecords(deps))
		r.Get("/records/export", handleExportRecords(deps))
		r.Post("/records/import", handleImportRecords(deps))
		r.Post("/records/bulk-delete", handleBulkDelete(deps))
		r.Post("/records/prune", handlePruneRecords(deps))
		r.Get("/records/{id}", handleGetRecord(deps))
		r.Patch("/records/{id}", handleUpdateRecord(deps))
		r.Delete("/records/{id}", handleDeleteRecord(deps))
		r.Post("/records/{id}/favorite", handleToggleFavorite(deps))

		r.Get("/stats", handleStats(deps))
		r.Get("/settings", handleGetSettings(deps))
		r.Put("/settings", handleSaveSettings(deps))

		r.Get("/sync/status", handleSyncStatus(deps))
		r.Post("/sync/now", handleSyncNow(deps))

		r.Get("/quota", handleQuotaSummary(deps))
		r.Get("/quota/features/{feature}", handleQuotaFeature(deps))
	})

	return r
}

func handleSaveRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var rec storage.GenerationRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if rec.UserID == "" {
			rec.UserID = deps.UserID
		}

		id, err := deps.Store.SaveGeneration(rec)
		if err != nil {
			storageError(w, err, "save record")
			return
		}
		saved, err := deps.Store.GetGeneration(id)
		if err != nil {
			storageError(w, err, "load saved record")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(saved)
	}
}

func handleListRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := storage.QueryOptions{
			SyncedOnly:    q.Get("synced") == "true",
			FavoritesOnly: q.Get("favorite") == "true",
			Limit:         parseIntParam(r, "limit", 0, 1000),
			Offset:        parseIntParam(r, "offset", 0, 0),
			SortBy:        q.Get("sort"),
			SortOrder:     q.Get("order"),
		}
		if t := q.Get("type"); t != "" {
			rt := storage.RecordType(t)
			if !rt.Valid() {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown record type %q", t)
				return
			}
			opts.Type = rt
		}

		records, err := deps.Store.QueryGenerations(userParam(r, deps), opts)
		if err != nil {
			storageError(w, err, "list records")
			return
		}
		if records == nil {
			records = []storage.GenerationRecord{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleGetRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetGeneration(chi.URLParam(r, "id"))
		if err != nil {
			storageError(w, err, "get record")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleUpdateRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var upd storage.RecordUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Store.UpdateGeneration(id, upd); err != nil {
			storageError(w, err, "update record")
			return
		}
		rec, err := deps.Store.GetGeneration(id)
		if err != nil {
			storageError(w, err, "load updated record")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleDeleteRecord(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteGeneration(chi.URLParam(r, "id")); err != nil {
			storageError(w, err, "delete record")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleToggleFavorite(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		favorite, err := deps.Store.ToggleFavorite(id)
		if err != nil {
			storageError(w, err, "toggle favorite")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "favorite": favorite})
	}
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func handleBulkDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req bulkDeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ids is required and must not be empty")
			return
		}

		failed, err := deps.Store.DeleteGenerations(req.IDs)
		if err != nil {
			storageError(w, err, "delete records")
			return
		}
		if failed == nil {
			failed = []string{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"deleted": len(req.IDs) - len(failed),
			"failed":  failed,
		})
	}
}

type pruneRequest struct {
	Days int `json:"days"`
}

func handlePruneRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req pruneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		removed, err := deps.Store.DeleteOlderThan(userParam(r, deps), req.Days)
		if err != nil {
			storageError(w, err, "prune records")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"removed": removed})
	}
}

func handleClearRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := deps.Store.ClearGenerations(userParam(r, deps))
		if err != nil {
			storageError(w, err, "clear records")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"removed": removed})
	}
}

func handleExportRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Store.ExportGenerations(userParam(r, deps))
		if err != nil {
			storageError(w, err, "export records")
			return
		}
		if records == nil {
			records = []storage.GenerationRecord{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleImportRecords(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var records []storage.GenerationRecord
		if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		imported, err := deps.Store.ImportGenerations(records)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "imported %d of %d records: %v", imported, len(records), err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"imported": imported})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(userParam(r, deps))
		if err != nil {
			storageError(w, err, "compute stats")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings, err := deps.Store.GetSettings(userParam(r, deps))
		if err != nil {
			storageError(w, err, "get settings")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(settings)
	}
}

func handleSaveSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var settings storage.UserSettings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if settings.UserID == "" {
			settings.UserID = userParam(r, deps)
		}

		if err := deps.Store.SaveSettings(settings); err != nil {
			storageError(w, err, "save settings")
			return
		}
		saved, err := deps.Store.GetSettings(settings.UserID)
		if err != nil {
			storageError(w, err, "load saved settings")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(saved)
	}
}

// userParam resolves the user scope for a request, defaulting to the
// daemon's configured user.
func userParam(r *http.Request, deps AppDeps) string {
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	return deps.UserID
}

// storageError maps record store sentinels onto HTTP statuses.
func storageError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "record not found")
	case errors.Is(err, storage.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrNotAuthenticated):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
	case errors.Is(err, storage.ErrStorageUnavailable):
		httpError(w, http.StatusServiceUnavailable, "storage_unavailable", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "failed to %s: %v", action, err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
