package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Recorder used when the SQLite database cannot be
// opened. Records live only as long as the process, which keeps the daemon
// serving instead of dying on a corrupt or unwritable data dir.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]GenerationRecord
	settings map[string]UserSettings
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]GenerationRecord),
		settings: make(map[string]UserSettings),
	}
}

// memNow truncates to seconds so timestamps behave like the text-encoded
// ones the SQLite store round-trips.
func memNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func cloneRecord(rec GenerationRecord) GenerationRecord {
	out := rec
	if rec.ResultBlob != nil {
		out.ResultBlob = append([]byte(nil), rec.ResultBlob...)
	}
	if rec.Metadata != nil {
		out.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	if rec.Tags != nil {
		out.Tags = append([]string(nil), rec.Tags...)
	}
	if rec.LastSyncAttempt != nil {
		t := *rec.LastSyncAttempt
		out.LastSyncAttempt = &t
	}
	return out
}

func (m *Memory) SaveGeneration(rec GenerationRecord) (string, error) {
	if err := validateNew(rec); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := memNow()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Favorite = false
	rec.Synced = false
	rec.SyncAttempts = 0
	rec.LastSyncAttempt = nil
	m.records[rec.ID] = cloneRecord(rec)
	return rec.ID, nil
}

func (m *Memory) GetGeneration(id string) (GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return GenerationRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) QueryGenerations(userID string, opts QueryOptions) ([]GenerationRecord, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	m.mu.RLock()
	var recs []GenerationRecord
	for _, rec := range m.records {
		if rec.UserID != userID {
			continue
		}
		if opts.Type != "" && rec.Type != opts.Type {
			continue
		}
		if opts.SyncedOnly && !rec.Synced {
			continue
		}
		if opts.FavoritesOnly && !rec.Favorite {
			continue
		}
		recs = append(recs, cloneRecord(rec))
	}
	m.mu.RUnlock()

	key := func(r GenerationRecord) time.Time { return r.CreatedAt }
	if opts.SortBy == SortByUpdatedAt {
		key = func(r GenerationRecord) time.Time { return r.UpdatedAt }
	}
	asc := strings.EqualFold(opts.SortOrder, "asc")
	sort.SliceStable(recs, func(i, j int) bool {
		ti, tj := key(recs[i]), key(recs[j])
		if ti.Equal(tj) {
			// deterministic tiebreak so paging never repeats a record
			if asc {
				return recs[i].ID < recs[j].ID
			}
			return recs[i].ID > recs[j].ID
		}
		if asc {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return nil, nil
	}
	recs = recs[offset:]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (m *Memory) UpdateGeneration(id string, upd RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Favorite != nil {
		rec.Favorite = *upd.Favorite
	}
	if upd.Tags != nil {
		rec.Tags = append([]string(nil), upd.Tags...)
	}
	if upd.Metadata != nil {
		md := make(map[string]string, len(upd.Metadata))
		for k, v := range upd.Metadata {
			md[k] = v
		}
		rec.Metadata = md
	}
	if upd.Model != nil {
		rec.Model = *upd.Model
	}
	if upd.Result != nil {
		rec.Result = *upd.Result
	}
	rec.UpdatedAt = memNow()
	m.records[id] = rec
	return nil
}

func (m *Memory) ToggleFavorite(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return false, ErrNotFound
	}
	rec.Favorite = !rec.Favorite
	rec.UpdatedAt = memNow()
	m.records[id] = rec
	return rec.Favorite, nil
}

func (m *Memory) DeleteGeneration(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) DeleteGenerations(ids []string) ([]string, error) {
	var failed []string
	for _, id := range ids {
		if err := m.DeleteGeneration(id); err != nil {
			failed = append(failed, id)
		}
	}
	return failed, nil
}

func (m *Memory) ClearGenerations(userID string) (int, error) {
	if userID == "" {
		return 0, ErrNotAuthenticated
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, rec := range m.records {
		if rec.UserID == userID {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteOlderThan(userID string, days int) (int, error) {
	if userID == "" {
		return 0, ErrNotAuthenticated
	}
	if days < 0 {
		return 0, fmt.Errorf("%w: days must not be negative", ErrValidation)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, rec := range m.records {
		if rec.UserID == userID && rec.CreatedAt.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetUnsynced() ([]GenerationRecord, error) {
	m.mu.RLock()
	var recs []GenerationRecord
	for _, rec := range m.records {
		if !rec.Synced {
			recs = append(recs, cloneRecord(rec))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

func (m *Memory) MarkSynced(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	now := memNow()
	rec.Synced = true
	rec.LastSyncAttempt = &now
	m.records[id] = rec
	return nil
}

func (m *Memory) MarkSyncFailed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	now := memNow()
	rec.SyncAttempts++
	rec.LastSyncAttempt = &now
	m.records[id] = rec
	return nil
}

func (m *Memory) ExportGenerations(userID string) ([]GenerationRecord, error) {
	m.mu.RLock()
	var recs []GenerationRecord
	for _, rec := range m.records {
		if userID == "" || rec.UserID == userID {
			recs = append(recs, cloneRecord(rec))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

func (m *Memory) ImportGenerations(recs []GenerationRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, rec := range recs {
		if err := validateNew(rec); err != nil {
			return count, fmt.Errorf("record %d: %w", count, err)
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		now := memNow()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = now
		}
		m.records[rec.ID] = cloneRecord(rec)
		count++
	}
	return count, nil
}

func (m *Memory) Stats(userID string) (StorageStats, error) {
	if userID == "" {
		return StorageStats{}, ErrNotAuthenticated
	}

	m.mu.RLock()
	var recs []GenerationRecord
	for _, rec := range m.records {
		if rec.UserID == userID {
			recs = append(recs, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	if len(recs) > statsScanCap {
		recs = recs[:statsScanCap]
	}

	stats := StorageStats{ByType: make(map[RecordType]int)}
	for _, rec := range recs {
		stats.Total++
		stats.ByType[rec.Type]++
		if rec.Synced {
			stats.Synced++
		} else {
			stats.Unsynced++
		}
		if rec.SyncAttempts > 3 {
			stats.Failed++
		}
		stats.TotalBytes += int64(len(rec.Result)) + int64(len(rec.ResultBlob))

		created := rec.CreatedAt
		if stats.OldestCreatedAt == nil || created.Before(*stats.OldestCreatedAt) {
			stats.OldestCreatedAt = &created
		}
		if stats.NewestCreatedAt == nil || created.After(*stats.NewestCreatedAt) {
			stats.NewestCreatedAt = &created
		}
	}
	return stats, nil
}

func (m *Memory) GetSettings(userID string) (UserSettings, error) {
	if userID == "" {
		return UserSettings{}, ErrNotAuthenticated
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.settings[userID]; ok {
		return st, nil
	}
	return DefaultSettings(userID), nil
}

func (m *Memory) SaveSettings(st UserSettings) error {
	if st.UserID == "" {
		return ErrNotAuthenticated
	}

	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.SyncIntervalSeconds <= 0 {
		st.SyncIntervalSeconds = DefaultSettings(st.UserID).SyncIntervalSeconds
	}
	if st.Theme == "" {
		st.Theme = "system"
	}
	st.UpdatedAt = memNow()

	m.mu.Lock()
	defer m.mu.Unlock()

	// The row id survives upserts, like the unique-keyed SQLite row does.
	if prev, ok := m.settings[st.UserID]; ok {
		st.ID = prev.ID
	}
	m.settings[st.UserID] = st
	return nil
}

func (m *Memory) Close() error {
	return nil
}
