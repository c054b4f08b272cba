package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueryLimit = 100

	// statsScanCap bounds the record set stats are computed over so that a
	// very large vault never turns a stats call into a full-table scan.
	statsScanCap = 10000
)

const recordColumns = `id, user_id, type, prompt, result, result_blob, model, metadata, tags, favorite, synced, sync_attempts, last_sync_attempt, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (GenerationRecord, error) {
	var (
		rec          GenerationRecord
		metadataText string
		tagsText     string
		favorite     int
		synced       int
		lastSync     sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.Prompt, &rec.Result, &rec.ResultBlob,
		&rec.Model, &metadataText, &tagsText, &favorite, &synced, &rec.SyncAttempts,
		&lastSync, &createdAt, &updatedAt); err != nil {
		return GenerationRecord{}, err
	}

	rec.Favorite = favorite != 0
	rec.Synced = synced != 0

	if metadataText != "" && metadataText != "{}" {
		if err := json.Unmarshal([]byte(metadataText), &rec.Metadata); err != nil {
			return GenerationRecord{}, fmt.Errorf("decoding metadata for %s: %w", rec.ID, err)
		}
	}
	if tagsText != "" && tagsText != "[]" {
		if err := json.Unmarshal([]byte(tagsText), &rec.Tags); err != nil {
			return GenerationRecord{}, fmt.Errorf("decoding tags for %s: %w", rec.ID, err)
		}
	}
	if lastSync.Valid && lastSync.String != "" {
		t, err := time.Parse(time.RFC3339, lastSync.String)
		if err != nil {
			return GenerationRecord{}, fmt.Errorf("parsing last_sync_attempt for %s: %w", rec.ID, err)
		}
		rec.LastSyncAttempt = &t
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return GenerationRecord{}, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return GenerationRecord{}, fmt.Errorf("parsing updated_at for %s: %w", rec.ID, err)
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]GenerationRecord, error) {
	defer rows.Close()

	var recs []GenerationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(b), nil
}

func validateNew(rec GenerationRecord) error {
	if rec.UserID == "" {
		return ErrNotAuthenticated
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, rec.Type)
	}
	if strings.TrimSpace(rec.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	hasText := rec.Result != ""
	hasBlob := len(rec.ResultBlob) > 0
	if hasText == hasBlob {
		return fmt.Errorf("%w: exactly one of result and resultBlob must be set", ErrValidation)
	}
	return nil
}

// SaveGeneration persists a new record and returns its generated id. The
// caller's ID, CreatedAt, Favorite and sync bookkeeping fields are ignored:
// every saved record starts fresh and unsynced.
func (s *Store) SaveGeneration(rec GenerationRecord) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if err := validateNew(rec); err != nil {
		return "", err
	}

	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return "", err
	}
	tags, err := encodeTags(rec.Tags)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.Exec(`INSERT INTO generations
		(id, user_id, type, prompt, result, result_blob, model, metadata, tags, favorite, synced, sync_attempts, last_sync_attempt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, NULL, ?, ?)`,
		id, rec.UserID, string(rec.Type), rec.Prompt, rec.Result, rec.ResultBlob, rec.Model,
		metadata, tags, now, now)
	if err != nil {
		return "", fmt.Errorf("inserting generation: %w", err)
	}
	return id, nil
}

// GetGeneration returns the record with the given id, or ErrNotFound.
func (s *Store) GetGeneration(id string) (GenerationRecord, error) {
	if err := s.ready(); err != nil {
		return GenerationRecord{}, err
	}

	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM generations WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return GenerationRecord{}, ErrNotFound
	}
	if err != nil {
		return GenerationRecord{}, fmt.Errorf("loading generation %s: %w", id, err)
	}
	return rec, nil
}

// QueryGenerations returns the user's records filtered, sorted and paged per
// opts. Unset options fall back to newest-first with a limit of 100.
func (s *Store) QueryGenerations(userID string, opts QueryOptions) ([]GenerationRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	where := []string{"user_id = ?"}
	args := []any{userID}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.SyncedOnly {
		where = append(where, "synced = 1")
	}
	if opts.FavoritesOnly {
		where = append(where, "favorite = 1")
	}

	// Sort column and direction come from a whitelist, never from input.
	sortBy := SortByCreatedAt
	if opts.SortBy == SortByUpdatedAt {
		sortBy = SortByUpdatedAt
	}
	order := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		order = "ASC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`SELECT %s FROM generations WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		recordColumns, strings.Join(where, " AND "), sortBy, order)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying generations: %w", err)
	}
	return collectRecords(rows)
}

// UpdateGeneration applies the non-nil fields of upd to an existing record
// and bumps its updated_at. Returns ErrNotFound if the record is gone.
func (s *Store) UpdateGeneration(id string, upd RecordUpdate) error {
	if err := s.ready(); err != nil {
		return err
	}

	set := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339)}
	if upd.Favorite != nil {
		set = append(set, "favorite = ?")
		args = append(args, *upd.Favorite)
	}
	if upd.Tags != nil {
		tags, err := encodeTags(upd.Tags)
		if err != nil {
			return err
		}
		set = append(set, "tags = ?")
		args = append(args, tags)
	}
	if upd.Metadata != nil {
		metadata, err := encodeMetadata(upd.Metadata)
		if err != nil {
			return err
		}
		set = append(set, "metadata = ?")
		args = append(args, metadata)
	}
	if upd.Model != nil {
		set = append(set, "model = ?")
		args = append(args, *upd.Model)
	}
	if upd.Result != nil {
		set = append(set, "result = ?")
		args = append(args, *upd.Result)
	}
	args = append(args, id)

	res, err := s.db.Exec("UPDATE generations SET "+strings.Join(set, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating generation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleFavorite flips the favorite flag and returns the new value.
// Last writer wins when two togglers race.
func (s *Store) ToggleFavorite(id string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	res, err := s.db.Exec(`UPDATE generations SET favorite = 1 - favorite, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("toggling favorite for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}

	var favorite int
	if err := s.db.QueryRow("SELECT favorite FROM generations WHERE id = ?", id).Scan(&favorite); err != nil {
		return false, fmt.Errorf("reading favorite for %s: %w", id, err)
	}
	return favorite != 0, nil
}

// DeleteGeneration removes a single record, returning ErrNotFound if absent.
func (s *Store) DeleteGeneration(id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	res, err := s.db.Exec("DELETE FROM generations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting generation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGenerations removes the given ids best-effort and returns the ids
// that could not be deleted. A missing record counts as a failure but never
// stops the rest of the batch.
func (s *Store) DeleteGenerations(ids []string) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.DeleteGeneration(id); err != nil {
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed, nil
}

// ClearGenerations deletes every record belonging to the user and returns
// the number removed.
func (s *Store) ClearGenerations(userID string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, ErrNotAuthenticated
	}

	res, err := s.db.Exec("DELETE FROM generations WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("clearing generations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteOlderThan removes the user's records created before now minus the
// given number of days and returns the number removed.
func (s *Store) DeleteOlderThan(userID string, days int) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, ErrNotAuthenticated
	}
	if days < 0 {
		return 0, fmt.Errorf("%w: days must not be negative", ErrValidation)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	res, err := s.db.Exec("DELETE FROM generations WHERE user_id = ? AND created_at < ?", userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old generations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetUnsynced returns every unsynced record across all users, oldest first,
// which fixes the order a sync pass pushes them in.
func (s *Store) GetUnsynced() ([]GenerationRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT ` + recordColumns + ` FROM generations WHERE synced = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing unsynced generations: %w", err)
	}
	return collectRecords(rows)
}

// MarkSynced flags a record as pushed and stamps last_sync_attempt. It is
// idempotent and silently succeeds if the record was deleted meanwhile.
// Sync bookkeeping does not count as a user edit, so updated_at stays put.
func (s *Store) MarkSynced(id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.Exec("UPDATE generations SET synced = 1, last_sync_attempt = ? WHERE id = ?", now, id); err != nil {
		return fmt.Errorf("marking %s synced: %w", id, err)
	}
	return nil
}

// MarkSyncFailed increments the record's attempt counter and stamps
// last_sync_attempt. Silently succeeds if the record was deleted meanwhile.
func (s *Store) MarkSyncFailed(id string) error {
	if err := s.ready(); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.Exec("UPDATE generations SET sync_attempts = sync_attempts + 1, last_sync_attempt = ? WHERE id = ?", now, id); err != nil {
		return fmt.Errorf("recording failed sync for %s: %w", id, err)
	}
	return nil
}

// ExportGenerations returns the user's records oldest first. An empty userID
// exports every user's records.
func (s *Store) ExportGenerations(userID string) ([]GenerationRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT ` + recordColumns + ` FROM generations`
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("exporting generations: %w", err)
	}
	return collectRecords(rows)
}

// ImportGenerations upserts previously exported records by id, preserving
// their sync state and timestamps, and returns how many were written.
// Importing the same dump twice therefore yields no duplicates. The count
// reflects progress when an error cuts the import short.
func (s *Store) ImportGenerations(recs []GenerationRecord) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range recs {
		if err := validateNew(rec); err != nil {
			return count, fmt.Errorf("record %d: %w", count, err)
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = now
		}

		metadata, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return count, err
		}
		tags, err := encodeTags(rec.Tags)
		if err != nil {
			return count, err
		}
		var lastSync any
		if rec.LastSyncAttempt != nil {
			lastSync = rec.LastSyncAttempt.UTC().Format(time.RFC3339)
		}

		_, err = s.db.Exec(`INSERT INTO generations
			(id, user_id, type, prompt, result, result_blob, model, metadata, tags, favorite, synced, sync_attempts, last_sync_attempt, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				type = excluded.type,
				prompt = excluded.prompt,
				result = excluded.result,
				result_blob = excluded.result_blob,
				model = excluded.model,
				metadata = excluded.metadata,
				tags = excluded.tags,
				favorite = excluded.favorite,
				synced = excluded.synced,
				sync_attempts = excluded.sync_attempts,
				last_sync_attempt = excluded.last_sync_attempt,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at`,
			rec.ID, rec.UserID, string(rec.Type), rec.Prompt, rec.Result, rec.ResultBlob, rec.Model,
			metadata, tags, rec.Favorite, rec.Synced, rec.SyncAttempts, lastSync,
			rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return count, fmt.Errorf("importing %s: %w", rec.ID, err)
		}
		count++
	}
	return count, nil
}

// Stats computes aggregate counts and payload size over the user's newest
// records (capped at statsScanCap). Nothing is cached; every call reflects
// the store as it is now.
func (s *Store) Stats(userID string) (StorageStats, error) {
	if err := s.ready(); err != nil {
		return StorageStats{}, err
	}
	if userID == "" {
		return StorageStats{}, ErrNotAuthenticated
	}

	// LENGTH on a TEXT column counts characters; casting to BLOB first makes
	// it count bytes, matching the blob branch.
	const base = `SELECT type, synced, sync_attempts,
		LENGTH(CAST(result AS BLOB)) + COALESCE(LENGTH(result_blob), 0) AS bytes,
		created_at
		FROM generations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`

	stats := StorageStats{ByType: make(map[RecordType]int)}

	var (
		syncedCount int
		failed      int
		totalBytes  sql.NullInt64
		oldest      sql.NullString
		newest      sql.NullString
	)
	err := s.db.QueryRow(`SELECT COUNT(*),
			COALESCE(SUM(synced), 0),
			COALESCE(SUM(CASE WHEN sync_attempts > 3 THEN 1 ELSE 0 END), 0),
			SUM(bytes), MIN(created_at), MAX(created_at)
		FROM (`+base+`)`, userID, statsScanCap).
		Scan(&stats.Total, &syncedCount, &failed, &totalBytes, &oldest, &newest)
	if err != nil {
		return StorageStats{}, fmt.Errorf("computing stats: %w", err)
	}
	stats.Synced = syncedCount
	stats.Unsynced = stats.Total - syncedCount
	stats.Failed = failed
	stats.TotalBytes = totalBytes.Int64

	if oldest.Valid {
		t, err := time.Parse(time.RFC3339, oldest.String)
		if err != nil {
			return StorageStats{}, fmt.Errorf("parsing oldest created_at: %w", err)
		}
		stats.OldestCreatedAt = &t
	}
	if newest.Valid {
		t, err := time.Parse(time.RFC3339, newest.String)
		if err != nil {
			return StorageStats{}, fmt.Errorf("parsing newest created_at: %w", err)
		}
		stats.NewestCreatedAt = &t
	}

	rows, err := s.db.Query(`SELECT type, COUNT(*) FROM (`+base+`) GROUP BY type`, userID, statsScanCap)
	if err != nil {
		return StorageStats{}, fmt.Errorf("computing per-type stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ RecordType
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return StorageStats{}, err
		}
		stats.ByType[typ] = n
	}
	return stats, rows.Err()
}
