package storage

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"
)

func saveTestRecord(t *testing.T, s *Store, userID string, typ RecordType, prompt string) string {
	t.Helper()
	id, err := s.SaveGeneration(GenerationRecord{
		UserID: userID,
		Type:   typ,
		Prompt: prompt,
		Result: "result of " + prompt,
	})
	if err != nil {
		t.Fatalf("SaveGeneration(%q): %v", prompt, err)
	}
	return id
}

// setCreatedAt backdates a record so time-ordered tests don't depend on
// wall-clock ties at second precision.
func setCreatedAt(t *testing.T, s *Store, id string, at time.Time) {
	t.Helper()
	if _, err := s.db.Exec("UPDATE generations SET created_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id); err != nil {
		t.Fatalf("backdating created_at for %s: %v", id, err)
	}
}

func setUpdatedAt(t *testing.T, s *Store, id string, at time.Time) {
	t.Helper()
	if _, err := s.db.Exec("UPDATE generations SET updated_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id); err != nil {
		t.Fatalf("backdating updated_at for %s: %v", id, err)
	}
}

// TestSaveAndGetGeneration saves a record and verifies every stored field.
func TestSaveAndGetGeneration(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveGeneration(GenerationRecord{
		UserID:   "u1",
		Type:     TypeImage,
		Prompt:   "a lighthouse at dusk",
		Result:   "https://cdn.example.com/img/123.png",
		Model:    "sd-xl-1.0",
		Metadata: map[string]string{"width": "1024", "height": "768"},
		Tags:     []string{"landscape", "night"},
	})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	if id == "" {
		t.Fatal("SaveGeneration returned empty id")
	}

	got, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}

	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "u1")
	}
	if got.Type != TypeImage {
		t.Errorf("Type = %q, want %q", got.Type, TypeImage)
	}
	if got.Prompt != "a lighthouse at dusk" {
		t.Errorf("Prompt = %q, want %q", got.Prompt, "a lighthouse at dusk")
	}
	if got.Result != "https://cdn.example.com/img/123.png" {
		t.Errorf("Result = %q, want %q", got.Result, "https://cdn.example.com/img/123.png")
	}
	if got.Model != "sd-xl-1.0" {
		t.Errorf("Model = %q, want %q", got.Model, "sd-xl-1.0")
	}
	if got.Metadata["width"] != "1024" || got.Metadata["height"] != "768" {
		t.Errorf("Metadata = %v, want width=1024 height=768", got.Metadata)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "landscape" || got.Tags[1] != "night" {
		t.Errorf("Tags = %v, want [landscape night]", got.Tags)
	}
	if got.Favorite {
		t.Error("Favorite = true, want false on fresh save")
	}
	if got.Synced {
		t.Error("Synced = true, want false on fresh save")
	}
	if got.SyncAttempts != 0 {
		t.Errorf("SyncAttempts = %d, want 0", got.SyncAttempts)
	}
	if got.LastSyncAttempt != nil {
		t.Errorf("LastSyncAttempt = %v, want nil", got.LastSyncAttempt)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestSaveGeneration_Validation(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name    string
		rec     GenerationRecord
		wantErr error
	}{
		{
			name:    "missing user",
			rec:     GenerationRecord{Type: TypeImage, Prompt: "p", Result: "r"},
			wantErr: ErrNotAuthenticated,
		},
		{
			name:    "unknown type",
			rec:     GenerationRecord{UserID: "u1", Type: "hologram", Prompt: "p", Result: "r"},
			wantErr: ErrValidation,
		},
		{
			name:    "empty prompt",
			rec:     GenerationRecord{UserID: "u1", Type: TypeImage, Prompt: "   ", Result: "r"},
			wantErr: ErrValidation,
		},
		{
			name:    "no result at all",
			rec:     GenerationRecord{UserID: "u1", Type: TypeImage, Prompt: "p"},
			wantErr: ErrValidation,
		},
		{
			name:    "both result and blob",
			rec:     GenerationRecord{UserID: "u1", Type: TypeImage, Prompt: "p", Result: "r", ResultBlob: []byte{1}},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SaveGeneration(tt.rec)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestSaveGeneration_IgnoresCallerBookkeeping verifies save always starts a
// record fresh regardless of what the caller filled in.
func TestSaveGeneration_IgnoresCallerBookkeeping(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveGeneration(GenerationRecord{
		ID:           "caller-chosen",
		UserID:       "u1",
		Type:         TypeCode,
		Prompt:       "p",
		Result:       "r",
		Favorite:     true,
		Synced:       true,
		SyncAttempts: 7,
	})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	if id == "caller-chosen" {
		t.Error("caller-supplied id was kept, want a generated one")
	}

	got, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.Favorite || got.Synced || got.SyncAttempts != 0 {
		t.Errorf("bookkeeping not reset: favorite=%v synced=%v attempts=%d",
			got.Favorite, got.Synced, got.SyncAttempts)
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetGeneration("does-not-exist")
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestBlobRoundTrip stores a binary result and reads it back unchanged.
func TestBlobRoundTrip(t *testing.T) {
	s := openTestStore(t)

	blob := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff, 0x7f}
	id, err := s.SaveGeneration(GenerationRecord{
		UserID:     "u1",
		Type:       TypeAudio,
		Prompt:     "p",
		ResultBlob: blob,
	})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}

	got, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if !bytes.Equal(got.ResultBlob, blob) {
		t.Errorf("ResultBlob = %v, want %v", got.ResultBlob, blob)
	}
	if got.Result != "" {
		t.Errorf("Result = %q, want empty when blob is set", got.Result)
	}
}

func TestUpdateGeneration(t *testing.T) {
	s := openTestStore(t)
	id := saveTestRecord(t, s, "u1", TypeImage, "original")

	fav := true
	model := "sd-turbo"
	if err := s.UpdateGeneration(id, RecordUpdate{
		Favorite: &fav,
		Tags:     []string{"edited"},
		Metadata: map[string]string{"revised": "yes"},
		Model:    &model,
	}); err != nil {
		t.Fatalf("UpdateGeneration: %v", err)
	}

	got, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if !got.Favorite {
		t.Error("Favorite = false, want true")
	}
	if len(got.Tags) != 1 || got.Tags[0] != "edited" {
		t.Errorf("Tags = %v, want [edited]", got.Tags)
	}
	if got.Metadata["revised"] != "yes" {
		t.Errorf("Metadata = %v, want revised=yes", got.Metadata)
	}
	if got.Model != "sd-turbo" {
		t.Errorf("Model = %q, want %q", got.Model, "sd-turbo")
	}
	if got.Prompt != "original" {
		t.Errorf("Prompt = %q, want unchanged %q", got.Prompt, "original")
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}
}

// TestUpdateGeneration_PartialMerge updates one field and verifies the others
// keep their values.
func TestUpdateGeneration_PartialMerge(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveGeneration(GenerationRecord{
		UserID: "u1",
		Type:   TypeCode,
		Prompt: "p",
		Result: "r",
		Tags:   []string{"keep-me"},
	})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}

	model := "gpt-x"
	if err := s.UpdateGeneration(id, RecordUpdate{Model: &model}); err != nil {
		t.Fatalf("UpdateGeneration: %v", err)
	}

	got, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.Model != "gpt-x" {
		t.Errorf("Model = %q, want %q", got.Model, "gpt-x")
	}
	if len(got.Tags) != 1 || got.Tags[0] != "keep-me" {
		t.Errorf("Tags = %v, want untouched [keep-me]", got.Tags)
	}
	if got.Result != "r" {
		t.Errorf("Result = %q, want untouched %q", got.Result, "r")
	}
}

func TestUpdateGenerationNotFound(t *testing.T) {
	s := openTestStore(t)

	fav := true
	err := s.UpdateGeneration("ghost", RecordUpdate{Favorite: &fav})
	if err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestQueryGenerations_Filters(t *testing.T) {
	s := openTestStore(t)

	img1 := saveTestRecord(t, s, "u1", TypeImage, "img one")
	img2 := saveTestRecord(t, s, "u1", TypeImage, "img two")
	code := saveTestRecord(t, s, "u1", TypeCode, "code one")
	saveTestRecord(t, s, "u2", TypeImage, "someone else's")

	if err := s.MarkSynced(img1); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if _, err := s.ToggleFavorite(code); err != nil {
		t.Fatalf("ToggleFavorite: %v", err)
	}

	all, err := s.QueryGenerations("u1", QueryOptions{})
	if err != nil {
		t.Fatalf("QueryGenerations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records for u1, want 3", len(all))
	}

	images, err := s.QueryGenerations("u1", QueryOptions{Type: TypeImage})
	if err != nil {
		t.Fatalf("QueryGenerations(type): %v", err)
	}
	if len(images) != 2 {
		t.Errorf("got %d image records, want 2", len(images))
	}
	for _, rec := range images {
		if rec.ID != img1 && rec.ID != img2 {
			t.Errorf("unexpected record %q in image filter", rec.ID)
		}
	}

	synced, err := s.QueryGenerations("u1", QueryOptions{SyncedOnly: true})
	if err != nil {
		t.Fatalf("QueryGenerations(synced): %v", err)
	}
	if len(synced) != 1 || synced[0].ID != img1 {
		t.Errorf("synced filter = %v, want just %q", synced, img1)
	}

	favs, err := s.QueryGenerations("u1", QueryOptions{FavoritesOnly: true})
	if err != nil {
		t.Fatalf("QueryGenerations(favorites): %v", err)
	}
	if len(favs) != 1 || favs[0].ID != code {
		t.Errorf("favorites filter = %v, want just %q", favs, code)
	}
}

func TestQueryGenerations_SortAndPage(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 5)
	for i := 0; i < 5; i++ {
		ids[i] = saveTestRecord(t, s, "u1", TypeConversation, fmt.Sprintf("chat %d", i))
		setCreatedAt(t, s, ids[i], base.Add(time.Duration(i)*time.Hour))
		setUpdatedAt(t, s, ids[i], base.Add(time.Duration(5-i)*time.Hour))
	}

	// Default order is created_at descending.
	got, err := s.QueryGenerations("u1", QueryOptions{})
	if err != nil {
		t.Fatalf("QueryGenerations: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d records, want 5", len(got))
	}
	if got[0].ID != ids[4] || got[4].ID != ids[0] {
		t.Errorf("default order wrong: first=%q last=%q, want first=%q last=%q",
			got[0].ID, got[4].ID, ids[4], ids[0])
	}

	asc, err := s.QueryGenerations("u1", QueryOptions{SortOrder: "asc"})
	if err != nil {
		t.Fatalf("QueryGenerations(asc): %v", err)
	}
	if asc[0].ID != ids[0] {
		t.Errorf("ascending order wrong: first=%q, want %q", asc[0].ID, ids[0])
	}

	byUpdated, err := s.QueryGenerations("u1", QueryOptions{SortBy: SortByUpdatedAt})
	if err != nil {
		t.Fatalf("QueryGenerations(updated_at): %v", err)
	}
	if byUpdated[0].ID != ids[0] {
		t.Errorf("updated_at order wrong: first=%q, want %q", byUpdated[0].ID, ids[0])
	}

	page, err := s.QueryGenerations("u1", QueryOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("QueryGenerations(page): %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d records on page, want 2", len(page))
	}
	if page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Errorf("page = [%q %q], want [%q %q]", page[0].ID, page[1].ID, ids[2], ids[1])
	}
}

// TestQueryGenerations_DefaultLimit verifies an unset limit caps results at 100.
func TestQueryGenerations_DefaultLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 120; i++ {
		saveTestRecord(t, s, "u1", TypeCode, fmt.Sprintf("snippet %03d", i))
	}

	got, err := s.QueryGenerations("u1", QueryOptions{})
	if err != nil {
		t.Fatalf("QueryGenerations: %v", err)
	}
	if len(got) != 100 {
		t.Errorf("got %d records, want default limit 100", len(got))
	}
}

func TestQueryGenerations_RequiresUser(t *testing.T) {
	s := openTestStore(t)

	_, err := s.QueryGenerations("", QueryOptions{})
	if err != ErrNotAuthenticated {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestToggleFavorite(t *testing.T) {
	s := openTestStore(t)
	id := saveTestRecord(t, s, "u1", TypeImage, "toggle me")

	on, err := s.ToggleFavorite(id)
	if err != nil {
		t.Fatalf("first ToggleFavorite: %v", err)
	}
	if !on {
		t.Error("first toggle = false, want true")
	}

	off, err := s.ToggleFavorite(id)
	if err != nil {
		t.Fatalf("second ToggleFavorite: %v", err)
	}
	if off {
		t.Error("second toggle = true, want false")
	}

	if _, err := s.ToggleFavorite("ghost"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteGeneration(t *testing.T) {
	s := openTestStore(t)
	id := saveTestRecord(t, s, "u1", TypeVideo, "delete me")

	if err := s.DeleteGeneration(id); err != nil {
		t.Fatalf("DeleteGeneration: %v", err)
	}
	if _, err := s.GetGeneration(id); err != ErrNotFound {
		t.Errorf("after delete, error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteGeneration(id); err != ErrNotFound {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}

// TestDeleteGenerations_BestEffort verifies one bad id doesn't block the rest.
func TestDeleteGenerations_BestEffort(t *testing.T) {
	s := openTestStore(t)

	a := saveTestRecord(t, s, "u1", TypeImage, "a")
	b := saveTestRecord(t, s, "u1", TypeImage, "b")

	failed, err := s.DeleteGenerations([]string{a, "ghost", b})
	if err != nil {
		t.Fatalf("DeleteGenerations: %v", err)
	}
	if len(failed) != 1 || failed[0] != "ghost" {
		t.Errorf("failed = %v, want [ghost]", failed)
	}

	if _, err := s.GetGeneration(a); err != ErrNotFound {
		t.Errorf("record %q survived bulk delete", a)
	}
	if _, err := s.GetGeneration(b); err != ErrNotFound {
		t.Errorf("record %q survived bulk delete", b)
	}
}

func TestClearGenerations(t *testing.T) {
	s := openTestStore(t)

	saveTestRecord(t, s, "u1", TypeImage, "one")
	saveTestRecord(t, s, "u1", TypeCode, "two")
	saveTestRecord(t, s, "u1", TypeAudio, "three")
	other := saveTestRecord(t, s, "u2", TypeImage, "keep")

	n, err := s.ClearGenerations("u1")
	if err != nil {
		t.Fatalf("ClearGenerations: %v", err)
	}
	if n != 3 {
		t.Errorf("cleared %d records, want 3", n)
	}

	if _, err := s.GetGeneration(other); err != nil {
		t.Errorf("other user's record was cleared: %v", err)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := openTestStore(t)

	old1 := saveTestRecord(t, s, "u1", TypeImage, "old one")
	old2 := saveTestRecord(t, s, "u1", TypeImage, "old two")
	fresh := saveTestRecord(t, s, "u1", TypeImage, "fresh")
	otherOld := saveTestRecord(t, s, "u2", TypeImage, "other user, old")

	cutoff := time.Now().UTC().AddDate(0, 0, -40)
	setCreatedAt(t, s, old1, cutoff)
	setCreatedAt(t, s, old2, cutoff)
	setCreatedAt(t, s, otherOld, cutoff)

	n, err := s.DeleteOlderThan("u1", 30)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d records, want 2", n)
	}

	if _, err := s.GetGeneration(fresh); err != nil {
		t.Errorf("fresh record deleted: %v", err)
	}
	if _, err := s.GetGeneration(otherOld); err != nil {
		t.Errorf("other user's record deleted: %v", err)
	}

	if _, err := s.DeleteOlderThan("u1", -1); !errors.Is(err, ErrValidation) {
		t.Errorf("negative days error = %v, want ErrValidation", err)
	}
}

// TestGetUnsynced_OrderAndScope verifies the sync backlog spans all users and
// comes back oldest first.
func TestGetUnsynced_OrderAndScope(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	c := saveTestRecord(t, s, "u2", TypeImage, "third")
	a := saveTestRecord(t, s, "u1", TypeImage, "first")
	b := saveTestRecord(t, s, "u1", TypeCode, "second")
	setCreatedAt(t, s, a, base)
	setCreatedAt(t, s, b, base.Add(1*time.Hour))
	setCreatedAt(t, s, c, base.Add(2*time.Hour))

	done := saveTestRecord(t, s, "u1", TypeImage, "already pushed")
	if err := s.MarkSynced(done); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	got, err := s.GetUnsynced()
	if err != nil {
		t.Fatalf("GetUnsynced: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d unsynced records, want 3", len(got))
	}
	if got[0].ID != a || got[1].ID != b || got[2].ID != c {
		t.Errorf("order = [%q %q %q], want [%q %q %q]",
			got[0].ID, got[1].ID, got[2].ID, a, b, c)
	}
}

// TestMarkSynced_Idempotent verifies a second MarkSynced only moves
// last_sync_attempt: synced stays true and updated_at stays put.
func TestMarkSynced_Idempotent(t *testing.T) {
	s := openTestStore(t)
	id := saveTestRecord(t, s, "u1", TypeImage, "push me")

	before, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}

	if err := s.MarkSynced(id); err != nil {
		t.Fatalf("first MarkSynced: %v", err)
	}
	first, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if !first.Synced {
		t.Error("Synced = false after MarkSynced")
	}
	if first.LastSyncAttempt == nil {
		t.Fatal("LastSyncAttempt not set by MarkSynced")
	}
	if !first.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("UpdatedAt moved by MarkSynced: %v -> %v", before.UpdatedAt, first.UpdatedAt)
	}

	if err := s.MarkSynced(id); err != nil {
		t.Fatalf("second MarkSynced: %v", err)
	}
	second, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if !second.Synced {
		t.Error("Synced flipped back to false")
	}
	if second.SyncAttempts != first.SyncAttempts {
		t.Errorf("SyncAttempts changed: %d -> %d", first.SyncAttempts, second.SyncAttempts)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("UpdatedAt moved by second MarkSynced: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestMarkSynced_MissingRecord(t *testing.T) {
	s := openTestStore(t)

	if err := s.MarkSynced("ghost"); err != nil {
		t.Errorf("MarkSynced on missing record = %v, want nil", err)
	}
}

func TestMarkSyncFailed(t *testing.T) {
	s := openTestStore(t)
	id := saveTestRecord(t, s, "u1", TypeImage, "failing push")

	if err := s.MarkSyncFailed(id); err != nil {
		t.Fatalf("first MarkSyncFailed: %v", err)
	}
	if err := s.MarkSyncFailed(id); err != nil {
		t.Fatalf("second MarkSyncFailed: %v", err)
	}

	got, err := s.GetGeneration(id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.SyncAttempts != 2 {
		t.Errorf("SyncAttempts = %d, want 2", got.SyncAttempts)
	}
	if got.Synced {
		t.Error("Synced = true after failures, want false")
	}
	if got.LastSyncAttempt == nil {
		t.Error("LastSyncAttempt not set by MarkSyncFailed")
	}

	if err := s.MarkSyncFailed("ghost"); err != nil {
		t.Errorf("MarkSyncFailed on missing record = %v, want nil", err)
	}
}

// TestExportImportRoundTrip exports, wipes and re-imports, then verifies
// nothing was lost and a second import creates no duplicates.
func TestExportImportRoundTrip(t *testing.T) {
	s := openTestStore(t)

	textID := saveTestRecord(t, s, "u1", TypeConversation, "round trip text")
	blobID, err := s.SaveGeneration(GenerationRecord{
		UserID:     "u1",
		Type:       TypeImage,
		Prompt:     "round trip blob",
		ResultBlob: []byte{1, 2, 3, 4},
		Tags:       []string{"export"},
		Metadata:   map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	if err := s.MarkSynced(textID); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	dump, err := s.ExportGenerations("u1")
	if err != nil {
		t.Fatalf("ExportGenerations: %v", err)
	}
	if len(dump) != 2 {
		t.Fatalf("exported %d records, want 2", len(dump))
	}

	if _, err := s.ClearGenerations("u1"); err != nil {
		t.Fatalf("ClearGenerations: %v", err)
	}

	n, err := s.ImportGenerations(dump)
	if err != nil {
		t.Fatalf("ImportGenerations: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d records, want 2", n)
	}

	text, err := s.GetGeneration(textID)
	if err != nil {
		t.Fatalf("GetGeneration after import: %v", err)
	}
	if !text.Synced {
		t.Error("sync state lost on import")
	}

	blob, err := s.GetGeneration(blobID)
	if err != nil {
		t.Fatalf("GetGeneration after import: %v", err)
	}
	if !bytes.Equal(blob.ResultBlob, []byte{1, 2, 3, 4}) {
		t.Errorf("ResultBlob = %v, want [1 2 3 4]", blob.ResultBlob)
	}
	if blob.Metadata["k"] != "v" || len(blob.Tags) != 1 {
		t.Errorf("metadata/tags lost on import: md=%v tags=%v", blob.Metadata, blob.Tags)
	}

	// Importing the same dump again must not duplicate anything.
	if _, err := s.ImportGenerations(dump); err != nil {
		t.Fatalf("second ImportGenerations: %v", err)
	}
	all, err := s.ExportGenerations("u1")
	if err != nil {
		t.Fatalf("ExportGenerations: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("after double import got %d records, want 2", len(all))
	}
}

func TestImportGenerations_GeneratesMissingIDs(t *testing.T) {
	s := openTestStore(t)

	n, err := s.ImportGenerations([]GenerationRecord{
		{UserID: "u1", Type: TypeCode, Prompt: "no id", Result: "r"},
	})
	if err != nil {
		t.Fatalf("ImportGenerations: %v", err)
	}
	if n != 1 {
		t.Fatalf("imported %d records, want 1", n)
	}

	got, err := s.QueryGenerations("u1", QueryOptions{})
	if err != nil {
		t.Fatalf("QueryGenerations: %v", err)
	}
	if len(got) != 1 || got[0].ID == "" {
		t.Errorf("imported record missing generated id: %+v", got)
	}
}

// TestImportGenerations_StopsOnInvalid verifies the returned count reflects
// progress before the bad record.
func TestImportGenerations_StopsOnInvalid(t *testing.T) {
	s := openTestStore(t)

	n, err := s.ImportGenerations([]GenerationRecord{
		{ID: "ok-1", UserID: "u1", Type: TypeCode, Prompt: "fine", Result: "r"},
		{ID: "bad-1", UserID: "u1", Type: "hologram", Prompt: "broken", Result: "r"},
		{ID: "ok-2", UserID: "u1", Type: TypeCode, Prompt: "never reached", Result: "r"},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	img1, err := s.SaveGeneration(GenerationRecord{UserID: "u1", Type: TypeImage, Prompt: "p", Result: "aaaa"})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	img2, err := s.SaveGeneration(GenerationRecord{UserID: "u1", Type: TypeImage, Prompt: "p", Result: "bb"})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	blob, err := s.SaveGeneration(GenerationRecord{UserID: "u1", Type: TypeAudio, Prompt: "p", ResultBlob: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	saveTestRecord(t, s, "u2", TypeImage, "not mine")

	setCreatedAt(t, s, img1, base)
	setCreatedAt(t, s, img2, base.Add(1*time.Hour))
	setCreatedAt(t, s, blob, base.Add(2*time.Hour))

	if err := s.MarkSynced(img1); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	// Push img2 over the failure threshold.
	for i := 0; i < 4; i++ {
		if err := s.MarkSyncFailed(img2); err != nil {
			t.Fatalf("MarkSyncFailed: %v", err)
		}
	}

	stats, err := s.Stats("u1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByType[TypeImage] != 2 || stats.ByType[TypeAudio] != 1 {
		t.Errorf("ByType = %v, want image:2 audio:1", stats.ByType)
	}
	if stats.Synced != 1 {
		t.Errorf("Synced = %d, want 1", stats.Synced)
	}
	if stats.Unsynced != 2 {
		t.Errorf("Unsynced = %d, want 2", stats.Unsynced)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	wantBytes := int64(len("aaaa") + len("bb") + 3)
	if stats.TotalBytes != wantBytes {
		t.Errorf("TotalBytes = %d, want %d", stats.TotalBytes, wantBytes)
	}
	if stats.OldestCreatedAt == nil || !stats.OldestCreatedAt.Equal(base) {
		t.Errorf("OldestCreatedAt = %v, want %v", stats.OldestCreatedAt, base)
	}
	if stats.NewestCreatedAt == nil || !stats.NewestCreatedAt.Equal(base.Add(2*time.Hour)) {
		t.Errorf("NewestCreatedAt = %v, want %v", stats.NewestCreatedAt, base.Add(2*time.Hour))
	}
}

func TestStats_EmptyStore(t *testing.T) {
	s := openTestStore(t)

	stats, err := s.Stats("u1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 0 || stats.TotalBytes != 0 {
		t.Errorf("empty stats = %+v, want zeros", stats)
	}
	if stats.OldestCreatedAt != nil || stats.NewestCreatedAt != nil {
		t.Errorf("timestamps set on empty store: oldest=%v newest=%v",
			stats.OldestCreatedAt, stats.NewestCreatedAt)
	}
	if len(stats.ByType) != 0 {
		t.Errorf("ByType = %v, want empty", stats.ByType)
	}

	if _, err := s.Stats(""); err != ErrNotAuthenticated {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestGetSettings_Defaults(t *testing.T) {
	s := openTestStore(t)

	st, err := s.GetSettings("u1")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if st.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", st.UserID, "u1")
	}
	if !st.SyncEnabled {
		t.Error("SyncEnabled = false, want true by default")
	}
	if st.SyncIntervalSeconds != 300 {
		t.Errorf("SyncIntervalSeconds = %d, want 300", st.SyncIntervalSeconds)
	}
	if st.Theme != "system" {
		t.Errorf("Theme = %q, want %q", st.Theme, "system")
	}

	if _, err := s.GetSettings(""); err != ErrNotAuthenticated {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestSaveSettings_Upsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveSettings(UserSettings{
		UserID:              "u1",
		SyncEnabled:         false,
		SyncIntervalSeconds: 600,
		Theme:               "dark",
		DefaultModel:        "sd-xl",
	}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	first, err := s.GetSettings("u1")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if first.SyncEnabled {
		t.Error("SyncEnabled = true, want false")
	}
	if first.SyncIntervalSeconds != 600 {
		t.Errorf("SyncIntervalSeconds = %d, want 600", first.SyncIntervalSeconds)
	}
	if first.Theme != "dark" {
		t.Errorf("Theme = %q, want %q", first.Theme, "dark")
	}
	if first.DefaultModel != "sd-xl" {
		t.Errorf("DefaultModel = %q, want %q", first.DefaultModel, "sd-xl")
	}

	// Overwrite and verify the upsert keeps one row per user.
	if err := s.SaveSettings(UserSettings{UserID: "u1", Theme: "light", SyncEnabled: true}); err != nil {
		t.Fatalf("SaveSettings (overwrite): %v", err)
	}
	second, err := s.GetSettings("u1")
	if err != nil {
		t.Fatalf("GetSettings (overwrite): %v", err)
	}
	if second.Theme != "light" {
		t.Errorf("Theme = %q, want %q", second.Theme, "light")
	}
	if second.ID != first.ID {
		t.Errorf("row id changed on upsert: %q -> %q", first.ID, second.ID)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM user_settings WHERE user_id = 'u1'").Scan(&count); err != nil {
		t.Fatalf("counting settings rows: %v", err)
	}
	if count != 1 {
		t.Errorf("settings rows = %d, want 1", count)
	}
}
