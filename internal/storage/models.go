package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned by every operation once the underlying
	// database failed to open. Callers degrade to the in-memory store instead
	// of aborting.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotAuthenticated is returned when an operation that needs an owner is
	// invoked without a user id.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrValidation is returned when a write carries missing or malformed fields.
	ErrValidation = errors.New("invalid record")
)

// RecordType classifies the artifact a generation produced.
type RecordType string

const (
	TypeImage        RecordType = "image"
	TypeVideo        RecordType = "video"
	TypeAudio        RecordType = "audio"
	TypeCode         RecordType = "code"
	TypeConversation RecordType = "conversation"
)

// Valid reports whether t is one of the known record types. The set is
// closed; a record's type never changes after creation.
func (t RecordType) Valid() bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeCode, TypeConversation:
		return true
	}
	return false
}

// GenerationRecord is one stored generation: the prompt that produced it, the
// result payload, and the bookkeeping the sync loop maintains. Exactly one of
// Result and ResultBlob is set; blob results are base64-encoded before they
// leave the device.
type GenerationRecord struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	Type            RecordType        `json:"type"`
	Prompt          string            `json:"prompt"`
	Result          string            `json:"result,omitempty"`
	ResultBlob      []byte            `json:"resultBlob,omitempty"`
	Model           string            `json:"model,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Favorite        bool              `json:"favorite"`
	Synced          bool              `json:"synced"`
	SyncAttempts    int               `json:"syncAttempts"`
	LastSyncAttempt *time.Time        `json:"lastSyncAttempt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// RecordUpdate is a partial update. Nil fields are left untouched; a non-nil
// empty Tags or Metadata clears the stored value. Type and prompt are not
// updatable.
type RecordUpdate struct {
	Favorite *bool             `json:"favorite,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Model    *string           `json:"model,omitempty"`
	Result   *string           `json:"result,omitempty"`
}

// Sort keys accepted by QueryOptions.SortBy.
const (
	SortByCreatedAt = "created_at"
	SortByUpdatedAt = "updated_at"
)

// QueryOptions narrows and pages a generation listing. The zero value lists
// the user's newest 100 records.
type QueryOptions struct {
	Type          RecordType // empty matches every type
	SyncedOnly    bool
	FavoritesOnly bool
	Limit         int    // default 100
	Offset        int
	SortBy        string // SortByCreatedAt (default) or SortByUpdatedAt
	SortOrder     string // "asc" or "desc" (default)
}

// UserSettings is the per-user preference row kept alongside generations.
type UserSettings struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	SyncEnabled         bool      `json:"syncEnabled"`
	SyncIntervalSeconds int       `json:"syncIntervalSeconds"`
	Theme               string    `json:"theme"`
	DefaultModel        string    `json:"defaultModel,omitempty"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// DefaultSettings returns the settings presented for a user who never saved
// any. The id stays empty until the row is first written.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:              userID,
		SyncEnabled:         true,
		SyncIntervalSeconds: 300,
		Theme:               "system",
	}
}

// StorageStats summarizes a user's stored generations. Derived on demand and
// never cached: the numbers are only valid for the moment of the query.
type StorageStats struct {
	Total           int                `json:"total"`
	ByType          map[RecordType]int `json:"byType"`
	Synced          int                `json:"synced"`
	Unsynced        int                `json:"unsynced"`
	Failed          int                `json:"failed"`
	TotalBytes      int64              `json:"totalBytes"`
	OldestCreatedAt *time.Time         `json:"oldestCreatedAt,omitempty"`
	NewestCreatedAt *time.Time         `json:"newestCreatedAt,omitempty"`
}
