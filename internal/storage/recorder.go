package storage

// Recorder is the persistence surface the rest of the daemon works against.
// Store is the durable SQLite implementation; Memory keeps the application
// usable, without persistence, when the database cannot be opened.
type Recorder interface {
	SaveGeneration(rec GenerationRecord) (string, error)
	GetGeneration(id string) (GenerationRecord, error)
	QueryGenerations(userID string, opts QueryOptions) ([]GenerationRecord, error)
	UpdateGeneration(id string, upd RecordUpdate) error
	ToggleFavorite(id string) (bool, error)
	DeleteGeneration(id string) error
	DeleteGenerations(ids []string) ([]string, error)
	ClearGenerations(userID string) (int, error)
	DeleteOlderThan(userID string, days int) (int, error)
	GetUnsynced() ([]GenerationRecord, error)
	MarkSynced(id string) error
	MarkSyncFailed(id string) error
	ExportGenerations(userID string) ([]GenerationRecord, error)
	ImportGenerations(recs []GenerationRecord) (int, error)
	Stats(userID string) (StorageStats, error)
	GetSettings(userID string) (UserSettings, error)
	SaveSettings(st UserSettings) error
	Close() error
}

var (
	_ Recorder = (*Store)(nil)
	_ Recorder = (*Memory)(nil)
)
