package chat

// Collection names used by the worker.
const (
	CollectionChats    = "chats"
	CollectionUsers    = "users"
	CollectionMessages = "messages"
	CollectionMetrics  = "metrics"
	CollectionSessions = "sessions"
)

// WritePolicy determines how buffered records for a collection are written
// in bulk.
type WritePolicy int

const (
	// InsertOnly appends records blindly. Duplicate-key failures on
	// individual records are expected and tolerated.
	InsertOnly WritePolicy = iota

	// UpsertByKey replaces the record matching its natural key, creating
	// it on absence.
	UpsertByKey
)

// WritePolicies maps each buffered collection to its bulk-write policy.
// Entities with a natural key are replaced idempotently; event-style
// collections are append-only.
var WritePolicies = map[string]WritePolicy{
	CollectionChats:    UpsertByKey,
	CollectionUsers:    UpsertByKey,
	CollectionMessages: InsertOnly,
	CollectionMetrics:  InsertOnly,
}
