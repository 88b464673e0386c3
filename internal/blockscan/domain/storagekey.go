package domain

// StorageKey names a value held by the storage collaborator.
type StorageKey string

const (
	// KeySnapshot holds the JSON encoded Snapshot.
	KeySnapshot StorageKey = "blocklist_snapshot"
	// KeySnapshotRevision holds the Revision of the stored snapshot. It is
	// written after KeySnapshot so readers can skip decoding an unchanged one.
	KeySnapshotRevision StorageKey = "blocklist_revision"
	// KeyUserAllowlist holds the JSON encoded, ordered list of allowed hostnames.
	KeyUserAllowlist StorageKey = "user_allowlist"
)
