package sqlstore

// Snapshot table definitions.
// Compatible with both SQLite and PostgreSQL.

const schemaVersions = `
CREATE TABLE IF NOT EXISTS version_contents (
    id TEXT PRIMARY KEY,
    object_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    service_name TEXT,
    version_number INTEGER NOT NULL,
    created_by_user_id TEXT,
    created_at TIMESTAMP NOT NULL,
    serialized_object TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_versions_object ON version_contents(entity_id, object_id);
CREATE INDEX IF NOT EXISTS idx_versions_created ON version_contents(created_at);
`

const schemaTrash = `
CREATE TABLE IF NOT EXISTS trash_contents (
    id TEXT PRIMARY KEY,
    created_by_user_id TEXT,
    created_at TIMESTAMP NOT NULL,
    serialized_object TEXT NOT NULL,
    service_name TEXT,
    system_id TEXT,
    repository_id TEXT,
    entity_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trash_entity ON trash_contents(entity_id);
CREATE INDEX IF NOT EXISTS idx_trash_created ON trash_contents(created_at);
`

// snapshotSchemas returns the bootstrap statements in order.
func snapshotSchemas() []string {
	return []string{
		schemaVersions,
		schemaTrash,
	}
}
