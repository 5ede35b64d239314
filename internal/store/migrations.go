package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS overlay_records (
	id         TEXT PRIMARY KEY,
	folder     TEXT NOT NULL DEFAULT '',
	deleted_at DATETIME,
	starred    INTEGER NOT NULL DEFAULT 0 CHECK(starred IN (0, 1)),
	favorited  INTEGER NOT NULL DEFAULT 0 CHECK(favorited IN (0, 1)),
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_overlay_records_folder ON overlay_records(folder);
CREATE INDEX IF NOT EXISTS idx_overlay_records_deleted_at ON overlay_records(deleted_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS deliveries (
	id         TEXT PRIMARY KEY,
	recipients TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL CHECK(status IN ('sent', 'failed')),
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_deliveries_created_at ON deliveries(created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
