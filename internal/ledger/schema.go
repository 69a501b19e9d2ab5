package ledger

// schema is applied on every Open. Statements are idempotent so an
// existing database is never disturbed.
const schema = `
CREATE TABLE IF NOT EXISTS urls (
	url            TEXT PRIMARY KEY,
	domain         TEXT NOT NULL,
	source_key     TEXT,
	discovered_at  TIMESTAMP NOT NULL,
	imported_at    TIMESTAMP,
	status         TEXT NOT NULL DEFAULT 'discovered',
	last_error     TEXT,
	recipe_ref     TEXT,
	content_hash   TEXT,
	needs_reimport INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_urls_domain ON urls (domain);
CREATE INDEX IF NOT EXISTS idx_urls_status ON urls (status);
CREATE INDEX IF NOT EXISTS idx_urls_source_key ON urls (source_key);

CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	mode             TEXT NOT NULL,
	started_at       TIMESTAMP NOT NULL,
	completed_at     TIMESTAMP,
	discovered_count INTEGER NOT NULL DEFAULT 0,
	imported_count   INTEGER NOT NULL DEFAULT 0,
	failed_count     INTEGER NOT NULL DEFAULT 0,
	skipped_count    INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT
);
`
