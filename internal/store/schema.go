package store

// Schema is applied idempotently at startup. Indexes mirror the required
// queries enumerated in spec.md §4.5: idempotency_key, status, updated_at,
// and (user_key, created_at).
const Schema = `
CREATE TABLE IF NOT EXISTS characters (
	character_id        TEXT PRIMARY KEY,
	master_description  TEXT NOT NULL,
	appearance          JSONB NOT NULL DEFAULT '{}',
	clothing            JSONB NOT NULL DEFAULT '{}',
	personality_traits  JSONB NOT NULL DEFAULT '[]',
	style_notes         TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	job_id             TEXT PRIMARY KEY,
	user_key           TEXT NOT NULL,
	idempotency_key    TEXT,
	spec               JSONB NOT NULL,
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	current_step       TEXT NOT NULL DEFAULT '',
	moderation_input   JSONB,
	moderation_output  JSONB,
	error_code         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	last_retry_at      TIMESTAMPTZ,
	book_id            TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS jobs_user_idempotency_uniq
	ON jobs (user_key, idempotency_key) WHERE idempotency_key IS NOT NULL AND idempotency_key <> '';
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_updated_at_idx ON jobs (updated_at);
CREATE INDEX IF NOT EXISTS jobs_user_created_idx ON jobs (user_key, created_at);

CREATE TABLE IF NOT EXISTS story_drafts (
	job_id      TEXT PRIMARY KEY REFERENCES jobs(job_id),
	title       TEXT NOT NULL,
	pages       JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS image_prompts (
	job_id           TEXT PRIMARY KEY REFERENCES jobs(job_id),
	cover_prompt     TEXT NOT NULL,
	negative_prompt  TEXT NOT NULL,
	page_prompts     JSONB NOT NULL,
	style_token      TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS books (
	book_id          TEXT PRIMARY KEY,
	job_id           TEXT NOT NULL UNIQUE REFERENCES jobs(job_id),
	title            TEXT NOT NULL,
	language         TEXT NOT NULL,
	target_age       TEXT NOT NULL,
	style            TEXT NOT NULL,
	theme            TEXT NOT NULL DEFAULT '',
	character_ids    JSONB NOT NULL DEFAULT '[]',
	cover_image_url  TEXT NOT NULL,
	user_key         TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pages (
	book_id       TEXT NOT NULL REFERENCES books(book_id),
	page_number   INTEGER NOT NULL,
	text          TEXT NOT NULL,
	image_url     TEXT NOT NULL,
	image_prompt  TEXT NOT NULL,
	PRIMARY KEY (book_id, page_number)
);

CREATE TABLE IF NOT EXISTS user_credits (
	user_key    TEXT PRIMARY KEY,
	balance     BIGINT NOT NULL DEFAULT 0,
	total_used  BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id          BIGSERIAL PRIMARY KEY,
	user_key    TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	type        TEXT NOT NULL, -- debit | refund | credit
	reason      TEXT NOT NULL,
	job_id      TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS credit_tx_refund_idempotent
	ON credit_transactions (job_id, reason) WHERE type = 'refund';
CREATE INDEX IF NOT EXISTS credit_tx_user_idx ON credit_transactions (user_key);

CREATE TABLE IF NOT EXISTS rate_limit_hits (
	user_key   TEXT NOT NULL,
	hit_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS rate_limit_hits_user_idx ON rate_limit_hits (user_key, hit_at);
`
