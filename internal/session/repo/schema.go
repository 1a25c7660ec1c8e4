package repo

// Schema creates the conversation store tables. Turns cascade with their
// conversation; seq keeps insertion order for turns sharing a timestamp.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated
	ON conversations (owner_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
	role            TEXT NOT NULL CHECK (role IN ('USER', 'ASSISTANT')),
	content         TEXT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	seq             INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation_created
	ON turns (conversation_id, created_at, seq);
`

const (
	insertConversation = `
		INSERT INTO conversations (id, owner_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	selectConversation = `
		SELECT c.id, c.owner_id, c.metadata, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		WHERE c.id = ?`

	selectTurns = `
		SELECT id, conversation_id, role, content, metadata, created_at, seq
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`

	touchConversation = `
		UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`

	insertTurn = `
		INSERT INTO turns (id, conversation_id, role, content, metadata, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	deleteTurn = `DELETE FROM turns WHERE id = ? AND conversation_id = ?`

	deleteTurns = `DELETE FROM turns WHERE conversation_id = ?`

	deleteConversation = `DELETE FROM conversations WHERE id = ?`

	listByOwner = `
		SELECT c.id, c.owner_id, c.metadata, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		WHERE c.owner_id = ?
		ORDER BY c.updated_at DESC, c.created_at DESC`
)
