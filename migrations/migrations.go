package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements create the chat schema. Each one is idempotent so Migrate can
// run on every start.
var statements = []struct {
	name string
	sql  string
}{
	{"chats", `
	CREATE TABLE IF NOT EXISTS chats (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		title VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_chats_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"chat_messages", `
	CREATE TABLE IF NOT EXISTS chat_messages (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL,
		chat_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		is_user TINYINT(1) NOT NULL DEFAULT 0,
		body JSON NOT NULL,
		created_at DATETIME(3) NOT NULL,
		UNIQUE KEY uq_chat_messages_id (id),
		INDEX idx_chat_messages_chat (chat_id, created_at, seq),
		CONSTRAINT fk_chat_messages_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
}

// Migrate creates the tables the MySQL message store needs.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	for _, st := range statements {
		if _, err := db.ExecContext(ctx, st.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", st.name, err)
		}
	}
	return nil
}
