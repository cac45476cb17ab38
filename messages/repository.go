package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

const chatTitleMax = 120

// MySQLStore keeps signed-in users' chats in the chats and chat_messages
// tables created by the migrations package.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

func (r *MySQLStore) CreateChat(ctx context.Context, userID, firstText string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title) VALUES (?, ?, ?)`,
		id, userID, truncate(firstText, chatTitleMax))
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	return id, nil
}

// SaveMessage creates the chat on first use and upserts m by id. A chat or
// message id that belongs to another user is reported as ErrNotFound.
func (r *MySQLStore) SaveMessage(ctx context.Context, userID, chatID string, m Message) error {
	if chatID == "" {
		return ErrNoChatID
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO chats (id, user_id, title) VALUES (?, ?, ?)`,
		chatID, userID, truncate(m.Text, chatTitleMax)); err != nil {
		return fmt.Errorf("ensure chat: %w", err)
	}
	var owner string
	if err := tx.QueryRowContext(ctx,
		`SELECT user_id FROM chats WHERE id = ? FOR UPDATE`, chatID).Scan(&owner); err != nil {
		return fmt.Errorf("lock chat: %w", err)
	}
	if owner != userID {
		return ErrNotFound
	}

	var msgChat, msgUser string
	err = tx.QueryRowContext(ctx,
		`SELECT chat_id, user_id FROM chat_messages WHERE id = ? FOR UPDATE`, m.ID).Scan(&msgChat, &msgUser)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chat_messages (id, chat_id, user_id, is_user, body, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, chatID, userID, m.IsUser, body, m.Timestamp.UTC())
	case err != nil:
		return fmt.Errorf("lock message: %w", err)
	case msgChat != chatID || msgUser != userID:
		return ErrNotFound
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE chat_messages SET body = ? WHERE id = ? AND chat_id = ? AND user_id = ?`,
			body, m.ID, chatID, userID)
	}
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return tx.Commit()
}

func (r *MySQLStore) LoadMessages(ctx context.Context, userID, chatID string) ([]Message, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM chats WHERE id = ?`, chatID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM chat_messages WHERE chat_id = ? ORDER BY created_at ASC, seq ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()
	list := make([]Message, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m Message
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *MySQLStore) DeleteChatIfEmpty(ctx context.Context, userID, chatID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM chats WHERE id = ? AND user_id = ?
		 AND NOT EXISTS (SELECT 1 FROM chat_messages WHERE chat_id = ?)`,
		chatID, userID, chatID)
	return err
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
