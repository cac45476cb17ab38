package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type chatFile struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// FileStore keeps chats as JSON files under dir/<user>/<chat>.json. It
// backs guest sessions, which have no database row to hang off.
type FileStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

func (s *FileStore) CreateChat(_ context.Context, userID, firstText string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	path, err := s.path(userID, id)
	if err != nil {
		return "", err
	}
	cf := chatFile{ID: id, Title: truncate(firstText, chatTitleMax), CreatedAt: s.now().UTC(), Messages: []Message{}}
	if err := writeChat(path, cf); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FileStore) SaveMessage(_ context.Context, userID, chatID string, m Message) error {
	if chatID == "" {
		return ErrNoChatID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.path(userID, chatID)
	if err != nil {
		return err
	}
	cf, err := readChat(path)
	if errors.Is(err, ErrNotFound) {
		cf = chatFile{ID: chatID, Title: truncate(m.Text, chatTitleMax), CreatedAt: s.now().UTC()}
	} else if err != nil {
		return err
	}
	replaced := false
	for i := range cf.Messages {
		if cf.Messages[i].ID == m.ID {
			cf.Messages[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		cf.Messages = append(cf.Messages, m)
	}
	return writeChat(path, cf)
}

func (s *FileStore) LoadMessages(_ context.Context, userID, chatID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.path(userID, chatID)
	if err != nil {
		return nil, err
	}
	cf, err := readChat(path)
	if err != nil {
		return nil, err
	}
	if cf.Messages == nil {
		cf.Messages = []Message{}
	}
	return cf.Messages, nil
}

func (s *FileStore) DeleteChatIfEmpty(_ context.Context, userID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.path(userID, chatID)
	if err != nil {
		return err
	}
	cf, err := readChat(path)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(cf.Messages) > 0 {
		return nil
	}
	return os.Remove(path)
}

// path rejects ids that could escape the store directory.
func (s *FileStore) path(userID, chatID string) (string, error) {
	if userID == "" {
		userID = GuestUserID
	}
	for _, part := range []string{userID, chatID} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", ErrNotFound
		}
	}
	return filepath.Join(s.dir, userID, chatID+".json"), nil
}

func readChat(path string) (chatFile, error) {
	var cf chatFile
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cf, ErrNotFound
	}
	if err != nil {
		return cf, err
	}
	if err := json.Unmarshal(b, &cf); err != nil {
		return cf, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return cf, nil
}

func writeChat(path string, cf chatFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
