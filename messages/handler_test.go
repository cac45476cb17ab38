package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medchat-backend/parser"
)

func newTestServer(t *testing.T, store Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store, time.Minute, nil).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, user string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerSaveAndList(t *testing.T) {
	store := NewFileStore(t.TempDir())
	r := newTestServer(t, store)

	body, _ := json.Marshal(Message{ID: "user-1", Text: "hello", IsUser: true})
	w := do(r, http.MethodPost, "/api/chats/c1/messages", "", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/api/chats/c1/messages", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "hello", list[0].Text)
	assert.False(t, list[0].Timestamp.IsZero())

	// Another user cannot see the guest's chat.
	w = do(r, http.MethodGet, "/api/chats/c1/messages", "doctor-7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerSaveValidates(t *testing.T) {
	r := newTestServer(t, NewFileStore(t.TempDir()))
	w := do(r, http.MethodPost, "/api/chats/c1/messages", "", []byte(`{"text":"no id"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPost, "/api/chats/c1/messages", "", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerSections(t *testing.T) {
	store := NewFileStore(t.TempDir())
	r := newTestServer(t, store)

	answer := Message{
		ID:            "ai-1",
		Text:          `{"short_answer":"Use tenofovir.","detailed_answer":"Tenofovir is first line [cite: EASL 2017, https://easl.eu].","safety_flag":true}`,
		ReasoningText: "<THINKING><QUESTION>HBV therapy</QUESTION><RISK_ANALYSIS>renal</RISK_ANALYSIS></THINKING>",
	}
	body, _ := json.Marshal(answer)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/chats/c1/messages", "", body).Code)

	w := do(r, http.MethodGet, "/api/chats/c1/messages/ai-1/sections", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view SectionsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, parser.ModeJSON, view.Mode)
	assert.True(t, view.SafetyRequired)
	require.Len(t, view.Sections, 3)
	assert.Equal(t, parser.SectionShortAnswer, view.Sections[0].Type)
	assert.Equal(t, parser.SectionDetailedAnswer, view.Sections[1].Type)
	assert.Equal(t, "Tenofovir is first line [1].", view.Sections[1].Content)
	require.Len(t, view.Sections[1].Citations, 1)
	assert.Equal(t, "https://easl.eu", view.Sections[1].Citations[0].Link)
	assert.Equal(t, parser.SectionDisclaimer, view.Sections[2].Type)
	require.Len(t, view.Reasoning, 2)
	assert.Equal(t, "QUESTION", view.Reasoning[0].Tag)
	assert.Equal(t, "RISK_ANALYSIS", view.Reasoning[1].Tag)
}

func TestHandlerSectionsCacheInvalidatedOnSave(t *testing.T) {
	store := NewFileStore(t.TempDir())
	r := newTestServer(t, store)

	save := func(text string) {
		body, _ := json.Marshal(Message{ID: "ai-1", Text: text})
		require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/chats/c1/messages", "", body).Code)
	}
	first := func() string {
		w := do(r, http.MethodGet, "/api/chats/c1/messages/ai-1/sections", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var view SectionsView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		return view.Sections[0].Content
	}

	save("Short reply.")
	assert.Equal(t, "Short reply.", first())
	save("Edited reply.")
	assert.Equal(t, "Edited reply.", first())
}

func TestHandlerSectionsErrors(t *testing.T) {
	store := NewFileStore(t.TempDir())
	r := newTestServer(t, store)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/chats/none/messages/x/sections", "", nil).Code)

	body, _ := json.Marshal(Message{ID: "user-1", Text: "q", IsUser: true})
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/chats/c1/messages", "", body).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/chats/c1/messages/user-1/sections", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/chats/c1/messages/ai-9/sections", "", nil).Code)
}

func TestBuildSectionsOpaqueReasoning(t *testing.T) {
	view := BuildSections(Message{ID: "ai-1", Text: "Short.", ReasoningText: "  just thinking out loud  "})
	assert.Nil(t, view.Reasoning)
	assert.Equal(t, "just thinking out loud", view.ReasoningText)
	assert.Equal(t, parser.ModeText, view.Mode)
}

type countingStore struct {
	Store
	loads atomic.Int32
}

func (c *countingStore) LoadMessages(ctx context.Context, userID, chatID string) ([]Message, error) {
	c.loads.Add(1)
	return c.Store.LoadMessages(ctx, userID, chatID)
}

func TestHandlerSectionsConcurrentRequestsShareCache(t *testing.T) {
	files := NewFileStore(t.TempDir())
	ctx := context.Background()
	chatID, err := files.CreateChat(ctx, GuestUserID, "q")
	require.NoError(t, err)
	require.NoError(t, files.SaveMessage(ctx, GuestUserID, chatID, Message{ID: "ai-1", Text: "Short answer only."}))

	store := &countingStore{Store: files}
	r := newTestServer(t, store)
	path := "/api/chats/" + chatID + "/messages/ai-1/sections"

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = do(r, http.MethodGet, path, "", nil).Code
		}(i)
	}
	wg.Wait()
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	loads := store.loads.Load()
	assert.LessOrEqual(t, loads, int32(len(codes)))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, path, "", nil).Code)
	assert.Equal(t, loads, store.loads.Load(), "cached view must not hit the store")
}

// ownedStore accepts writes only from the owner of every chat.
type ownedStore struct {
	Store
	owner string
}

func (o ownedStore) SaveMessage(ctx context.Context, userID, chatID string, m Message) error {
	if userID != o.owner {
		return ErrNotFound
	}
	return o.Store.SaveMessage(ctx, userID, chatID, m)
}

func TestHandlerSaveIntoForeignChatIsNotFound(t *testing.T) {
	store := ownedStore{Store: NewFileStore(t.TempDir()), owner: "doctor-1"}
	r := newTestServer(t, store)
	body, _ := json.Marshal(Message{ID: "user-1", Text: "hello", IsUser: true})

	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/chats/c1/messages", "doctor-1", body).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/chats/c1/messages", "doctor-2", body).Code)
}
