package messages

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"medchat-backend/parser"
	"medchat-backend/reasoning"
)

// UserHeader carries the signed-in user's id. Requests without it act as
// the guest user.
const UserHeader = "X-User-ID"

// SectionsView is the parsed form of one stored assistant message.
type SectionsView struct {
	MessageID      string              `json:"messageId"`
	Mode           parser.Mode         `json:"mode"`
	SafetyRequired bool                `json:"safetyRequired"`
	Sections       []parser.Section    `json:"sections"`
	Reasoning      []reasoning.Section `json:"reasoning,omitempty"`
	// ReasoningText is the raw reasoning when it has no recognizable tags.
	ReasoningText string `json:"reasoningText,omitempty"`
}

// errUserMessage marks a sections request for a question, which has none.
var errUserMessage = errors.New("user messages have no sections")

type Handler struct {
	store  Store
	cache  *cache.Cache
	flight singleflight.Group
	log    *zap.Logger
	now    func() time.Time
}

// NewHandler serves chat history from store. Parsed sections are cached for
// ttl per message.
func NewHandler(store Store, ttl time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store: store,
		cache: cache.New(ttl, 2*ttl),
		log:   log,
		now:   time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	g := r.Group("/api/chats/:chatID/messages")
	g.GET("", h.list)
	g.POST("", h.save)
	g.GET("/:messageID/sections", h.sections)
}

func userID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(UserHeader)); id != "" {
		return id
	}
	return GuestUserID
}

func cacheKey(user, chatID, messageID string) string {
	return user + "/" + chatID + "/" + messageID
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.store.LoadMessages(c.Request.Context(), userID(c), c.Param("chatID"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	if err != nil {
		h.log.Error("load messages failed", zap.String("chat_id", c.Param("chatID")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) save(c *gin.Context) {
	var m Message
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message"})
		return
	}
	if strings.TrimSpace(m.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id is required"})
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = h.now()
	}
	user, chatID := userID(c), c.Param("chatID")
	err := h.store.SaveMessage(c.Request.Context(), user, chatID, m)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	if err != nil {
		h.log.Error("save message failed", zap.String("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.cache.Delete(cacheKey(user, chatID, m.ID))
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) sections(c *gin.Context) {
	user, chatID, messageID := userID(c), c.Param("chatID"), c.Param("messageID")
	key := cacheKey(user, chatID, messageID)
	if v, ok := h.cache.Get(key); ok {
		c.JSON(http.StatusOK, v.(SectionsView))
		return
	}

	ctx := c.Request.Context()
	v, err, _ := h.flight.Do(key, func() (any, error) {
		if v, ok := h.cache.Get(key); ok {
			return v, nil
		}
		items, err := h.store.LoadMessages(ctx, user, chatID)
		if err != nil {
			return nil, err
		}
		for _, m := range items {
			if m.ID != messageID {
				continue
			}
			if m.IsUser {
				return nil, errUserMessage
			}
			view := BuildSections(m)
			h.cache.SetDefault(key, view)
			return view, nil
		}
		return nil, ErrNotFound
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, v.(SectionsView))
	case errors.Is(err, errUserMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	default:
		h.log.Error("load messages failed", zap.String("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// BuildSections parses an assistant message into display sections and
// splits its reasoning into the catalog subsections.
func BuildSections(m Message) SectionsView {
	res := parser.Parse(m.Text)
	view := SectionsView{
		MessageID:      m.ID,
		Mode:           res.Mode,
		SafetyRequired: res.SafetyRequired || m.SafetyRequired(),
		Sections:       parser.Sections(m.Text),
	}
	if m.ReasoningText != "" {
		view.Reasoning = reasoning.Decompose(m.ReasoningText)
		if view.Reasoning == nil {
			view.ReasoningText = strings.TrimSpace(m.ReasoningText)
		}
	}
	return view
}
