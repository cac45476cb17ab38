// Package client runs one question-and-answer turn against the relay: it
// stores the question, follows the event stream through a stream.Processor
// and stores the finished answer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"medchat-backend/frames"
	"medchat-backend/messages"
	"medchat-backend/sse"
	"medchat-backend/stream"
)

var (
	// ErrStreamFailed is returned when the relay ends the stream with an
	// error frame.
	ErrStreamFailed = errors.New("client: stream failed")
	ErrNoQuestion   = errors.New("client: question is required")
)

const (
	defaultModelType = "reasoning_model"
	guestEmail       = "guest@local"
)

// Turn is one question from one user. ChatID is empty for the first
// question of a new chat.
type Turn struct {
	UserID    string
	UserEmail string
	ChatID    string
	Question  string
	ModelType string
}

// Result holds what a turn produced. Error is set when the turn failed for
// a reason other than cancellation and carries the message to show.
type Result struct {
	ChatID   string
	Question messages.Message
	Answers  []messages.Message
	Error    *messages.Message
}

type Client struct {
	url   string
	http  *http.Client
	store messages.Store
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

func New(relayURL string, store messages.Store, opts ...Option) *Client {
	c := &Client{url: relayURL, http: http.DefaultClient, store: store, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ask runs t to completion. onEvent, when non-nil, receives every live
// update in order. A chat created for this turn is removed again if the
// turn fails before anything was stored in it.
func (c *Client) Ask(ctx context.Context, t Turn, onEvent func(stream.Event)) (Result, error) {
	question := strings.TrimSpace(t.Question)
	if question == "" {
		return Result{}, ErrNoQuestion
	}
	emit := func(events []stream.Event) {
		if onEvent == nil {
			return
		}
		for _, e := range events {
			onEvent(e)
		}
	}

	proc := stream.NewProcessor(stream.Env{Now: c.now, Log: c.log})
	emit(proc.Reset())

	res := Result{ChatID: t.ChatID, Question: messages.NewUserMessage(t.UserID, question, c.now())}
	created := false
	answersSaved := false

	err := func() error {
		if res.ChatID == "" {
			id, err := c.store.CreateChat(ctx, t.UserID, question)
			if err != nil {
				return fmt.Errorf("create chat: %w", err)
			}
			res.ChatID, created = id, true
		}
		if err := c.store.SaveMessage(ctx, t.UserID, res.ChatID, res.Question); err != nil {
			return fmt.Errorf("save question: %w", err)
		}
		if err := c.follow(ctx, t, question, func(f frames.Envelope) { emit(proc.Process(f)) }); err != nil {
			return err
		}
		res.Answers = proc.BuildFinalMessage()
		for i := range res.Answers {
			res.Answers[i].Source = res.Question.Source
			if err := c.store.SaveMessage(ctx, t.UserID, res.ChatID, res.Answers[i]); err != nil {
				return fmt.Errorf("save answer: %w", err)
			}
		}
		answersSaved = true
		return nil
	}()
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.log.Info("turn aborted", zap.String("chat_id", res.ChatID))
	} else {
		c.log.Error("turn failed", zap.String("chat_id", res.ChatID), zap.Error(err))
		msg := messages.NewErrorMessage(c.now())
		res.Error = &msg
	}
	if created && !answersSaved {
		if derr := c.store.DeleteChatIfEmpty(context.WithoutCancel(ctx), t.UserID, res.ChatID); derr != nil {
			c.log.Warn("cleanup of empty chat failed", zap.String("chat_id", res.ChatID), zap.Error(derr))
		}
	}
	return res, err
}

// follow posts the question to the relay and feeds every decoded frame to
// fn until the stream ends.
func (c *Client) follow(ctx context.Context, t Turn, question string, fn func(frames.Envelope)) error {
	modelType := t.ModelType
	if modelType == "" {
		modelType = defaultModelType
	}
	email := t.UserEmail
	if email == "" || messages.IsGuest(t.UserID) {
		email = guestEmail
	}
	body, err := json.Marshal(map[string]any{
		"question":   question,
		"model_type": modelType,
		"user_info":  map[string]string{"user_email": email},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post question: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return sse.ReadData(ctx, resp.Body, func(data []byte) error {
		var f frames.Envelope
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Debug("skipping undecodable event", zap.Error(err))
			return nil
		}
		if f.IsControl() {
			if f.Type == frames.ControlError {
				return fmt.Errorf("%w: %s", ErrStreamFailed, f.Content)
			}
			return nil
		}
		fn(f)
		return nil
	})
}
