// Package openai answers questions with an OpenAI chat model when no
// external medical backend is configured. The completion stream is
// re-encoded in the backend's newline-delimited frame protocol so the relay
// treats both sources the same way.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"medchat-backend/chat"
	"medchat-backend/frames"
)

const (
	DefaultModel = "gpt-4o-mini"
	expertName   = "general_medicine"
)

const systemPrompt = `You are a clinical decision support assistant for physicians.
Answer with a single JSON object and nothing else, using these fields:
"short_answer": two or three sentences,
"detailed_answer": a thorough explanation with inline [cite: source, url] markers,
"guideline_reference": an array of {"Source", "Link", "Supporting_Snippet"},
"safety_flag": true when the question involves urgent or high-risk care.`

type Client struct {
	api   *openai.Client
	model string
	log   *zap.Logger
}

// NewClient builds a client for key. A non-empty baseURL overrides the API
// endpoint.
func NewClient(key, model, baseURL string, log *zap.Logger) *Client {
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model, log: log}
}

// Open starts a completion for req and returns its frames as NDJSON:
// expert_selection, final_answer_start, one final_answer per delta and a
// closing complete. A failed stream surfaces as a read error.
func (c *Client) Open(ctx context.Context, req chat.Request) (io.ReadCloser, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Question},
		},
		Stream: true,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
			return nil, &chat.UpstreamError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer stream.Close()
		enc := json.NewEncoder(pw)
		emit := func(typ, text string) error {
			f := frames.Upstream{ResponseType: typ}
			if typ == frames.TypeExpertSelection {
				f.ExpertName = expertName
			}
			if text != "" {
				raw, _ := json.Marshal(text)
				f.Response = raw
			}
			return enc.Encode(f)
		}

		if err := emit(frames.TypeExpertSelection, ""); err != nil {
			return
		}
		if err := emit(frames.TypeFinalAnswerStart, ""); err != nil {
			return
		}
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				_ = emit(frames.TypeComplete, "")
				pw.Close()
				return
			}
			if err != nil {
				c.log.Error("openai stream failed", zap.Error(err))
				pw.CloseWithError(err)
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if err := emit(frames.TypeFinalAnswer, resp.Choices[0].Delta.Content); err != nil {
				// Reader side closed.
				return
			}
		}
	}()
	return pr, nil
}
