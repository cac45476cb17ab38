package stream

import (
	"github.com/google/uuid"

	"medchat-backend/frames"
	"medchat-backend/messages"
)

// Processor drives one session at a time. It is not safe for concurrent
// use; the read loop calls it once per frame.
type Processor struct {
	s   *Session
	env Env
}

func NewProcessor(env Env) *Processor {
	return &Processor{s: NewSession(), env: env}
}

func (p *Processor) Process(f frames.Envelope) []Event {
	return Reduce(p.s, f, p.env)
}

func (p *Processor) Session() *Session { return p.s }

// BuildFinalMessage returns the persisted form of the current answer, or
// nothing when neither reasoning nor answer text was received.
func (p *Processor) BuildFinalMessage() []messages.Message {
	s := p.s
	answer, reasoning := s.AnswerText(), s.ReasoningText()
	if answer == "" && reasoning == "" {
		return nil
	}
	m := messages.Message{
		ID:                     "ai-" + uuid.NewString(),
		Text:                   answer,
		Timestamp:              p.env.now(),
		UID:                    "ai",
		IsReasoningAnswer:      s.HasReasoning,
		ReasoningText:          reasoning,
		IsReasoningFinalAnswer: s.HasReasoning,
		ExpertName:             s.ExpertName,
		LocalGuidelineAnalysis: s.LocalGuidelineAnalysis,
	}
	if s.SafetyFlag {
		m.SafetyAnalysis = &messages.SafetyAnalysis{SafetyRequired: true}
	}
	return []messages.Message{m}
}

// Reset starts a new turn with a fresh session.
func (p *Processor) Reset() []Event {
	p.s = NewSession()
	return []Event{
		{Kind: EventReasoningActive, Flag: false},
		{Kind: EventConversationComplete, Flag: false},
	}
}
