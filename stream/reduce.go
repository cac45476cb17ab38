package stream

import (
	"time"

	"go.uber.org/zap"

	"medchat-backend/frames"
	"medchat-backend/messages"
	"medchat-backend/reasoning"
)

// Live message ids. The rendering side replaces the message with the same
// id on every update.
const (
	TempReasoningID = "temp-reasoning"
	TempAnswerID    = "temp-answer"
	streamUID       = "ai-stream"

	defaultGuidelineDescription = "Local guideline comparison analysis"
)

type EventKind string

const (
	EventExpertLoading        EventKind = "expert_loading"
	EventReasoningActive      EventKind = "reasoning_active"
	EventPreparingFinalAnswer EventKind = "preparing_final_answer"
	EventTempReasoning        EventKind = "temp_reasoning"
	EventTempAnswer           EventKind = "temp_answer"
	EventConversationComplete EventKind = "conversation_complete"
)

// Event is one update for the rendering side. Flag carries the new value of
// boolean states; Message is set for the two live message kinds. Reasoning
// events also carry the reasoning split into catalog sections.
type Event struct {
	Kind       EventKind
	Flag       bool
	ExpertName string
	Message    *messages.Message
	Reasoning  []reasoning.Section
}

// Env supplies the clock and logger to Reduce. The zero value is usable.
type Env struct {
	Now func() time.Time
	Log *zap.Logger
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Env) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// Reduce applies one decoded frame to s and returns the resulting updates.
// Relay control frames are handled by the read loop and ignored here.
// Malformed payloads never fail; they are accumulated as plain text.
func Reduce(s *Session, f frames.Envelope, env Env) []Event {
	if f.IsControl() {
		return nil
	}
	if f.SafetyFlag {
		s.SafetyFlag = true
	}
	if expertWords(f.ExpertName) != "" {
		s.ExpertName = FormatExpertName(f.ExpertName)
	}
	payload := frames.PayloadText(f.Response)

	switch f.ResponseType {
	case frames.TypeExpertSelection:
		s.ExpertLoading = true
		return []Event{{Kind: EventExpertLoading, Flag: true, ExpertName: s.ExpertName}}

	case frames.TypeReasoningStart:
		s.HasReasoning = true
		s.reasoning.Reset()
		s.ExpertLoading = false
		s.ReasoningActive = true
		return []Event{
			{Kind: EventExpertLoading, Flag: false},
			{Kind: EventReasoningActive, Flag: true},
			reasoningEvent(s, env, true),
		}

	case frames.TypeReasoning:
		if !s.HasReasoning {
			return nil
		}
		s.reasoning.WriteString(NormalizeThinking(payload))
		return []Event{reasoningEvent(s, env, true)}

	case frames.TypeReasoningComplete:
		var out []Event
		if s.HasReasoning {
			out = append(out, reasoningEvent(s, env, false))
		}
		s.ReasoningActive = false
		s.PreparingFinalAnswer = true
		return append(out,
			Event{Kind: EventReasoningActive, Flag: false},
			Event{Kind: EventPreparingFinalAnswer, Flag: true},
		)

	case frames.TypeFinalAnswerStart:
		s.PreparingFinalAnswer = false
		s.answer.Reset()
		return []Event{{Kind: EventPreparingFinalAnswer, Flag: false}}

	case frames.TypeFinalAnswer:
		s.answer.WriteString(payload)
		if payload != "" && (probeSafety(payload) || probeSafety(s.answer.String())) {
			s.SafetyFlag = true
		}
		return []Event{answerEvent(s, env, true)}

	case frames.TypeLocalGuidelineAnalysis:
		expert := f.ExpertName
		if expert == "" {
			expert = s.ExpertName
		}
		ts := frames.TimestampText(f.Timestamp)
		if ts == "" {
			ts = env.now().UTC().Format(time.RFC3339)
		}
		s.LocalGuidelineAnalysis = &messages.LocalGuidelineAnalysis{
			ExpertName:       expert,
			ResponseType:     f.ResponseType,
			Response:         payload,
			Timestamp:        ts,
			ModelDescription: defaultGuidelineDescription,
		}
		s.ProcessingGuideline = false
		return []Event{answerEvent(s, env, false)}

	case frames.TypeComplete:
		var out []Event
		if payload != "" {
			if s.answer.Len() == 0 {
				s.answer.WriteString(payload)
			} else {
				// The backend may still be comparing against local guidelines.
				s.ProcessingGuideline = true
			}
			if probeSafety(payload) {
				s.SafetyFlag = true
			}
			out = append(out, answerEvent(s, env, false))
		}
		s.Complete = true
		return append(out, Event{Kind: EventConversationComplete, Flag: true})
	}

	env.log().Debug("unhandled response type", zap.String("response_type", f.ResponseType))
	return nil
}

func reasoningEvent(s *Session, env Env, temporary bool) Event {
	sections := reasoning.Decompose(s.ReasoningText())
	if temporary {
		sections = reasoning.DecomposeLive(s.ReasoningText())
	}
	return Event{Kind: EventTempReasoning, Reasoning: sections, Message: &messages.Message{
		ID:          TempReasoningID,
		Text:        s.ReasoningText(),
		Timestamp:   env.now(),
		UID:         streamUID,
		IsTemporary: temporary,
		IsReasoning: true,
		ExpertName:  s.ExpertName,
	}}
}

func answerEvent(s *Session, env Env, temporary bool) Event {
	m := messages.Message{
		ID:                     TempAnswerID,
		Text:                   s.AnswerText(),
		Timestamp:              env.now(),
		UID:                    streamUID,
		IsTemporary:            temporary,
		IsReasoningAnswer:      s.HasReasoning,
		ReasoningText:          s.ReasoningText(),
		IsReasoningFinalAnswer: s.HasReasoning,
		ExpertName:             s.ExpertName,
		LocalGuidelineAnalysis: s.LocalGuidelineAnalysis,
		IsProcessingGuideline:  s.ProcessingGuideline,
	}
	if s.SafetyFlag {
		m.SafetyAnalysis = &messages.SafetyAnalysis{SafetyRequired: true}
	}
	return Event{Kind: EventTempAnswer, Message: &m}
}
