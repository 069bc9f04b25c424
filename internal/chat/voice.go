// ABOUTME: Voice turn helpers: send a transcribed utterance and read the latest reply aloud
// ABOUTME: Recognition and synthesis themselves happen behind the speech interfaces

package chat

import (
	"context"
	"fmt"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/backend"
	"github.com/bibeksah/NRAI-Kancha-v1/internal/speech"
)

// SendSpokenTurn transcribes one utterance in lang and sends it as a turn.
// An empty transcript is a ValidationError, as for typed input.
func (s *Session) SendSpokenTurn(ctx context.Context, rec speech.Recognizer, lang speech.Language, opts ...TurnOption) (TurnResult, error) {
	text, err := rec.Recognize(ctx, lang)
	if err != nil {
		return TurnResult{}, fmt.Errorf("recognizing %s speech: %w", lang.Locale(), err)
	}
	s.logger.Debug("speech recognized", "locale", lang.Locale(), "chars", len(text))
	return s.SendTurn(ctx, text, opts...)
}

// SpeakLastReply reads the most recent assistant message in msgs aloud.
// It does nothing when there is no assistant message.
func (s *Session) SpeakLastReply(ctx context.Context, syn speech.Synthesizer, msgs []Message, lang speech.Language) error {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != backend.RoleAssistant {
			continue
		}
		if err := syn.Synthesize(ctx, msgs[i].Content, lang); err != nil {
			return fmt.Errorf("synthesizing reply %s: %w", msgs[i].ID, err)
		}
		return nil
	}
	return nil
}
