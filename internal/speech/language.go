// ABOUTME: Supported conversation languages and their speech locale and voice
// ABOUTME: Recognizer and Synthesizer are the boundary to the speech engine

package speech

import (
	"context"
	"fmt"
	"strings"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
)

// Language is a conversation language code.
type Language string

const (
	English Language = "en"
	Nepali  Language = "ne"
)

// ParseLanguage accepts "en" or "ne" in any case. Empty means English.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "", English:
		return English, nil
	case Nepali:
		return Nepali, nil
	default:
		return "", apperr.Validation(fmt.Sprintf("unsupported language %q (want en or ne)", s))
	}
}

// Locale is the BCP-47 locale used for recognition and synthesis.
func (l Language) Locale() string {
	if l == Nepali {
		return "ne-NP"
	}
	return "en-US"
}

// Voice is the neural voice used to read replies aloud.
func (l Language) Voice() string {
	if l == Nepali {
		return "ne-NP-HemkalaNeural"
	}
	return "en-US-AvaMultilingualNeural"
}

// Recognizer turns one spoken utterance into text.
type Recognizer interface {
	Recognize(ctx context.Context, lang Language) (string, error)
}

// Synthesizer reads text aloud.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, lang Language) error
}
