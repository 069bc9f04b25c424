// Package speech holds what the gateway knows about voice: the two
// conversation languages with their locale and neural voice, the Recognizer
// and Synthesizer boundaries implemented by a speech engine elsewhere, and a
// TokenIssuer that trades the subscription key for short-lived tokens the
// browser SDK can use.
package speech
