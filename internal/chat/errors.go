package chat

import (
	"errors"
	"strings"
)

// ErrGenerationActive is returned when a generation is requested while one is
// already streaming.
var ErrGenerationActive = errors.New("a generation is already in progress")

// GenerateError carries a user-facing message for a failed generation.
type GenerateError struct {
	Message string
}

func (e *GenerateError) Error() string {
	return e.Message
}

// FormatAPIError maps a provider error onto the message shown to the user.
// Known failure classes get a stable explanation; anything else passes
// through verbatim.
func FormatAPIError(err error) string {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "API key not valid"):
		return "Authentication Error: The provided API key is not valid or has been revoked. Please verify your key in Google AI Studio and try again."
	case strings.Contains(lower, "quota"):
		return "Quota Exceeded: You have surpassed your usage quota for the Gemini API. Please check your usage limits and billing status in your Google Cloud dashboard."
	case strings.Contains(lower, "billing"):
		return "Billing Issue: A billing-related problem is preventing the request. Please ensure that billing is enabled for your project in the Google Cloud Console."
	case strings.Contains(msg, "429"):
		return "Rate Limit Exceeded: You are sending requests too quickly. Please wait a moment before trying again."
	default:
		return msg
	}
}
