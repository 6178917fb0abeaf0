package storage

import "context"

// Storage keys for the persisted playground state. The values mirror the
// keys the web client used, so an exported browser state can be imported
// as-is.
const (
	KeyAPICredential   = "gemini-api-key"
	KeyChatHistory     = "gemini-chat-history"
	KeyPromptTemplates = "gemini-prompt-templates"
)

// Store is a string-keyed value store. Values are JSON text written
// optimistically; consumers are expected to parse defensively on read.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
