package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"promptlab/internal/storage"
)

// LoadHistory restores the persisted conversation. Anything that is not a
// JSON array of turns resets the stored value and starts fresh.
func LoadHistory(ctx context.Context, store storage.Store, logger zerolog.Logger) []Turn {
	raw, found, err := store.Get(ctx, storage.KeyChatHistory)
	if err != nil {
		logger.Warn().Err(err).Msg("load chat history")
		return nil
	}
	if !found {
		return nil
	}

	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		logger.Warn().Msg("stored chat history is not an array, resetting")
		if err := store.Delete(ctx, storage.KeyChatHistory); err != nil {
			logger.Warn().Err(err).Msg("delete corrupt chat history")
		}
		return nil
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(trimmed), &turns); err != nil {
		logger.Warn().Err(err).Msg("decode chat history, resetting")
		if err := store.Delete(ctx, storage.KeyChatHistory); err != nil {
			logger.Warn().Err(err).Msg("delete corrupt chat history")
		}
		return nil
	}
	return turns
}

// SaveHistory persists the conversation. An empty history removes the key so
// a cleared chat does not leave a stale entry behind.
func SaveHistory(ctx context.Context, store storage.Store, turns []Turn) error {
	if len(turns) == 0 {
		return store.Delete(ctx, storage.KeyChatHistory)
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return err
	}
	return store.Set(ctx, storage.KeyChatHistory, string(b))
}
