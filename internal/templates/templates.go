package templates

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"promptlab/internal/chat"
	"promptlab/internal/storage"
)

// PromptTemplate is a named snapshot of the generation settings.
type PromptTemplate struct {
	Name                  string         `json:"name"`
	SystemInstruction     string         `json:"systemInstruction"`
	Examples              []chat.Example `json:"examples"`
	Temperature           float64        `json:"temperature"`
	SelectedModel         string         `json:"selectedModel"`
	UseStructuredResponse bool           `json:"useStructuredResponse"`
	ResponseSchemaString  string         `json:"responseSchemaString"`
}

// Store keeps the saved templates, mirrored to persistent storage as one
// JSON array. Names are unique; saving an existing name overwrites in place.
type Store struct {
	store  storage.Store
	logger zerolog.Logger

	mu        sync.Mutex
	templates []PromptTemplate
}

// Open loads persisted templates. A value that does not decode as an array
// of templates is discarded and the key removed.
func Open(ctx context.Context, store storage.Store, logger zerolog.Logger) *Store {
	s := &Store{store: store, logger: logger}

	raw, found, err := store.Get(ctx, storage.KeyPromptTemplates)
	if err != nil {
		logger.Warn().Err(err).Msg("load prompt templates")
		return s
	}
	if !found {
		return s
	}
	var loaded []PromptTemplate
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
		logger.Warn().Err(err).Msg("decode prompt templates, resetting")
		if err := store.Delete(ctx, storage.KeyPromptTemplates); err != nil {
			logger.Warn().Err(err).Msg("delete corrupt prompt templates")
		}
		return s
	}
	s.templates = loaded
	return s
}

// List returns the templates in saved order.
func (s *Store) List() []PromptTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]PromptTemplate, len(s.templates))
	copy(cp, s.templates)
	return cp
}

// Save upserts by name. New templates append; existing names are replaced
// without changing their position.
func (s *Store) Save(ctx context.Context, tpl PromptTemplate) error {
	tpl.Name = strings.TrimSpace(tpl.Name)
	if tpl.Name == "" {
		return errors.New("template name cannot be empty")
	}

	s.mu.Lock()
	replaced := false
	for i := range s.templates {
		if s.templates[i].Name == tpl.Name {
			s.templates[i] = tpl
			replaced = true
			break
		}
	}
	if !replaced {
		s.templates = append(s.templates, tpl)
	}
	snapshot := make([]PromptTemplate, len(s.templates))
	copy(snapshot, s.templates)
	s.mu.Unlock()

	return s.persist(ctx, snapshot)
}

// Get returns the template with the given name.
func (s *Store) Get(name string) (PromptTemplate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tpl := range s.templates {
		if tpl.Name == name {
			return tpl, true
		}
	}
	return PromptTemplate{}, false
}

// Delete removes the template with the given name, if present.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	kept := s.templates[:0:0]
	for _, tpl := range s.templates {
		if tpl.Name != name {
			kept = append(kept, tpl)
		}
	}
	s.templates = kept
	snapshot := make([]PromptTemplate, len(s.templates))
	copy(snapshot, s.templates)
	s.mu.Unlock()

	return s.persist(ctx, snapshot)
}

func (s *Store) persist(ctx context.Context, templates []PromptTemplate) error {
	if len(templates) == 0 {
		return s.store.Delete(ctx, storage.KeyPromptTemplates)
	}
	b, err := json.Marshal(templates)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, storage.KeyPromptTemplates, string(b))
}
