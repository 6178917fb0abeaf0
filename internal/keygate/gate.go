package keygate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"promptlab/internal/crypto"
	"promptlab/internal/genai"
	"promptlab/internal/storage"
)

// State tracks where the stored credential stands. Everything except Valid
// blocks generation.
type State string

const (
	StateUnknown    State = "unknown"
	StateValidating State = "validating"
	StateValid      State = "valid"
	StateInvalid    State = "invalid"
	StateMissing    State = "missing"
)

const DefaultPreferredModel = "gemini-2.5-flash"

// ModelLister validates a key by listing the models it can see.
type ModelLister interface {
	ListModels(ctx context.Context, apiKey string) ([]genai.Model, error)
}

// ModelInfo is a usable text model, name stripped of the catalog prefix.
type ModelInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

type Config struct {
	Client         ModelLister
	Store          storage.Store
	Keyring        *crypto.Keyring
	PreferredModel string
	Logger         zerolog.Logger
}

// Gate owns the API credential lifecycle: restore, validate, store, clear.
// The key is sealed at rest and only held in memory as plaintext.
type Gate struct {
	cfg Config

	mu            sync.Mutex
	state         State
	credential    string
	models        []ModelInfo
	selected      string
	statusMessage string
}

func New(cfg Config) *Gate {
	if cfg.PreferredModel == "" {
		cfg.PreferredModel = DefaultPreferredModel
	}
	return &Gate{cfg: cfg, state: StateUnknown}
}

// Init restores the persisted credential and revalidates it against the API.
// A credential that no longer validates is removed from the store.
func (g *Gate) Init(ctx context.Context) error {
	g.setState(StateValidating, "")

	raw, found, err := g.cfg.Store.Get(ctx, storage.KeyAPICredential)
	if err != nil {
		g.setState(StateUnknown, "")
		return fmt.Errorf("load credential: %w", err)
	}
	if !found {
		g.setState(StateMissing, "")
		return nil
	}

	key, err := g.cfg.Keyring.OpenString(raw)
	if err != nil {
		g.cfg.Logger.Warn().Err(err).Msg("stored credential unreadable, removing")
		g.discard(ctx)
		g.setState(StateInvalid, "")
		return nil
	}

	models, err := g.cfg.Client.ListModels(ctx, key)
	if err != nil {
		g.cfg.Logger.Warn().Err(err).Msg("stored credential rejected, removing")
		g.discard(ctx)
		g.setState(StateInvalid, "")
		return nil
	}

	g.accept(key, models)
	return nil
}

// Submit validates a new key and, on success, seals and persists it.
func (g *Gate) Submit(ctx context.Context, key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return errors.New("API key cannot be empty.")
	}

	g.setState(StateValidating, "")
	models, err := g.cfg.Client.ListModels(ctx, trimmed)
	if err != nil {
		g.setState(StateInvalid, "")
		return fmt.Errorf("API Key is not valid. Reason: %s", err.Error())
	}

	sealed, err := g.cfg.Keyring.SealString(trimmed)
	if err != nil {
		g.setState(StateInvalid, "")
		return fmt.Errorf("seal credential: %w", err)
	}
	if err := g.cfg.Store.Set(ctx, storage.KeyAPICredential, sealed); err != nil {
		g.cfg.Logger.Warn().Err(err).Msg("persist credential")
	}

	g.accept(trimmed, models)
	return nil
}

// Clear forgets the credential and the conversation tied to it.
func (g *Gate) Clear(ctx context.Context) {
	g.discard(ctx)
	if err := g.cfg.Store.Delete(ctx, storage.KeyChatHistory); err != nil {
		g.cfg.Logger.Warn().Err(err).Msg("delete chat history")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateMissing
	g.credential = ""
	g.models = nil
	g.selected = ""
	g.statusMessage = ""
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Credential returns the plaintext key for outbound requests. Empty unless
// the gate is valid.
func (g *Gate) Credential() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.credential
}

func (g *Gate) Models() []ModelInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]ModelInfo, len(g.models))
	copy(cp, g.models)
	return cp
}

// Selected is the model chosen for generation, preferred model when present.
func (g *Gate) Selected() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selected
}

// Select switches the active model to one the catalog offers.
func (g *Gate) Select(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.models {
		if m.Name == name {
			g.selected = name
			return nil
		}
	}
	return fmt.Errorf("unknown model %q", name)
}

func (g *Gate) StatusMessage() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusMessage
}

func (g *Gate) setState(state State, msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = state
	g.statusMessage = msg
}

func (g *Gate) discard(ctx context.Context) {
	if err := g.cfg.Store.Delete(ctx, storage.KeyAPICredential); err != nil {
		g.cfg.Logger.Warn().Err(err).Msg("delete credential")
	}
}

// accept records a validated key and the usable models it unlocked.
func (g *Gate) accept(key string, models []genai.Model) {
	usable, selected, msg := processModels(models, g.cfg.PreferredModel)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateValid
	g.credential = key
	g.models = usable
	g.selected = selected
	g.statusMessage = msg
}

// processModels keeps models that support generateContent, strips the
// catalog prefix, and picks the preferred model when the key offers it.
func processModels(models []genai.Model, preferred string) (usable []ModelInfo, selected, msg string) {
	for _, m := range models {
		supported := false
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				supported = true
				break
			}
		}
		if !supported {
			continue
		}
		usable = append(usable, ModelInfo{
			Name:        strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
			Description: m.Description,
		})
	}
	if len(usable) == 0 {
		return nil, "", "No compatible text models found for this API key."
	}
	for _, m := range usable {
		if m.Name == preferred {
			return usable, m.Name, ""
		}
	}
	return usable, usable[0].Name, ""
}
