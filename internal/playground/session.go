package playground

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"promptlab/internal/capture"
	"promptlab/internal/chat"
	"promptlab/internal/keygate"
	"promptlab/internal/storage"
	"promptlab/internal/templates"
)

const DefaultSystemInstruction = "You are an expert software architect. Respond with concise, accurate, and structured information. Use markdown for formatting."

// ErrKeyNotReady is returned when generation is requested without a
// validated credential.
var ErrKeyNotReady = errors.New("API key is not set or not valid")

// Settings is the editable generation setup.
type Settings struct {
	SystemInstruction     string         `json:"systemInstruction"`
	Examples              []chat.Example `json:"examples"`
	Temperature           float64        `json:"temperature"`
	SelectedModel         string         `json:"selectedModel"`
	UseStructuredResponse bool           `json:"useStructuredResponse"`
	ResponseSchemaString  string         `json:"responseSchemaString"`
	UseStructuredInput    bool           `json:"useStructuredInput"`
	Prompt                string         `json:"prompt"`
	Screenshot            string         `json:"screenshot,omitempty"`
}

func defaultSettings() Settings {
	return Settings{
		SystemInstruction:    DefaultSystemInstruction,
		Temperature:          0.7,
		ResponseSchemaString: chat.DefaultSchema,
	}
}

// State is a full snapshot for clients.
type State struct {
	KeyState      keygate.State       `json:"keyState"`
	StatusMessage string              `json:"statusMessage,omitempty"`
	Models        []keygate.ModelInfo `json:"models"`
	Settings      Settings            `json:"settings"`
	SchemaError   string              `json:"schemaError,omitempty"`
	PromptError   string              `json:"promptError,omitempty"`
	LastError     string              `json:"lastError,omitempty"`
	Busy          bool                `json:"busy"`
	Conversation  []chat.Turn         `json:"conversation"`
}

type Config struct {
	Store     storage.Store
	Gate      *keygate.Gate
	Templates *templates.Store
	Streamer  chat.Streamer
	Logger    zerolog.Logger
}

// Session ties the credential gate, template store, conversation log, and
// generation controller into one playground.
type Session struct {
	cfg  Config
	log  *chat.Log
	ctrl *chat.Controller

	mu        sync.Mutex
	settings  Settings
	schemaErr string
	promptErr string
	errMsg    string
}

func New(cfg Config) *Session {
	s := &Session{cfg: cfg, settings: defaultSettings()}
	s.log = chat.NewLog(s.persistHistory)
	s.ctrl = chat.NewController(chat.ControllerConfig{
		Client: cfg.Streamer,
		Log:    s.log,
		Logger: cfg.Logger,
	})
	return s
}

// Init restores the credential and, when it validates, the conversation.
func (s *Session) Init(ctx context.Context) error {
	if err := s.cfg.Gate.Init(ctx); err != nil {
		return err
	}
	if s.cfg.Gate.State() != keygate.StateValid {
		return nil
	}
	if turns := chat.LoadHistory(ctx, s.cfg.Store, s.cfg.Logger); len(turns) > 0 {
		s.log.Replace(turns)
	}
	s.adoptSelectedModel()
	return nil
}

// persistHistory mirrors every log change to storage, but only once the key
// is valid so unauthenticated sessions leave no trace.
func (s *Session) persistHistory(turns []chat.Turn) {
	if s.cfg.Gate.State() != keygate.StateValid {
		return
	}
	if err := chat.SaveHistory(context.Background(), s.cfg.Store, turns); err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("persist chat history")
	}
}

func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// ApplySettings replaces the setup. Flipping structured input on with an
// empty prompt substitutes the example JSON; flipping it off while the
// prompt still equals that example clears it.
func (s *Session) ApplySettings(in Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasStructured := s.settings.UseStructuredInput
	s.settings = in
	s.applyStructuredInputTransition(wasStructured)
	s.revalidate()
}

// SetStructuredInput flips structured input mode with the same prompt
// substitution rules.
func (s *Session) SetStructuredInput(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.UseStructuredInput == on {
		return
	}
	was := s.settings.UseStructuredInput
	s.settings.UseStructuredInput = on
	s.applyStructuredInputTransition(was)
	s.revalidate()
}

func (s *Session) applyStructuredInputTransition(wasStructured bool) {
	switch {
	case s.settings.UseStructuredInput && !wasStructured && strings.TrimSpace(s.settings.Prompt) == "":
		s.settings.Prompt = chat.DefaultPromptJSON
	case !s.settings.UseStructuredInput && wasStructured && s.settings.Prompt == chat.DefaultPromptJSON:
		s.settings.Prompt = ""
	}
}

// revalidate refreshes the structured-mode errors. Caller holds the lock.
func (s *Session) revalidate() {
	s.schemaErr = ""
	s.promptErr = ""
	if s.settings.UseStructuredResponse {
		if err := chat.ValidateSchema(s.settings.ResponseSchemaString); err != nil {
			s.schemaErr = err.Error()
		}
	}
	if s.settings.UseStructuredInput {
		if err := chat.ValidatePromptJSON(s.settings.Prompt); err != nil {
			s.promptErr = err.Error()
		}
	}
}

// SetPrompt replaces the pending prompt text for the next generation.
func (s *Session) SetPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Prompt = prompt
	s.revalidate()
}

// AttachScreenshot stores a pending frame for the next generation.
func (s *Session) AttachScreenshot(dataURI string) error {
	if err := capture.ValidateDataURI(dataURI); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Screenshot = dataURI
	return nil
}

func (s *Session) ClearScreenshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Screenshot = ""
}

// Generate runs one attempt with the current setup. The pending prompt and
// screenshot are cleared as soon as the request is accepted.
func (s *Session) Generate(ctx context.Context, onFragment func(string)) (chat.Result, error) {
	if s.cfg.Gate.State() != keygate.StateValid {
		return chat.Result{}, ErrKeyNotReady
	}

	s.mu.Lock()
	s.errMsg = ""
	settings := s.settings
	s.mu.Unlock()

	model := settings.SelectedModel
	if model == "" {
		model = s.cfg.Gate.Selected()
	}

	res, err := s.ctrl.Generate(ctx, chat.GenerateInput{
		APIKey:             s.cfg.Gate.Credential(),
		Model:              model,
		SystemInstruction:  settings.SystemInstruction,
		Examples:           settings.Examples,
		Temperature:        settings.Temperature,
		Prompt:             settings.Prompt,
		Screenshot:         settings.Screenshot,
		StructuredResponse: settings.UseStructuredResponse,
		ResponseSchema:     settings.ResponseSchemaString,
		StructuredInput:    settings.UseStructuredInput,
		OnFragment:         onFragment,
		OnAccepted: func() {
			s.mu.Lock()
			s.settings.Prompt = ""
			s.settings.Screenshot = ""
			s.revalidate()
			s.mu.Unlock()
		},
	})
	if err != nil {
		var genErr *chat.GenerateError
		if errors.As(err, &genErr) {
			s.mu.Lock()
			s.errMsg = genErr.Message
			s.mu.Unlock()
		}
		return res, err
	}
	return res, nil
}

func (s *Session) Stop() {
	s.ctrl.Stop()
}

func (s *Session) Busy() bool {
	return s.ctrl.Active()
}

// ClearChat wipes the conversation and any surfaced error.
func (s *Session) ClearChat() {
	s.log.Clear()
	s.mu.Lock()
	s.errMsg = ""
	s.mu.Unlock()
}

func (s *Session) Conversation() []chat.Turn {
	return s.log.Snapshot()
}

// SubmitKey validates and stores a new credential, adopting its preferred
// model when the current selection is gone.
func (s *Session) SubmitKey(ctx context.Context, key string) error {
	if err := s.cfg.Gate.Submit(ctx, key); err != nil {
		return err
	}
	s.adoptSelectedModel()
	return nil
}

// ClearKey forgets the credential and the conversation tied to it.
func (s *Session) ClearKey(ctx context.Context) {
	s.cfg.Gate.Clear(ctx)
	s.log.Clear()
	s.mu.Lock()
	s.settings.SelectedModel = ""
	s.errMsg = ""
	s.mu.Unlock()
}

// SelectModel switches the active model.
func (s *Session) SelectModel(name string) error {
	if err := s.cfg.Gate.Select(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings.SelectedModel = name
	s.mu.Unlock()
	return nil
}

func (s *Session) adoptSelectedModel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.settings.SelectedModel
	for _, m := range s.cfg.Gate.Models() {
		if m.Name == current {
			return
		}
	}
	s.settings.SelectedModel = s.cfg.Gate.Selected()
}

// SaveTemplate snapshots the current setup under the given name.
func (s *Session) SaveTemplate(ctx context.Context, name string) error {
	s.mu.Lock()
	tpl := templates.PromptTemplate{
		Name:                  name,
		SystemInstruction:     s.settings.SystemInstruction,
		Examples:              s.settings.Examples,
		Temperature:           s.settings.Temperature,
		SelectedModel:         s.settings.SelectedModel,
		UseStructuredResponse: s.settings.UseStructuredResponse,
		ResponseSchemaString:  s.settings.ResponseSchemaString,
	}
	s.mu.Unlock()
	return s.cfg.Templates.Save(ctx, tpl)
}

// ApplyTemplate restores a saved setup over the current one.
func (s *Session) ApplyTemplate(name string) error {
	tpl, ok := s.cfg.Templates.Get(name)
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.SystemInstruction = tpl.SystemInstruction
	s.settings.Examples = tpl.Examples
	s.settings.Temperature = tpl.Temperature
	s.settings.SelectedModel = tpl.SelectedModel
	s.settings.UseStructuredResponse = tpl.UseStructuredResponse
	s.settings.ResponseSchemaString = tpl.ResponseSchemaString
	s.revalidate()
	return nil
}

func (s *Session) DeleteTemplate(ctx context.Context, name string) error {
	return s.cfg.Templates.Delete(ctx, name)
}

func (s *Session) Templates() []templates.PromptTemplate {
	return s.cfg.Templates.List()
}

// Snapshot assembles the full client-facing state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	settings := s.settings
	schemaErr := s.schemaErr
	promptErr := s.promptErr
	errMsg := s.errMsg
	s.mu.Unlock()

	return State{
		KeyState:      s.cfg.Gate.State(),
		StatusMessage: s.cfg.Gate.StatusMessage(),
		Models:        s.cfg.Gate.Models(),
		Settings:      settings,
		SchemaError:   schemaErr,
		PromptError:   promptErr,
		LastError:     errMsg,
		Busy:          s.ctrl.Active(),
		Conversation:  s.log.Snapshot(),
	}
}
