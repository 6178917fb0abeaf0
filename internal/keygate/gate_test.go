package keygate

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"promptlab/internal/crypto"
	"promptlab/internal/genai"
	"promptlab/internal/storage"
)

type fakeLister struct {
	models []genai.Model
	err    error
	calls  int
}

func (f *fakeLister) ListModels(_ context.Context, _ string) ([]genai.Model, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.models, nil
}

func catalog() []genai.Model {
	return []genai.Model{
		{Name: "models/gemini-2.0-pro", DisplayName: "Pro", SupportedGenerationMethods: []string{"generateContent"}},
		{Name: "models/gemini-2.5-flash", DisplayName: "Flash", SupportedGenerationMethods: []string{"generateContent"}},
		{Name: "models/embedding-001", DisplayName: "Embedding", SupportedGenerationMethods: []string{"embedContent"}},
	}
}

func testKeyring(t *testing.T) *crypto.Keyring {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	ring, err := crypto.NewKeyring("k1", map[string][]byte{"k1": key})
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return ring
}

func newGate(t *testing.T, lister ModelLister, store storage.Store) *Gate {
	t.Helper()
	return New(Config{
		Client:  lister,
		Store:   store,
		Keyring: testKeyring(t),
		Logger:  zerolog.Nop(),
	})
}

func TestInitNoStoredCredential(t *testing.T) {
	gate := newGate(t, &fakeLister{models: catalog()}, storage.NewMemoryStore())
	if err := gate.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if gate.State() != StateMissing {
		t.Fatalf("expected missing, got %q", gate.State())
	}
}

func TestSubmitThenInitRestores(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	lister := &fakeLister{models: catalog()}
	gate := newGate(t, lister, store)

	if err := gate.Submit(ctx, "  real-key  "); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gate.State() != StateValid {
		t.Fatalf("expected valid, got %q", gate.State())
	}
	if gate.Credential() != "real-key" {
		t.Fatalf("credential not trimmed: %q", gate.Credential())
	}
	if gate.Selected() != "gemini-2.5-flash" {
		t.Fatalf("preferred model not selected: %q", gate.Selected())
	}
	if len(gate.Models()) != 2 {
		t.Fatalf("expected 2 usable models, got %d", len(gate.Models()))
	}

	// The stored value must be an envelope, never the raw key.
	raw, found, _ := store.Get(ctx, storage.KeyAPICredential)
	if !found {
		t.Fatal("credential not persisted")
	}
	if strings.Contains(raw, "real-key") {
		t.Fatal("credential persisted in plaintext")
	}

	restored := newGate(t, lister, store)
	if err := restored.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if restored.State() != StateValid || restored.Credential() != "real-key" {
		t.Fatalf("restore failed: state=%q cred=%q", restored.State(), restored.Credential())
	}
}

func TestSubmitEmptyKey(t *testing.T) {
	gate := newGate(t, &fakeLister{models: catalog()}, storage.NewMemoryStore())
	err := gate.Submit(context.Background(), "   ")
	if err == nil || err.Error() != "API key cannot be empty." {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubmitRejectedKey(t *testing.T) {
	gate := newGate(t, &fakeLister{err: errors.New("API key not valid. Please pass a valid API key.")}, storage.NewMemoryStore())
	err := gate.Submit(context.Background(), "bad")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "API Key is not valid. Reason: ") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if gate.State() != StateInvalid {
		t.Fatalf("expected invalid, got %q", gate.State())
	}
}

func TestInitRemovesRejectedStoredCredential(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gate := newGate(t, &fakeLister{models: catalog()}, store)
	if err := gate.Submit(ctx, "was-good"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	revoked := newGate(t, &fakeLister{err: errors.New("API key not valid")}, store)
	if err := revoked.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if revoked.State() != StateInvalid {
		t.Fatalf("expected invalid, got %q", revoked.State())
	}
	if _, found, _ := store.Get(ctx, storage.KeyAPICredential); found {
		t.Fatal("rejected credential still stored")
	}
}

func TestInitRemovesUnreadableStoredCredential(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	if err := store.Set(ctx, storage.KeyAPICredential, "garbage"); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	lister := &fakeLister{models: catalog()}
	gate := newGate(t, lister, store)
	if err := gate.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if gate.State() != StateInvalid {
		t.Fatalf("expected invalid, got %q", gate.State())
	}
	if lister.calls != 0 {
		t.Fatalf("unreadable credential should not reach the API, got %d calls", lister.calls)
	}
	if _, found, _ := store.Get(ctx, storage.KeyAPICredential); found {
		t.Fatal("unreadable credential still stored")
	}
}

func TestNoCompatibleModels(t *testing.T) {
	gate := newGate(t, &fakeLister{models: []genai.Model{
		{Name: "models/embedding-001", SupportedGenerationMethods: []string{"embedContent"}},
	}}, storage.NewMemoryStore())

	if err := gate.Submit(context.Background(), "key"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gate.State() != StateValid {
		t.Fatalf("expected valid, got %q", gate.State())
	}
	if gate.Selected() != "" {
		t.Fatalf("expected no selection, got %q", gate.Selected())
	}
	if gate.StatusMessage() != "No compatible text models found for this API key." {
		t.Fatalf("unexpected status: %q", gate.StatusMessage())
	}
}

func TestFallsBackToFirstUsableModel(t *testing.T) {
	gate := newGate(t, &fakeLister{models: []genai.Model{
		{Name: "models/gemini-2.0-pro", SupportedGenerationMethods: []string{"generateContent"}},
	}}, storage.NewMemoryStore())

	if err := gate.Submit(context.Background(), "key"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gate.Selected() != "gemini-2.0-pro" {
		t.Fatalf("expected first model, got %q", gate.Selected())
	}
}

func TestSelect(t *testing.T) {
	gate := newGate(t, &fakeLister{models: catalog()}, storage.NewMemoryStore())
	if err := gate.Submit(context.Background(), "key"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := gate.Select("gemini-2.0-pro"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if gate.Selected() != "gemini-2.0-pro" {
		t.Fatalf("selection not applied: %q", gate.Selected())
	}
	if err := gate.Select("nope"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestClearRemovesCredentialAndHistory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	gate := newGate(t, &fakeLister{models: catalog()}, store)
	if err := gate.Submit(ctx, "key"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := store.Set(ctx, storage.KeyChatHistory, `[{"role":"user","content":"hi"}]`); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	gate.Clear(ctx)

	if gate.State() != StateMissing || gate.Credential() != "" {
		t.Fatalf("gate not reset: state=%q cred=%q", gate.State(), gate.Credential())
	}
	if _, found, _ := store.Get(ctx, storage.KeyAPICredential); found {
		t.Fatal("credential still stored")
	}
	if _, found, _ := store.Get(ctx, storage.KeyChatHistory); found {
		t.Fatal("history still stored")
	}
}
