package templates

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"promptlab/internal/chat"
	"promptlab/internal/storage"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := Open(ctx, kv, zerolog.Nop())

	tpl := PromptTemplate{
		Name:                  "code review",
		SystemInstruction:     "You review Go code.",
		Examples:              []chat.Example{{Input: "for i := range x", Output: "looks fine"}},
		Temperature:           0.4,
		SelectedModel:         "gemini-2.5-flash",
		UseStructuredResponse: true,
		ResponseSchemaString:  `{"type":"OBJECT"}`,
	}
	if err := s.Save(ctx, tpl); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := Open(ctx, kv, zerolog.Nop())
	got, ok := reloaded.Get("code review")
	if !ok {
		t.Fatal("template not found after reload")
	}
	if got.SystemInstruction != tpl.SystemInstruction ||
		got.Temperature != tpl.Temperature ||
		got.SelectedModel != tpl.SelectedModel ||
		!got.UseStructuredResponse ||
		got.ResponseSchemaString != tpl.ResponseSchemaString {
		t.Fatalf("template fields lost: %+v", got)
	}
	if len(got.Examples) != 1 || got.Examples[0].Output != "looks fine" {
		t.Fatalf("examples lost: %+v", got.Examples)
	}
}

func TestSaveUpsertsByName(t *testing.T) {
	ctx := context.Background()
	s := Open(ctx, storage.NewMemoryStore(), zerolog.Nop())

	if err := s.Save(ctx, PromptTemplate{Name: "a", Temperature: 0.1}); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := s.Save(ctx, PromptTemplate{Name: "b", Temperature: 0.2}); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := s.Save(ctx, PromptTemplate{Name: "a", Temperature: 0.9}); err != nil {
		t.Fatalf("overwrite a: %v", err)
	}

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(list))
	}
	if list[0].Name != "a" || list[0].Temperature != 0.9 {
		t.Fatalf("overwrite did not keep position: %+v", list)
	}
}

func TestSaveRejectsEmptyName(t *testing.T) {
	s := Open(context.Background(), storage.NewMemoryStore(), zerolog.Nop())
	if err := s.Save(context.Background(), PromptTemplate{Name: "  "}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestDeleteRemovesAndClearsKey(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := Open(ctx, kv, zerolog.Nop())

	if err := s.Save(ctx, PromptTemplate{Name: "only"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(ctx, "only"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get("only"); ok {
		t.Fatal("template still present")
	}
	if _, found, _ := kv.Get(ctx, storage.KeyPromptTemplates); found {
		t.Fatal("expected templates key removed when empty")
	}
}

func TestOpenResetsCorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	if err := kv.Set(ctx, storage.KeyPromptTemplates, "not an array"); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	s := Open(ctx, kv, zerolog.Nop())
	if len(s.List()) != 0 {
		t.Fatalf("expected empty store, got %+v", s.List())
	}
	if _, found, _ := kv.Get(ctx, storage.KeyPromptTemplates); found {
		t.Fatal("corrupt value still stored")
	}
}
