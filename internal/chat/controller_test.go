package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"promptlab/internal/genai"
)

type fakeStream struct {
	frags []string
	idx   int
	err   error
}

func (s *fakeStream) Recv() (string, error) {
	if s.idx < len(s.frags) {
		frag := s.frags[s.idx]
		s.idx++
		return frag, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeStreamer struct {
	stream     FragmentStream
	connectErr error
	lastReq    genai.GenerateRequest
}

func (f *fakeStreamer) StreamGenerateContent(_ context.Context, _ string, req genai.GenerateRequest) (FragmentStream, error) {
	f.lastReq = req
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.stream, nil
}

func newTestController(streamer Streamer) (*Controller, *Log) {
	log := NewLog()
	return NewController(ControllerConfig{
		Client: streamer,
		Log:    log,
		Logger: zerolog.Nop(),
	}), log
}

func TestGenerateAppliesFragmentsInOrder(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{frags: []string{"The ", "answer ", "is 42."}}}
	ctrl, log := newTestController(streamer)

	res, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "question", Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", res.Status)
	}
	if res.Content != "The answer is 42." {
		t.Fatalf("unexpected content: %q", res.Content)
	}

	turns := log.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Content != "question" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != RoleModel || turns[1].Content != "The answer is 42." {
		t.Fatalf("unexpected model turn: %+v", turns[1])
	}
}

func TestGenerateStopKeepsAppliedFragments(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{frags: []string{"one ", "two ", "three ", "four"}}}
	ctrl, log := newTestController(streamer)

	applied := 0
	res, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "question",
		OnFragment: func(string) {
			applied++
			if applied == 2 {
				ctrl.Stop()
			}
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", res.Status)
	}
	if res.Content != "one two " {
		t.Fatalf("fragment after stop was applied: %q", res.Content)
	}

	turns := log.Snapshot()
	if len(turns) != 2 || turns[1].Content != "one two " {
		t.Fatalf("partial turn not kept: %+v", turns)
	}
}

func TestGenerateFailureRollsBackModelTurnOnly(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{
		frags: []string{"partial"},
		err:   errors.New("stream reset"),
	}}
	ctrl, log := newTestController(streamer)

	res, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "question",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var genErr *GenerateError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerateError, got %T", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %q", res.Status)
	}

	turns := log.Snapshot()
	if len(turns) != 1 || turns[0].Role != RoleUser {
		t.Fatalf("expected user turn preserved alone, got %+v", turns)
	}
}

func TestGenerateConnectErrorClassified(t *testing.T) {
	streamer := &fakeStreamer{connectErr: &genai.APIError{StatusCode: 400, Message: "API key not valid. Please pass a valid API key."}}
	ctrl, log := newTestController(streamer)

	_, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "question",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "Authentication Error:") {
		t.Fatalf("expected authentication classification, got %q", err.Error())
	}
	if got := log.Len(); got != 1 {
		t.Fatalf("expected only the user turn, got %d turns", got)
	}
}

func TestGenerateRejectsConcurrentAttempt(t *testing.T) {
	release := make(chan struct{})
	streamer := &fakeStreamer{stream: &blockingStream{release: release}}
	ctrl, _ := newTestController(streamer)

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Generate(context.Background(), GenerateInput{
			APIKey: "k", Model: "gemini-2.5-flash", Prompt: "question",
		})
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for !ctrl.Active() {
		select {
		case <-deadline:
			t.Fatal("first generation never became active")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "again",
	})
	if !errors.Is(err, ErrGenerationActive) {
		t.Fatalf("expected ErrGenerationActive, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first generation: %v", err)
	}
	if ctrl.Active() {
		t.Fatal("controller still active after completion")
	}
}

func TestGenerateStructuredResponseValidation(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{frags: []string{`{"recipeName":`, `"snickerdoodle","ingredients":["flour"]}`}}}
	ctrl, log := newTestController(streamer)

	res, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "recipes",
		StructuredResponse: true,
		ResponseSchema:     DefaultSchema,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Validation != ValidationValid {
		t.Fatalf("expected valid mark, got %q", res.Validation)
	}
	turns := log.Snapshot()
	if turns[1].ValidationStatus != ValidationValid {
		t.Fatalf("log turn not marked: %+v", turns[1])
	}
	if streamer.lastReq.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("structured request missing json mime type")
	}
}

func TestGenerateStructuredResponseInvalidPayload(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{frags: []string{"this is prose, not JSON"}}}
	ctrl, _ := newTestController(streamer)

	res, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "recipes",
		StructuredResponse: true,
		ResponseSchema:     DefaultSchema,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Validation != ValidationInvalid {
		t.Fatalf("expected invalid mark, got %q", res.Validation)
	}
}

func TestGenerateStructuredResponseEmptyCompletionUnvalidated(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{}}
	ctrl, log := newTestController(streamer)

	res, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "recipes",
		StructuredResponse: true,
		ResponseSchema:     DefaultSchema,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", res.Status)
	}
	if res.Validation != ValidationNone {
		t.Fatalf("empty completion should stay unvalidated, got %q", res.Validation)
	}
	turns := log.Snapshot()
	if len(turns) != 2 || turns[1].ValidationStatus != ValidationNone {
		t.Fatalf("log turn should carry no validation mark: %+v", turns)
	}
}

func TestGenerateFastFailsOnBadSchema(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{frags: []string{"never sent"}}}
	ctrl, log := newTestController(streamer)

	_, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "question",
		StructuredResponse: true,
		ResponseSchema:     "[]",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	want := "Cannot generate response. Please fix the JSON schema error: Schema must be a valid JSON object."
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if log.Len() != 0 {
		t.Fatalf("log should be untouched, got %d turns", log.Len())
	}
}

func TestGenerateFastFailsOnBadStructuredPrompt(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{frags: []string{"never sent"}}}
	ctrl, log := newTestController(streamer)

	_, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "not json",
		StructuredInput: true,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "Cannot generate response. Please fix the User Prompt JSON error:") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if log.Len() != 0 {
		t.Fatalf("log should be untouched, got %d turns", log.Len())
	}
}

func TestGenerateScreenshotDefaultsPrompt(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{frags: []string{"looks fine"}}}
	ctrl, log := newTestController(streamer)

	res, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash",
		Screenshot: "data:image/png;base64,aGVsbG8=",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", res.Status)
	}

	turns := log.Snapshot()
	if turns[0].Content != DefaultAnalyzeInstruction {
		t.Fatalf("analyze default not substituted: %q", turns[0].Content)
	}
	if turns[0].ImagePreview == "" {
		t.Fatal("image preview not recorded on user turn")
	}

	last := streamer.lastReq.Contents[len(streamer.lastReq.Contents)-1]
	if last.Parts[0].InlineData == nil || last.Parts[0].InlineData.Data != "aGVsbG8=" {
		t.Fatalf("image payload not stripped to raw base64: %+v", last.Parts[0])
	}
}

func TestGenerateExcludesPendingTurnsFromHistory(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{frags: []string{"second answer"}}}
	ctrl, log := newTestController(streamer)

	log.Replace([]Turn{
		{Role: RoleUser, Content: "first question"},
		{Role: RoleModel, Content: "first answer"},
	})

	if _, err := ctrl.Generate(context.Background(), GenerateInput{
		APIKey: "k", Model: "gemini-2.5-flash", Prompt: "second question",
	}); err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Prior exchange plus the new prompt, never the placeholder.
	if got := len(streamer.lastReq.Contents); got != 3 {
		t.Fatalf("expected 3 contents, got %d", got)
	}
	if streamer.lastReq.Contents[2].Parts[0].Text != "second question" {
		t.Fatalf("new prompt not last: %+v", streamer.lastReq.Contents[2])
	}
}

type blockingStream struct {
	release chan struct{}
}

func (s *blockingStream) Recv() (string, error) {
	<-s.release
	return "", io.EOF
}

func (s *blockingStream) Close() error { return nil }
