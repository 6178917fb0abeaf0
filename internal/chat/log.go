package chat

import "sync"

// Log is the conversation history. Mutations replace the slice rather than
// editing it in place, so snapshots handed to observers stay stable.
type Log struct {
	mu        sync.Mutex
	turns     []Turn
	observers []func([]Turn)
}

// NewLog returns an empty log. Observers run after every mutation with a
// snapshot of the new state, under the log's lock.
func NewLog(observers ...func([]Turn)) *Log {
	return &Log{observers: observers}
}

// Snapshot returns a copy of the current turns.
func (l *Log) Snapshot() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyTurns()
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// AppendUser adds a user turn carrying the prompt and optional image preview.
func (l *Log) AppendUser(content, imagePreview string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.copyTurns(), Turn{Role: RoleUser, Content: content, ImagePreview: imagePreview})
	l.notify()
}

// AppendPlaceholder adds an empty model turn for fragments to accumulate into.
func (l *Log) AppendPlaceholder() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.copyTurns(), Turn{Role: RoleModel, Content: ""})
	l.notify()
}

// AppendFragment concatenates text onto the last turn's content. Only the
// last turn is ever touched; earlier turns are immutable.
func (l *Log) AppendFragment(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == 0 {
		return
	}
	turns := l.copyTurns()
	turns[len(turns)-1].Content += text
	l.turns = turns
	l.notify()
}

// DropLast removes the last n turns.
func (l *Log) DropLast(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || len(l.turns) == 0 {
		return
	}
	if n > len(l.turns) {
		n = len(l.turns)
	}
	l.turns = l.copyTurns()[:len(l.turns)-n]
	l.notify()
}

// SetLastValidation marks the last turn with a validation status. It only
// applies when that turn is a model turn with content.
func (l *Log) SetLastValidation(status ValidationStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == 0 {
		return
	}
	last := l.turns[len(l.turns)-1]
	if last.Role != RoleModel || last.Content == "" {
		return
	}
	turns := l.copyTurns()
	turns[len(turns)-1].ValidationStatus = status
	l.turns = turns
	l.notify()
}

// Clear removes all turns.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
	l.notify()
}

// Replace swaps the whole history, used when restoring persisted state.
func (l *Log) Replace(turns []Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]Turn, len(turns))
	copy(cp, turns)
	l.turns = cp
	l.notify()
}

func (l *Log) copyTurns() []Turn {
	cp := make([]Turn, len(l.turns), len(l.turns)+1)
	copy(cp, l.turns)
	return cp
}

func (l *Log) notify() {
	snapshot := l.copyTurns()
	for _, fn := range l.observers {
		fn(snapshot)
	}
}
