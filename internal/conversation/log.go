package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker attributes a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
	// SpeakerPending marks the typing indicator shown while a reply is outstanding.
	SpeakerPending Speaker = "pending"
)

var (
	ErrUnknownTurn = errors.New("conversation: unknown turn")
	ErrNotPending  = errors.New("conversation: turn is not a pending placeholder")
)

// Token identifies one appended turn. It is handed back by Append so later
// mutations address the turn by identity instead of by position.
type Token = uuid.UUID

// Turn is one entry of the conversation log.
type Turn struct {
	ID         Token
	Speaker    Speaker
	Text       string
	Attachment string // opaque reference to a locally held image, user turns only
	At         time.Time
}

// Log is the ordered conversation. Insertion order is display order. Turns are
// immutable apart from Rewrite, and only pending placeholders may be removed.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
	now   func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append adds a turn at the end of the log and returns its token.
func (l *Log) Append(speaker Speaker, text, attachment string) Token {
	t := Turn{
		ID:         uuid.New(),
		Speaker:    speaker,
		Text:       text,
		Attachment: attachment,
		At:         l.now(),
	}
	l.mu.Lock()
	l.turns = append(l.turns, t)
	l.mu.Unlock()
	return t.ID
}

// Rewrite replaces the display text of the turn identified by tok.
func (l *Log) Rewrite(tok Token, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(tok)
	if i < 0 {
		return ErrUnknownTurn
	}
	l.turns[i].Text = text
	return nil
}

// Remove deletes the pending placeholder identified by tok.
func (l *Log) Remove(tok Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(tok)
	if i < 0 {
		return ErrUnknownTurn
	}
	if l.turns[i].Speaker != SpeakerPending {
		return ErrNotPending
	}
	l.turns = append(l.turns[:i], l.turns[i+1:]...)
	return nil
}

// Turns returns a copy of the log.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// indexLocked scans from the end since mutations almost always target the
// most recent turns.
func (l *Log) indexLocked(tok Token) int {
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i].ID == tok {
			return i
		}
	}
	return -1
}
