package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// Session holds the role-tagged conversation history for one app session.
// History is in-memory only; each turn appends one user and one assistant
// record.
type Session struct {
	mu            sync.RWMutex
	ID            string
	Context       []Message
	LastUser      string
	LastAssistant string
	MaxMessages   int
	Voice         Voice
	Language      Language
}

func NewSession() *Session {
	return &Session{
		ID:          uuid.NewString(),
		Context:     []Message{},
		MaxMessages: 20,
		Voice:       VoiceDefault,
		Language:    LanguageEn,
	}
}

func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Context = append(s.Context, Message{Role: role, Content: content})
	s.trimLocked()
	if role == "user" {
		s.LastUser = content
	} else if role == "assistant" {
		s.LastAssistant = content
	}
}

// AppendAssistant extends the most recent assistant record, creating it if
// the turn has not produced one yet. Used while deltas stream in.
func (s *Session) AppendAssistant(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.Context)
	if n == 0 || s.Context[n-1].Role != "assistant" {
		s.Context = append(s.Context, Message{Role: "assistant"})
		s.trimLocked()
		n = len(s.Context)
	}
	s.Context[n-1].Content += delta
	s.LastAssistant = s.Context[n-1].Content
}

func (s *Session) trimLocked() {
	if s.MaxMessages > 0 && len(s.Context) > s.MaxMessages {
		s.Context = s.Context[len(s.Context)-s.MaxMessages:]
	}
}

func (s *Session) GetContextCopy() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contextCopy := make([]Message, len(s.Context))
	copy(contextCopy, s.Context)
	return contextCopy
}

func (s *Session) GetLastUser() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastUser
}

func (s *Session) GetLastAssistant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastAssistant
}

// ClearContext drops the history but keeps system prompts.
func (s *Session) ClearContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	system := []Message{}
	for _, msg := range s.Context {
		if msg.Role == "system" {
			system = append(system, msg)
		}
	}
	s.Context = system
	s.LastUser = ""
	s.LastAssistant = ""
}

func (s *Session) GetVoice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Voice
}

func (s *Session) GetLanguage() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Language
}
