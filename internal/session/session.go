// Package session holds per-caller state: session variables, the set of
// attachments the session has made visible, and a bounded history of the
// statements it executed.
//
// A Session is driven by one caller at a time, but its methods lock anyway
// so that SHOW and history inspection from another goroutine are safe.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/noctra/internal/ir"
)

// DefaultHistoryLimit is the history cap when none is configured.
const DefaultHistoryLimit = 100

// Stage is a step of statement execution.
type Stage string

const (
	StageReceived  Stage = "received"
	StageParsed    Stage = "parsed"
	StageBound     Stage = "bound"
	StageRouted    Stage = "routed"
	StageExecuted  Stage = "executed"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// Entry is one history record.
type Entry struct {
	Text    string       `json:"text" yaml:"text"`
	At      time.Time    `json:"at" yaml:"at"`
	Outcome ir.ErrorKind `json:"outcome" yaml:"outcome"`
	Stage   Stage        `json:"stage" yaml:"stage"` // StageCompleted or StageFailed
}

// Clock supplies wall-clock time for history entries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Session is one caller's execution context.
type Session struct {
	id    string
	clock Clock
	limit int

	mu          sync.Mutex
	vars        map[string]ir.Value
	attachments map[string]bool
	history     []Entry
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used to stamp history entries.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithHistoryLimit caps the history length. Values below 1 keep the default.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithIDGenerator sets the session id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Session) { s.id = g.Generate() }
}

// New creates a session with no variables, no visible attachments and an
// empty history.
func New(opts ...Option) *Session {
	s := &Session{
		clock:       systemClock{},
		limit:       DefaultHistoryLimit,
		vars:        make(map[string]ir.Value),
		attachments: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = UUIDv7Generator{}.Generate()
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// SetVar assigns a session variable. A nil value is stored as NULL.
func (s *Session) SetVar(name string, v ir.Value) {
	if v == nil {
		v = ir.Null{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[ir.NormalizeIdent(name)] = v
}

// GetVar returns a session variable.
func (s *Session) GetVar(name string) (ir.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[ir.NormalizeIdent(name)]
	return v, ok
}

// UnsetVar removes a session variable and reports whether it existed.
func (s *Session) UnsetVar(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ir.NormalizeIdent(name)
	if _, ok := s.vars[key]; !ok {
		return false
	}
	delete(s.vars, key)
	return true
}

// Vars returns a copy of every session variable.
func (s *Session) Vars() map[string]ir.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ir.Value, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// VarNames returns the variable names in sorted order.
func (s *Session) VarNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// AddAttachment marks alias as visible to this session.
func (s *Session) AddAttachment(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[ir.NormalizeIdent(alias)] = true
}

// RemoveAttachment drops alias from the visible set.
func (s *Session) RemoveAttachment(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attachments, ir.NormalizeIdent(alias))
}

// Attachments returns the aliases this session attached, sorted.
func (s *Session) Attachments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.attachments))
	for a := range s.attachments {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Record appends a history entry stamped with the session clock, evicting
// the oldest entries past the cap.
func (s *Session) Record(text string, stage Stage, outcome ir.ErrorKind) {
	at := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Entry{Text: text, At: at, Outcome: outcome, Stage: stage})
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// History returns the history, oldest first.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryLimit returns the history cap.
func (s *Session) HistoryLimit() int { return s.limit }
