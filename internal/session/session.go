// Package session runs the interactive search, select and confirm flow that
// turns a free-text game query into a tracking subscription.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gameclaim/internal/cache"
	"gameclaim/internal/fuzzy"
	"gameclaim/internal/metrics"
	"gameclaim/internal/model"
)

// Tuning of the candidate list.
const (
	SearchLimit   = 20
	MinScore      = 50
	FallbackCount = 5
	PageSize      = 5
)

// Session errors.
var (
	ErrNotFound     = errors.New("no games found")
	ErrExpired      = errors.New("session expired")
	ErrNotInitiator = errors.New("only the user who started this search can use it")
	ErrInvalidState = errors.New("action not allowed in current state")
)

// State is the position of a session in the flow.
type State int

// Session states. Searching is transient and never observed outside Start.
const (
	Searching State = iota
	Selecting
	Confirming
	Committed
	Cancelled
	TimedOut
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Selecting:
		return "selecting"
	case Confirming:
		return "confirming"
	case Committed:
		return "committed"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Committed || s == Cancelled || s == TimedOut
}

// ViewRef points at the message that renders a session.
type ViewRef struct {
	ChannelID string
	MessageID string
}

// Session is a snapshot of one interactive flow.
type Session struct {
	ID         string
	UserID     string
	ChannelID  string
	Query      string
	Mode       model.TrackMode
	Privileged bool

	State      State
	Candidates []fuzzy.Match[model.CandidateGame]
	Page       int
	Selected   int
	View       ViewRef
}

// Pages returns the number of candidate pages.
func (s Session) Pages() int {
	return (len(s.Candidates) + PageSize - 1) / PageSize
}

// PageItems returns the candidates on the current page.
func (s Session) PageItems() []fuzzy.Match[model.CandidateGame] {
	start := s.Page * PageSize
	if start >= len(s.Candidates) {
		return nil
	}
	end := min(start+PageSize, len(s.Candidates))
	return s.Candidates[start:end]
}

// Choice returns the selected candidate, if any.
func (s Session) Choice() (model.CandidateGame, bool) {
	if s.Selected < 0 || s.Selected >= len(s.Candidates) {
		return model.CandidateGame{}, false
	}
	return s.Candidates[s.Selected].Item, true
}

// Searcher queries the game catalog.
type Searcher interface {
	SearchGames(ctx context.Context, query string, limit int) ([]model.CandidateGame, error)
}

// Committer persists a confirmed subscription.
type Committer interface {
	Subscribe(ctx context.Context, sub *model.TrackingSubscription, privileged bool) ([]model.TrackingSubscription, error)
}

// StartRequest opens a session.
type StartRequest struct {
	UserID     string
	ChannelID  string
	Query      string
	Mode       model.TrackMode
	Privileged bool
}

// Manager owns all open sessions.
type Manager struct {
	searcher  Searcher
	committer Committer
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger

	mu       sync.Mutex
	sessions *cache.TTL[string, *Session]
	onExpire func(Session)
}

// NewManager creates a Manager whose sessions expire after timeout of inactivity.
func NewManager(s Searcher, c Committer, timeout time.Duration, m *metrics.Metrics, log *slog.Logger) *Manager {
	return &Manager{
		searcher:  s,
		committer: c,
		timeout:   timeout,
		metrics:   m,
		log:       log,
		sessions:  cache.New[string, *Session](),
	}
}

// OnExpire registers a hook called by Sweep for every timed out session.
func (m *Manager) OnExpire(fn func(Session)) {
	m.mu.Lock()
	m.onExpire = fn
	m.mu.Unlock()
}

// Start searches the catalog and opens a session. Zero results end the flow
// with ErrNotFound and no session is created.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Session, error) {
	if req.Mode == "" {
		req.Mode = model.TrackAllTimeLow
	}
	if !req.Mode.Valid() {
		return Session{}, fmt.Errorf("invalid tracking mode %q", req.Mode)
	}

	cands, err := m.search(ctx, req.Query)
	if err != nil {
		return Session{}, err
	}

	s := &Session{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		ChannelID:  req.ChannelID,
		Query:      req.Query,
		Mode:       req.Mode,
		Privileged: req.Privileged,
	}
	s.setCandidates(cands)

	m.mu.Lock()
	m.sessions.Set(s.ID, s, m.timeout)
	n := m.sessions.Len()
	m.mu.Unlock()

	m.metrics.SetSessionsActive(n)
	m.log.Debug("session started", "session_id", s.ID, "user_id", s.UserID, "candidates", len(cands), "state", s.State)
	return *s, nil
}

func (m *Manager) search(ctx context.Context, query string) ([]fuzzy.Match[model.CandidateGame], error) {
	games, err := m.searcher.SearchGames(ctx, query, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search games: %w", err)
	}
	if len(games) == 0 {
		return nil, ErrNotFound
	}
	ranked := fuzzy.Rank(query, games, func(g model.CandidateGame) string { return g.Title })
	return fuzzy.Threshold(ranked, MinScore, FallbackCount), nil
}

func (s *Session) setCandidates(c []fuzzy.Match[model.CandidateGame]) {
	s.Candidates = c
	s.Page = 0
	s.Selected = -1
	s.State = Selecting
	if len(c) == 1 {
		s.Selected = 0
		s.State = Confirming
	}
}

// Get returns a snapshot of an open session.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions.Get(id)
	if !ok {
		return Session{}, ErrExpired
	}
	return *s, nil
}

// SetView records where the session is rendered.
func (m *Manager) SetView(id string, v ViewRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions.Get(id); ok {
		s.View = v
	}
}

// transition runs fn on a live session owned by userID and refreshes its timeout.
func (m *Manager) transition(id, userID string, fn func(s *Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.Get(id)
	if !ok {
		return Session{}, ErrExpired
	}
	if s.UserID != userID {
		return *s, ErrNotInitiator
	}
	if err := fn(s); err != nil {
		return *s, err
	}
	m.sessions.Touch(id, m.timeout)
	return *s, nil
}

// Select picks the candidate at index (into the full candidate list).
func (m *Manager) Select(id, userID string, index int) (Session, error) {
	return m.transition(id, userID, func(s *Session) error {
		if s.State != Selecting {
			return ErrInvalidState
		}
		if index < 0 || index >= len(s.Candidates) {
			return fmt.Errorf("candidate %d out of range: %w", index, ErrInvalidState)
		}
		s.Selected = index
		s.State = Confirming
		return nil
	})
}

// Page moves the candidate list by delta pages. Selection is unaffected.
func (m *Manager) Page(id, userID string, delta int) (Session, error) {
	return m.transition(id, userID, func(s *Session) error {
		if s.State != Selecting {
			return ErrInvalidState
		}
		p := s.Page + delta
		if p < 0 || p >= s.Pages() {
			return nil
		}
		s.Page = p
		return nil
	})
}

// Back returns from confirmation to the preserved candidate list.
func (m *Manager) Back(id, userID string) (Session, error) {
	return m.transition(id, userID, func(s *Session) error {
		if s.State != Confirming {
			return ErrInvalidState
		}
		s.State = Selecting
		s.Selected = -1
		return nil
	})
}

// SetMode changes the tracking mode before confirmation.
func (m *Manager) SetMode(id, userID string, mode model.TrackMode) (Session, error) {
	return m.transition(id, userID, func(s *Session) error {
		if s.State.Terminal() || !mode.Valid() {
			return ErrInvalidState
		}
		s.Mode = mode
		return nil
	})
}

// Research replaces the candidate set with the results of a new query.
// A query with no results leaves the session unchanged and returns ErrNotFound.
func (m *Manager) Research(ctx context.Context, id, userID, query string) (Session, error) {
	if _, err := m.transition(id, userID, func(s *Session) error {
		if s.State.Terminal() {
			return ErrInvalidState
		}
		return nil
	}); err != nil {
		return Session{}, err
	}

	cands, err := m.search(ctx, query)
	if err != nil {
		snap, _ := m.Get(id)
		return snap, err
	}

	return m.transition(id, userID, func(s *Session) error {
		if s.State.Terminal() {
			return ErrInvalidState
		}
		s.Query = query
		s.setCandidates(cands)
		return nil
	})
}

// Cancel ends the session without creating a subscription.
func (m *Manager) Cancel(id, userID string) (Session, error) {
	m.mu.Lock()
	s, ok := m.sessions.Get(id)
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrExpired
	}
	if s.UserID != userID {
		m.mu.Unlock()
		return *s, ErrNotInitiator
	}
	m.sessions.Delete(id)
	s.State = Cancelled
	n := m.sessions.Len()
	m.mu.Unlock()

	m.metrics.SetSessionsActive(n)
	m.log.Debug("session cancelled", "session_id", id)
	return *s, nil
}

// Confirm commits the selected candidate as a tracking subscription. The
// session is discarded on success and restored if persisting fails.
func (m *Manager) Confirm(ctx context.Context, id, userID string) (Session, *model.TrackingSubscription, []model.TrackingSubscription, error) {
	m.mu.Lock()
	s, ok := m.sessions.Get(id)
	if !ok {
		m.mu.Unlock()
		return Session{}, nil, nil, ErrExpired
	}
	if s.UserID != userID {
		m.mu.Unlock()
		return *s, nil, nil, ErrNotInitiator
	}
	game, chosen := s.Choice()
	if s.State != Confirming || !chosen {
		m.mu.Unlock()
		return *s, nil, nil, ErrInvalidState
	}
	// Taking the session out makes a concurrent second confirm fail.
	m.sessions.Delete(id)
	m.mu.Unlock()

	sub := &model.TrackingSubscription{
		UserID:    s.UserID,
		ChannelID: s.ChannelID,
		GameID:    game.GameID,
		GameName:  game.Title,
		Mode:      s.Mode,
	}
	replaced, err := m.committer.Subscribe(ctx, sub, s.Privileged)
	if err != nil {
		m.mu.Lock()
		m.sessions.Set(id, s, m.timeout)
		m.mu.Unlock()
		return *s, nil, nil, fmt.Errorf("commit tracking: %w", err)
	}

	m.mu.Lock()
	s.State = Committed
	n := m.sessions.Len()
	m.mu.Unlock()

	m.metrics.SetSessionsActive(n)
	return *s, sub, replaced, nil
}

// Sweep discards timed out sessions and calls the expiry hook for each.
// It returns how many sessions expired.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	expired := m.sessions.Sweep()
	for _, s := range expired {
		s.State = TimedOut
	}
	hook := m.onExpire
	n := m.sessions.Len()
	m.mu.Unlock()

	m.metrics.SetSessionsActive(n)
	for _, s := range expired {
		m.log.Debug("session timed out", "session_id", s.ID, "user_id", s.UserID)
		if hook != nil {
			hook(*s)
		}
	}
	return len(expired)
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}

// SetClock overrides the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.sessions.SetClock(now)
}
