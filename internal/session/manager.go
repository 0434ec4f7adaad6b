// Package session tracks per-user interaction state: where each user is in
// the login flow, which creative command awaits a follow-up image and whether
// a job is already in flight for them. All state is in-memory and lost on
// restart; users simply re-initiate.
package session

import (
	"sync"
	"time"

	"drawbot/internal/domain"
)

// State is a user's position in the interaction flow.
type State int

const (
	StateIdle State = iota
	StateAwaitingLoginPhone
	StateAwaitingLoginCode
	StateAwaitingSketchImage
	StateAwaitingUploadImage
)

func (s State) String() string {
	switch s {
	case StateAwaitingLoginPhone:
		return "awaiting_login_phone"
	case StateAwaitingLoginCode:
		return "awaiting_login_code"
	case StateAwaitingSketchImage:
		return "awaiting_sketch_image"
	case StateAwaitingUploadImage:
		return "awaiting_upload_image"
	default:
		return "idle"
	}
}

// PendingLogin holds the in-progress login exchange. One challenge per user:
// submitting a new phone discards the previous one.
type PendingLogin struct {
	Phone     string
	Challenge string
}

// PendingRequest is a creative command waiting for its follow-up image.
// Expires after the manager's TTL, checked lazily when the image arrives.
type PendingRequest struct {
	Type       domain.TaskType
	Prompt     string
	Resolution domain.Resolution
	Style      domain.Style
	CreatedAt  time.Time
}

const defaultRequestTTL = 10 * time.Minute

type Manager struct {
	mu         sync.Mutex
	states     map[string]State
	logins     map[string]PendingLogin
	requests   map[string]PendingRequest
	inflight   map[string]bool
	needsLogin bool
	requestTTL time.Duration
	now        func() time.Time
}

// Options tunes the manager. Zero values take the defaults.
type Options struct {
	RequestTTL time.Duration
	Now        func() time.Time
}

func NewManager(opts Options) *Manager {
	ttl := opts.RequestTTL
	if ttl <= 0 {
		ttl = defaultRequestTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		states:     map[string]State{},
		logins:     map[string]PendingLogin{},
		requests:   map[string]PendingRequest{},
		inflight:   map[string]bool{},
		requestTTL: ttl,
		now:        now,
	}
}

func (m *Manager) State(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID]
}

func (m *Manager) SetState(userID string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == StateIdle {
		delete(m.states, userID)
		return
	}
	m.states[userID] = state
}

// Reset clears every per-user record for userID except the in-flight marker.
func (m *Manager) Reset(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	delete(m.logins, userID)
	delete(m.requests, userID)
}

// NeedsLogin reports the global flag set after an unrecoverable authorization
// failure. Any user's next command routes into the login flow while set.
func (m *Manager) NeedsLogin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsLogin
}

func (m *Manager) SetNeedsLogin(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.needsLogin = v
}

// BeginLogin moves the user to the start of the login flow, discarding any
// pending creative request.
func (m *Manager) BeginLogin(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[userID] = StateAwaitingLoginPhone
	delete(m.logins, userID)
	delete(m.requests, userID)
}

// SetChallenge records the SMS challenge and advances to the code prompt.
// A repeated phone submission overwrites the previous challenge.
func (m *Manager) SetChallenge(userID, phone, challenge string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[userID] = PendingLogin{Phone: phone, Challenge: challenge}
	m.states[userID] = StateAwaitingLoginCode
}

// TakeLogin removes and returns the pending login exchange.
func (m *Manager) TakeLogin(userID string) (PendingLogin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	login, ok := m.logins[userID]
	delete(m.logins, userID)
	return login, ok
}

// SetPendingRequest records a creative command awaiting its follow-up image
// and moves the user to the matching state.
func (m *Manager) SetPendingRequest(userID string, req PendingRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.CreatedAt = m.now()
	m.requests[userID] = req
	switch req.Type {
	case domain.TaskSketchToImage:
		m.states[userID] = StateAwaitingSketchImage
	default:
		m.states[userID] = StateAwaitingUploadImage
	}
}

// TakePendingRequest removes and returns the pending creative request. The
// state is cleared unconditionally so one image round-trip can never leave a
// user stuck. Requests older than the TTL are dropped as if never set.
func (m *Manager) TakePendingRequest(userID string) (PendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[userID]
	delete(m.requests, userID)
	delete(m.states, userID)
	if !ok {
		return PendingRequest{}, false
	}
	if m.now().Sub(req.CreatedAt) > m.requestTTL {
		return PendingRequest{}, false
	}
	return req, true
}

// BeginJob marks the user as having a job in flight. Returns false when one
// already is; callers answer with a busy reply instead of submitting.
func (m *Manager) BeginJob(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[userID] {
		return false
	}
	m.inflight[userID] = true
	return true
}

func (m *Manager) EndJob(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, userID)
}
