package verification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eas-attendance/backend/internal/models"
)

// State is the verification session state. Transitions only move forward;
// Failed and Expired are terminal from any non-terminal state.
type State string

const (
	StateScanned           State = "scanned"
	StateIdentityConfirmed State = "identity_confirmed"
	StateLocationVerified  State = "location_verified"
	StatePhotoCaptured     State = "photo_captured"
	StateSignatureCaptured State = "signature_captured"
	StateCommitted         State = "committed"
	StateFailed            State = "failed"
	StateExpired           State = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StateExpired
}

// Step is the next input a session is waiting for.
type Step string

const (
	StepIdentity  Step = "identity"
	StepLocation  Step = "location"
	StepPhoto     Step = "photo"
	StepSignature Step = "signature"
	StepCommit    Step = "commit"
	StepNone      Step = "none" // terminal
)

// eventSnapshot pins the event facts a session depends on at scan time, so a
// mid-session event edit cannot shift the rules under a running verification.
type eventSnapshot struct {
	Latitude          *float64
	Longitude         *float64
	RadiusM           float64
	RequiresGPS       bool
	RequiresSelfie    bool
	RequiresSignature bool
	IsMultiCampus     bool
	AllowedCampuses   []uuid.UUID
}

// Session is the per-attempt state carrying a user through identity, location,
// photo, and signature checks. Created on a successful scan, destroyed on
// commit or expiry; never mutated once terminal.
type Session struct {
	ID       uuid.UUID             `json:"id"`
	EventID  uuid.UUID             `json:"event_id"`
	CampusID uuid.UUID             `json:"campus_id"` // copied from the event at session start
	UserID   uuid.UUID             `json:"user_id,omitempty"`
	Kind     models.AttendanceKind `json:"kind"`

	State  State         `json:"state"`
	Reason FailureReason `json:"reason,omitempty"`

	LocationAttempts int                 `json:"location_attempts"`
	Location         *models.LocationFix `json:"location,omitempty"`
	PhotoKey         string              `json:"photo_key,omitempty"`
	SignatureKey     string              `json:"signature_key,omitempty"`

	CrossCampus bool `json:"cross_campus"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	event eventSnapshot
}

// Awaiting returns the next step the session needs, skipping evidence the
// event does not require.
func (s *Session) Awaiting() Step {
	if s.State.Terminal() {
		return StepNone
	}
	switch s.State {
	case StateScanned:
		return StepIdentity
	case StateIdentityConfirmed:
		if s.event.RequiresGPS {
			return StepLocation
		}
		fallthrough
	case StateLocationVerified:
		if s.event.RequiresSelfie {
			return StepPhoto
		}
		fallthrough
	case StatePhotoCaptured:
		if s.event.RequiresSignature {
			return StepSignature
		}
		fallthrough
	default: // StateSignatureCaptured
		return StepCommit
	}
}

// campusAllowed reports whether a user from homeCampus may attend the
// session's event, per the allow-list pinned at scan time.
func (s *Session) campusAllowed(homeCampus uuid.UUID) bool {
	if homeCampus == s.CampusID {
		return true
	}
	if !s.event.IsMultiCampus {
		return false
	}
	for _, id := range s.event.AllowedCampuses {
		if id == homeCampus {
			return true
		}
	}
	return false
}

// fail moves the session to its terminal failed state.
func (s *Session) fail(reason FailureReason) {
	s.State = StateFailed
	s.Reason = reason
}

// expire forces the terminal expired state and discards collected evidence;
// nothing gathered in an expired session is ever persisted.
func (s *Session) expire() {
	s.State = StateExpired
	s.Location = nil
	s.PhotoKey = ""
	s.SignatureKey = ""
}

// SessionManager owns live sessions. A session is held by at most one
// in-flight transition; a second concurrent transition is rejected with
// ErrSessionBusy rather than queued.
type SessionManager struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[uuid.UUID]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	session *Session
}

// NewSessionManager creates a session manager with the given session TTL.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]*sessionEntry),
	}
}

// Create registers a new session in StateScanned.
func (m *SessionManager) Create(eventID, campusID uuid.UUID, kind models.AttendanceKind, snap eventSnapshot) *Session {
	now := m.now()
	s := &Session{
		ID:        uuid.New(),
		EventID:   eventID,
		CampusID:  campusID,
		Kind:      kind,
		State:     StateScanned,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		event:     snap,
	}
	m.mu.Lock()
	m.entries[s.ID] = &sessionEntry{session: s}
	m.mu.Unlock()
	return s
}

// Acquire takes exclusive ownership of a session for one transition. The
// returned release func must be called when the transition settles. Expiry is
// applied lazily here: an overdue session is observably Expired on next access.
func (m *SessionManager) Acquire(id uuid.UUID) (*Session, func(), error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if !entry.mu.TryLock() {
		return nil, nil, ErrSessionBusy
	}
	s := entry.session
	if !s.State.Terminal() && m.now().After(s.ExpiresAt) {
		s.expire()
	}
	if s.State == StateExpired {
		entry.mu.Unlock()
		return nil, nil, ErrSessionExpired
	}
	return s, entry.mu.Unlock, nil
}

// Get returns the session for read-only inspection, applying lazy expiry.
func (m *SessionManager) Get(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	s := entry.session
	if !s.State.Terminal() && m.now().After(s.ExpiresAt) {
		s.expire()
	}
	out := *s
	return &out, nil
}

// Sweep drops terminal and long-expired sessions every interval until ctx is
// done. Abandoned sessions need no explicit signal; they age out here.
func (m *SessionManager) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *SessionManager) sweepOnce() {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.entries {
		// Session fields are guarded by the entry lock; skip entries held by
		// an in-flight transition and revisit them next tick.
		if !entry.mu.TryLock() {
			continue
		}
		s := entry.session
		drop := s.State.Terminal() || s.ExpiresAt.Before(cutoff)
		entry.mu.Unlock()
		if drop {
			delete(m.entries, id)
		}
	}
}
