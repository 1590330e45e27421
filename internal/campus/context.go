package campus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eas-attendance/backend/internal/models"
)

var (
	// ErrPermissionDenied means a campus switch targeted a campus outside the
	// user's accessible set.
	ErrPermissionDenied = errors.New("campus access denied")
	// ErrCampusNotFound means the target campus does not exist or is inactive.
	ErrCampusNotFound = errors.New("campus not found")
)

// Context is the session-scoped answer to "which campus am I operating in".
// The active campus id and its branding/flags snapshot change together; no
// observer ever sees one updated without the other.
type Context struct {
	UserID         uuid.UUID     `json:"user_id"`
	ActiveCampusID uuid.UUID     `json:"active_campus_id"`
	Campus         models.Campus `json:"campus"` // snapshot of the active campus
	Permissions    PermissionSet `json:"permissions"`
}

// DirectoryReader is the campus lookup the context manager needs.
type DirectoryReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campus, error)
}

// ContextStore persists campus contexts across requests. Init and teardown
// are owned by the caller; the manager only reads and writes through it.
type ContextStore interface {
	Save(ctx context.Context, c *Context) error
	Load(ctx context.Context, userID uuid.UUID) (*Context, error) // nil, nil when absent
	Delete(ctx context.Context, userID uuid.UUID) error
}

// ChangeNotifier receives campus-changed emissions. Delivery mechanics
// (theming refresh, email) are the collaborator's concern.
type ChangeNotifier interface {
	CampusChanged(ctx context.Context, userID uuid.UUID, campus *models.Campus)
}

// Manager owns session campus contexts. Switches for one user are serialized;
// different users proceed independently.
type Manager struct {
	directory DirectoryReader
	store     ContextStore
	notifier  ChangeNotifier
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex // per-user switch serialization
}

// NewManager creates a campus context manager.
func NewManager(directory DirectoryReader, store ContextStore, notifier ChangeNotifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		directory: directory,
		store:     store,
		notifier:  notifier,
		logger:    logger,
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *Manager) userLock(userID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// Establish creates (or restores) the context for a freshly authenticated
// user, anchored at their home campus.
func (m *Manager) Establish(ctx context.Context, user *models.User) (*Context, error) {
	lock := m.userLock(user.ID)
	lock.Lock()
	defer lock.Unlock()

	perms := ResolvePermissions(user)

	if existing, err := m.store.Load(ctx, user.ID); err == nil && existing != nil {
		// Permissions are never trusted from the store: recompute on every
		// restore so a role change invalidates stale rights.
		existing.Permissions = perms
		if perms.Allows(existing.ActiveCampusID) {
			if err := m.store.Save(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	c, err := m.directory.GetByID(ctx, user.CampusID)
	if err != nil {
		return nil, ErrCampusNotFound
	}
	sc := &Context{
		UserID:         user.ID,
		ActiveCampusID: c.ID,
		Campus:         *c,
		Permissions:    perms,
	}
	if err := m.store.Save(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// ActiveCampus returns the current context for the user. Read-only; never
// mutates state.
func (m *Manager) ActiveCampus(ctx context.Context, userID uuid.UUID) (*Context, error) {
	sc, err := m.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, ErrCampusNotFound
	}
	return sc, nil
}

// SwitchCampus atomically moves the user's active campus to targetCampusID.
// Fails with ErrPermissionDenied outside the accessible set and
// ErrCampusNotFound for unknown or deactivated campuses; on failure the
// stored context is left untouched.
func (m *Manager) SwitchCampus(ctx context.Context, userID, targetCampusID uuid.UUID) (*Context, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sc, err := m.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, ErrCampusNotFound
	}

	if !sc.Permissions.Allows(targetCampusID) {
		return nil, ErrPermissionDenied
	}

	target, err := m.directory.GetByID(ctx, targetCampusID)
	if err != nil || target == nil || !target.Active {
		return nil, ErrCampusNotFound
	}

	next := *sc
	next.ActiveCampusID = target.ID
	next.Campus = *target
	if err := m.store.Save(ctx, &next); err != nil {
		return nil, err
	}

	if m.notifier != nil {
		m.notifier.CampusChanged(ctx, userID, target)
	}
	m.logger.Info("campus switched",
		zap.String("user_id", userID.String()),
		zap.String("campus_id", target.ID.String()),
		zap.String("campus_code", target.Code),
	)
	return &next, nil
}

// Teardown removes the stored context, e.g. on logout.
func (m *Manager) Teardown(ctx context.Context, userID uuid.UUID) error {
	return m.store.Delete(ctx, userID)
}
