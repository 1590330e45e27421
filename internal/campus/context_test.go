package campus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/eas-attendance/backend/internal/models"
)

type fakeDirectory struct {
	campuses map[uuid.UUID]*models.Campus
}

func (d *fakeDirectory) GetByID(_ context.Context, id uuid.UUID) (*models.Campus, error) {
	c, ok := d.campuses[id]
	if !ok {
		return nil, ErrCampusNotFound
	}
	out := *c
	return &out, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []uuid.UUID
}

func (n *recordingNotifier) CampusChanged(_ context.Context, _ uuid.UUID, campus *models.Campus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, campus.ID)
}

func newTestManager(t *testing.T, campuses ...*models.Campus) (*Manager, *fakeDirectory, *recordingNotifier) {
	t.Helper()
	dir := &fakeDirectory{campuses: map[uuid.UUID]*models.Campus{}}
	for _, c := range campuses {
		dir.campuses[c.ID] = c
	}
	notifier := &recordingNotifier{}
	return NewManager(dir, NewMemoryContextStore(), notifier, nil), dir, notifier
}

func campusFixture(name string) *models.Campus {
	return &models.Campus{ID: uuid.New(), Code: name, Name: name, Active: true}
}

func TestEstablishAnchorsAtHomeCampus(t *testing.T) {
	home := campusFixture("NORTH")
	mgr, _, _ := newTestManager(t, home)
	user := &models.User{ID: uuid.New(), Role: models.RoleStudent, CampusID: home.ID}

	sc, err := mgr.Establish(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if sc.ActiveCampusID != home.ID {
		t.Errorf("active campus = %s, want home %s", sc.ActiveCampusID, home.ID)
	}
	if sc.Campus.Code != "NORTH" {
		t.Errorf("campus snapshot code = %q", sc.Campus.Code)
	}
}

func TestSwitchCampusDeniedLeavesContextUntouched(t *testing.T) {
	home := campusFixture("NORTH")
	other := campusFixture("SOUTH")
	mgr, _, notifier := newTestManager(t, home, other)
	user := &models.User{ID: uuid.New(), Role: models.RoleStudent, CampusID: home.ID}

	if _, err := mgr.Establish(context.Background(), user); err != nil {
		t.Fatal(err)
	}

	_, err := mgr.SwitchCampus(context.Background(), user.ID, other.ID)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied, got %v", err)
	}

	sc, err := mgr.ActiveCampus(context.Background(), user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sc.ActiveCampusID != home.ID {
		t.Errorf("denied switch moved active campus to %s", sc.ActiveCampusID)
	}
	if len(notifier.changes) != 0 {
		t.Error("denied switch emitted a change notification")
	}
}

func TestSwitchCampusSuperAdmin(t *testing.T) {
	home := campusFixture("NORTH")
	other := campusFixture("SOUTH")
	mgr, _, notifier := newTestManager(t, home, other)
	admin := &models.User{ID: uuid.New(), Role: models.RoleSuperAdmin, CampusID: home.ID}

	if _, err := mgr.Establish(context.Background(), admin); err != nil {
		t.Fatal(err)
	}
	sc, err := mgr.SwitchCampus(context.Background(), admin.ID, other.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sc.ActiveCampusID != other.ID || sc.Campus.Code != "SOUTH" {
		t.Error("switch did not update id and snapshot together")
	}
	if len(notifier.changes) != 1 || notifier.changes[0] != other.ID {
		t.Errorf("notifier changes = %v", notifier.changes)
	}
}

func TestSwitchCampusUnknownTarget(t *testing.T) {
	home := campusFixture("NORTH")
	mgr, _, _ := newTestManager(t, home)
	admin := &models.User{ID: uuid.New(), Role: models.RoleSuperAdmin, CampusID: home.ID}

	if _, err := mgr.Establish(context.Background(), admin); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SwitchCampus(context.Background(), admin.ID, uuid.New()); !errors.Is(err, ErrCampusNotFound) {
		t.Errorf("want ErrCampusNotFound, got %v", err)
	}
}

func TestSwitchCampusDeactivatedTarget(t *testing.T) {
	home := campusFixture("NORTH")
	closed := campusFixture("CLOSED")
	closed.Active = false
	mgr, _, _ := newTestManager(t, home, closed)
	admin := &models.User{ID: uuid.New(), Role: models.RoleSuperAdmin, CampusID: home.ID}

	if _, err := mgr.Establish(context.Background(), admin); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SwitchCampus(context.Background(), admin.ID, closed.ID); !errors.Is(err, ErrCampusNotFound) {
		t.Errorf("want ErrCampusNotFound for inactive campus, got %v", err)
	}
}

func TestEstablishRecomputesPermissionsFromRole(t *testing.T) {
	home := campusFixture("NORTH")
	other := campusFixture("SOUTH")
	mgr, _, _ := newTestManager(t, home, other)
	user := &models.User{ID: uuid.New(), Role: models.RoleSuperAdmin, CampusID: home.ID}

	if _, err := mgr.Establish(context.Background(), user); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SwitchCampus(context.Background(), user.ID, other.ID); err != nil {
		t.Fatal(err)
	}

	// Demotion: the restored context must not keep the stale accessible set,
	// and the now-inaccessible active campus falls back to home.
	user.Role = models.RoleStudent
	sc, err := mgr.Establish(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	if sc.ActiveCampusID != home.ID {
		t.Errorf("demoted user kept active campus %s", sc.ActiveCampusID)
	}
	if sc.Permissions.Allows(other.ID) {
		t.Error("restored permissions still allow the old campus")
	}
}

func TestConcurrentSwitchesSettleOnOneCampus(t *testing.T) {
	home := campusFixture("NORTH")
	a := campusFixture("EAST")
	b := campusFixture("WEST")
	mgr, _, _ := newTestManager(t, home, a, b)
	admin := &models.User{ID: uuid.New(), Role: models.RoleSuperAdmin, CampusID: home.ID}

	if _, err := mgr.Establish(context.Background(), admin); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		target := a.ID
		if i%2 == 1 {
			target = b.ID
		}
		wg.Add(1)
		go func(target uuid.UUID) {
			defer wg.Done()
			_, _ = mgr.SwitchCampus(context.Background(), admin.ID, target)
		}(target)
	}
	wg.Wait()

	sc, err := mgr.ActiveCampus(context.Background(), admin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sc.ActiveCampusID != a.ID && sc.ActiveCampusID != b.ID {
		t.Errorf("active campus %s is neither switch target", sc.ActiveCampusID)
	}
	if sc.Campus.ID != sc.ActiveCampusID {
		t.Error("campus snapshot does not match active campus id")
	}
}
