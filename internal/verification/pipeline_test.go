package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eas-attendance/backend/internal/attendance"
	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/internal/qrtoken"
)

type fakeCatalog struct {
	events map[uuid.UUID]*models.Event
}

func (c *fakeCatalog) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := c.events[id]
	if !ok {
		return nil, errors.New("event not found")
	}
	return e, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	committed []models.AttendanceRecord
	audits    []models.AttendanceAudit
	seen      map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seen: map[string]bool{}}
}

func (l *fakeLedger) Commit(_ context.Context, rec *models.AttendanceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := rec.EventID.String() + "|" + rec.UserID.String() + "|" + string(rec.Kind)
	if l.seen[key] {
		return attendance.ErrDuplicateAttendance
	}
	l.seen[key] = true
	rec.ID = uuid.New()
	rec.CommittedAt = time.Now()
	l.committed = append(l.committed, *rec)
	return nil
}

func (l *fakeLedger) Audit(_ context.Context, a *models.AttendanceAudit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a.ID = uuid.New()
	l.audits = append(l.audits, *a)
	return nil
}

type fakeConfirmer struct {
	confirmed map[string]bool
}

func (f *fakeConfirmer) ConfirmUpload(_ context.Context, key string) (bool, error) {
	return f.confirmed[key], nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	records []models.AttendanceRecord
}

func (n *fakeNotifier) AttendanceCommitted(_ context.Context, rec *models.AttendanceRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, *rec)
}

const testTTL = 5 * time.Minute

func latlng(lat, lng float64) (*float64, *float64) { return &lat, &lng }

func eventFixture(requiresGPS, requiresSelfie, requiresSignature bool) *models.Event {
	lat, lng := latlng(14.6042, 120.9822)
	return &models.Event{
		ID:                uuid.New(),
		CampusID:          uuid.New(),
		Title:             "Orientation",
		StartsAt:          time.Now().Add(10 * time.Minute),
		EndsAt:            time.Now().Add(2 * time.Hour),
		Latitude:          lat,
		Longitude:         lng,
		RadiusM:           100,
		RequiresGPS:       requiresGPS,
		RequiresSelfie:    requiresSelfie,
		RequiresSignature: requiresSignature,
		QRSeed:            []byte("0123456789abcdef0123456789abcdef"),
		Active:            true,
	}
}

type pipelineFixture struct {
	pipeline  *Pipeline
	tokens    *qrtoken.Service
	catalog   *fakeCatalog
	ledger    *fakeLedger
	confirmer *fakeConfirmer
	notifier  *fakeNotifier
}

func newPipelineFixture(t *testing.T, events ...*models.Event) *pipelineFixture {
	t.Helper()
	catalog := &fakeCatalog{events: map[uuid.UUID]*models.Event{}}
	for _, e := range events {
		catalog.events[e.ID] = e
	}
	ledger := newFakeLedger()
	confirmer := &fakeConfirmer{confirmed: map[string]bool{}}
	notifier := &fakeNotifier{}
	tokens := qrtoken.NewService(testTTL)
	p := NewPipeline(Config{
		SessionTTL:          10 * time.Minute,
		LocationMaxAttempts: 3,
		AttendanceWindow:    30 * time.Minute,
	}, tokens, catalog, ledger, confirmer, notifier, nil)
	return &pipelineFixture{pipeline: p, tokens: tokens, catalog: catalog, ledger: ledger, confirmer: confirmer, notifier: notifier}
}

func (f *pipelineFixture) scan(t *testing.T, event *models.Event) *Session {
	t.Helper()
	token, err := f.tokens.Issue(event)
	if err != nil {
		t.Fatal(err)
	}
	s, err := f.pipeline.Scan(context.Background(), token, models.AttendanceCheckIn)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func studentAt(campusID uuid.UUID) *models.User {
	return &models.User{ID: uuid.New(), Role: models.RoleStudent, CampusID: campusID, Email: "s@example.edu"}
}

func TestScanInvalidTokenOpensNoSession(t *testing.T) {
	event := eventFixture(false, false, false)
	f := newPipelineFixture(t, event)

	_, err := f.pipeline.Scan(context.Background(), "EAS1.garbage", models.AttendanceCheckIn)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestScanUnknownEventReadsAsInvalid(t *testing.T) {
	event := eventFixture(false, false, false)
	f := newPipelineFixture(t) // catalog empty

	token, _ := f.tokens.Issue(event)
	_, err := f.pipeline.Scan(context.Background(), token, models.AttendanceCheckIn)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestScanOutsideAttendanceWindow(t *testing.T) {
	event := eventFixture(false, false, false)
	event.StartsAt = time.Now().Add(-3 * time.Hour)
	event.EndsAt = time.Now().Add(-time.Hour)
	f := newPipelineFixture(t, event)

	token, _ := f.tokens.Issue(event)
	_, err := f.pipeline.Scan(context.Background(), token, models.AttendanceCheckIn)
	if !errors.Is(err, ErrAttendanceClosed) {
		t.Fatalf("want ErrAttendanceClosed, got %v", err)
	}
}

func TestScanCheckoutUnsupported(t *testing.T) {
	event := eventFixture(false, false, false)
	f := newPipelineFixture(t, event)

	token, _ := f.tokens.Issue(event)
	_, err := f.pipeline.Scan(context.Background(), token, models.AttendanceCheckOut)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestNoRequirementsCommitsAfterIdentity(t *testing.T) {
	event := eventFixture(false, false, false)
	f := newPipelineFixture(t, event)
	s := f.scan(t, event)

	user := studentAt(event.CampusID)
	s, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, user, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateCommitted {
		t.Fatalf("state = %s, want committed", s.State)
	}
	if len(f.ledger.committed) != 1 {
		t.Fatalf("committed %d records, want 1", len(f.ledger.committed))
	}
	rec := f.ledger.committed[0]
	if rec.UserID != user.ID || rec.EventID != event.ID || rec.Kind != models.AttendanceCheckIn {
		t.Errorf("committed record %+v", rec)
	}
	if rec.CrossCampus {
		t.Error("home-campus attendance flagged cross-campus")
	}
	if len(f.notifier.records) != 1 {
		t.Errorf("notifier saw %d records, want 1", len(f.notifier.records))
	}
	if len(f.ledger.audits) != 1 || f.ledger.audits[0].Action != models.AuditMarked {
		t.Errorf("audits = %+v", f.ledger.audits)
	}
}

func TestFullEvidencePath(t *testing.T) {
	event := eventFixture(true, true, true)
	f := newPipelineFixture(t, event)
	f.confirmer.confirmed["photos/p.jpg"] = true
	f.confirmer.confirmed["signatures/s.png"] = true

	s := f.scan(t, event)
	user := studentAt(event.CampusID)

	s, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, user, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateIdentityConfirmed || s.Awaiting() != StepLocation {
		t.Fatalf("after identity: state=%s awaiting=%s", s.State, s.Awaiting())
	}

	fix := models.LocationFix{Latitude: *event.Latitude, Longitude: *event.Longitude, AccuracyM: 5}
	s, err = f.pipeline.SubmitLocation(context.Background(), s.ID, fix, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateLocationVerified || s.Awaiting() != StepPhoto {
		t.Fatalf("after location: state=%s awaiting=%s", s.State, s.Awaiting())
	}

	s, err = f.pipeline.SubmitPhoto(context.Background(), s.ID, "photos/p.jpg", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StatePhotoCaptured || s.Awaiting() != StepSignature {
		t.Fatalf("after photo: state=%s awaiting=%s", s.State, s.Awaiting())
	}

	s, err = f.pipeline.SubmitSignature(context.Background(), s.ID, "signatures/s.png", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateCommitted {
		t.Fatalf("after signature: state=%s", s.State)
	}

	rec := f.ledger.committed[0]
	if rec.Location == nil || rec.PhotoKey != "photos/p.jpg" || rec.SignatureKey != "signatures/s.png" {
		t.Errorf("evidence snapshot incomplete: %+v", rec)
	}
}

func TestSkipRulesGPSOnly(t *testing.T) {
	event := eventFixture(true, false, false)
	f := newPipelineFixture(t, event)
	s := f.scan(t, event)

	s, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, studentAt(event.CampusID), "")
	if err != nil {
		t.Fatal(err)
	}
	fix := models.LocationFix{Latitude: *event.Latitude, Longitude: *event.Longitude}
	s, err = f.pipeline.SubmitLocation(context.Background(), s.ID, fix, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateCommitted {
		t.Fatalf("state = %s: photo and signature steps should be skipped", s.State)
	}
}

func TestCampusMismatchFailsTerminally(t *testing.T) {
	event := eventFixture(false, false, false)
	f := newPipelineFixture(t, event)
	s := f.scan(t, event)

	outsider := studentAt(uuid.New())
	s, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, outsider, "10.0.0.9")
	if !errors.Is(err, ErrCampusMismatch) {
		t.Fatalf("want ErrCampusMismatch, got %v", err)
	}
	if s == nil || s.State != StateFailed || s.Reason != FailCampusMismatch {
		t.Fatalf("session %+v", s)
	}
	if len(f.ledger.committed) != 0 {
		t.Error("mismatch committed attendance")
	}
	if len(f.ledger.audits) != 1 || f.ledger.audits[0].Action != models.AuditRejected {
		t.Errorf("audits = %+v", f.ledger.audits)
	}

	// Terminal: further inputs are rejected.
	if _, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, studentAt(event.CampusID), ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("post-failure transition: want ErrInvalidTransition, got %v", err)
	}
}

func TestMultiCampusAllowListAdmits(t *testing.T) {
	event := eventFixture(false, false, false)
	guestCampus := uuid.New()
	event.IsMultiCampus = true
	event.AllowedCampuses = []uuid.UUID{guestCampus}
	f := newPipelineFixture(t, event)
	s := f.scan(t, event)

	guest := studentAt(guestCampus)
	s, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, guest, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateCommitted {
		t.Fatalf("state = %s", s.State)
	}
	if !f.ledger.committed[0].CrossCampus {
		t.Error("guest attendance not flagged cross-campus")
	}
}

func TestLocationRetryCeiling(t *testing.T) {
	event := eventFixture(true, false, false)
	f := newPipelineFixture(t, event)
	s := f.scan(t, event)

	if _, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, studentAt(event.CampusID), ""); err != nil {
		t.Fatal(err)
	}

	far := models.LocationFix{Latitude: *event.Latitude + 1, Longitude: *event.Longitude}
	for i := 0; i < 2; i++ {
		out, err := f.pipeline.SubmitLocation(context.Background(), s.ID, far, "")
		if !errors.Is(err, ErrLocationOutOfRange) {
			t.Fatalf("attempt %d: want ErrLocationOutOfRange, got %v", i+1, err)
		}
		if out.State != StateIdentityConfirmed {
			t.Fatalf("attempt %d: non-final miss changed state to %s", i+1, out.State)
		}
	}

	out, err := f.pipeline.SubmitLocation(context.Background(), s.ID, far, "")
	if !errors.Is(err, ErrLocationOutOfRange) {
		t.Fatalf("final attempt: got %v", err)
	}
	if out.State != StateFailed || out.Reason != FailLocationOutOfRange {
		t.Fatalf("final attempt: session %+v", out)
	}

	// A good fix after the ceiling is too late.
	good := models.LocationFix{Latitude: *event.Latitude, Longitude: *event.Longitude}
	if _, err := f.pipeline.SubmitLocation(context.Background(), s.ID, good, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("post-failure fix: want ErrInvalidTransition, got %v", err)
	}
}

func TestUploadNotConfirmedLeavesStateUnchanged(t *testing.T) {
	event := eventFixture(false, true, false)
	f := newPipelineFixture(t, event)
	s := f.scan(t, event)

	if _, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, studentAt(event.CampusID), ""); err != nil {
		t.Fatal(err)
	}

	out, err := f.pipeline.SubmitPhoto(context.Background(), s.ID, "photos/missing.jpg", "")
	if !errors.Is(err, ErrUploadNotConfirmed) {
		t.Fatalf("want ErrUploadNotConfirmed, got %v", err)
	}
	if out.State != StateIdentityConfirmed {
		t.Fatalf("unconfirmed upload changed state to %s", out.State)
	}

	// Same key succeeds once the object lands.
	f.confirmer.confirmed["photos/missing.jpg"] = true
	out, err = f.pipeline.SubmitPhoto(context.Background(), s.ID, "photos/missing.jpg", "")
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateCommitted {
		t.Fatalf("state = %s", out.State)
	}
}

func TestDuplicateAttendanceFailsSecondSession(t *testing.T) {
	event := eventFixture(false, false, false)
	f := newPipelineFixture(t, event)
	user := studentAt(event.CampusID)

	first := f.scan(t, event)
	if _, err := f.pipeline.ConfirmIdentity(context.Background(), first.ID, user, ""); err != nil {
		t.Fatal(err)
	}

	second := f.scan(t, event)
	out, err := f.pipeline.ConfirmIdentity(context.Background(), second.ID, user, "")
	if !errors.Is(err, ErrDuplicateAttendance) {
		t.Fatalf("want ErrDuplicateAttendance, got %v", err)
	}
	if out.State != StateFailed || out.Reason != FailDuplicateAttendance {
		t.Fatalf("session %+v", out)
	}
	if len(f.ledger.committed) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(f.ledger.committed))
	}
}

func TestConcurrentDuplicateCommitsYieldOneRecord(t *testing.T) {
	event := eventFixture(false, false, false)
	f := newPipelineFixture(t, event)
	user := studentAt(event.CampusID)

	const attempts = 10
	sessions := make([]*Session, attempts)
	for i := range sessions {
		sessions[i] = f.scan(t, event)
	}

	var wg sync.WaitGroup
	var successes, duplicates int32
	var mu sync.Mutex
	for _, s := range sessions {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.pipeline.ConfirmIdentity(context.Background(), id, user, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrDuplicateAttendance):
				duplicates++
			}
		}(s.ID)
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if duplicates != attempts-1 {
		t.Errorf("duplicates = %d, want %d", duplicates, attempts-1)
	}
	if len(f.ledger.committed) != 1 {
		t.Errorf("ledger has %d records", len(f.ledger.committed))
	}
}

func TestCheckInAndCheckOutAreIndependent(t *testing.T) {
	event := eventFixture(false, false, false)
	event.SupportsCheckout = true
	f := newPipelineFixture(t, event)
	user := studentAt(event.CampusID)

	in := f.scan(t, event)
	if _, err := f.pipeline.ConfirmIdentity(context.Background(), in.ID, user, ""); err != nil {
		t.Fatal(err)
	}

	token, _ := f.tokens.Issue(event)
	out, err := f.pipeline.Scan(context.Background(), token, models.AttendanceCheckOut)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.pipeline.ConfirmIdentity(context.Background(), out.ID, user, ""); err != nil {
		t.Fatalf("check-out after check-in: %v", err)
	}
	if len(f.ledger.committed) != 2 {
		t.Fatalf("ledger has %d records, want 2", len(f.ledger.committed))
	}
}

func TestExpiredSessionDiscardsEvidence(t *testing.T) {
	event := eventFixture(true, false, false)
	f := newPipelineFixture(t, event)
	s := f.scan(t, event)

	if _, err := f.pipeline.ConfirmIdentity(context.Background(), s.ID, studentAt(event.CampusID), ""); err != nil {
		t.Fatal(err)
	}
	fix := models.LocationFix{Latitude: *event.Latitude, Longitude: *event.Longitude}
	if _, err := f.pipeline.SubmitLocation(context.Background(), s.ID, fix, ""); err != nil {
		t.Fatal(err)
	}

	// Session already committed (GPS was the only requirement); use a fresh
	// one to exercise expiry mid-flight.
	s2 := f.scan(t, event)
	f.pipeline.sessions.now = func() time.Time { return time.Now().Add(time.Hour) }
	defer func() { f.pipeline.sessions.now = time.Now }()

	if _, err := f.pipeline.ConfirmIdentity(context.Background(), s2.ID, studentAt(event.CampusID), ""); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
	got, err := f.pipeline.Inspect(s2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateExpired {
		t.Errorf("state = %s", got.State)
	}
	if got.Location != nil || got.PhotoKey != "" || got.SignatureKey != "" {
		t.Error("expired session retained evidence")
	}
}

func TestSessionNotFound(t *testing.T) {
	event := eventFixture(false, false, false)
	f := newPipelineFixture(t, event)

	if _, err := f.pipeline.ConfirmIdentity(context.Background(), uuid.New(), studentAt(event.CampusID), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("want ErrSessionNotFound, got %v", err)
	}
}
