package verification

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eas-attendance/backend/internal/models"
)

func TestAwaitingSkipChain(t *testing.T) {
	cases := []struct {
		name  string
		snap  eventSnapshot
		state State
		want  Step
	}{
		{"scanned always waits for identity", eventSnapshot{}, StateScanned, StepIdentity},
		{"no requirements commits after identity", eventSnapshot{}, StateIdentityConfirmed, StepCommit},
		{"gps only", eventSnapshot{RequiresGPS: true}, StateIdentityConfirmed, StepLocation},
		{"selfie only skips location", eventSnapshot{RequiresSelfie: true}, StateIdentityConfirmed, StepPhoto},
		{"signature only skips both", eventSnapshot{RequiresSignature: true}, StateIdentityConfirmed, StepSignature},
		{"gps done, selfie next", eventSnapshot{RequiresGPS: true, RequiresSelfie: true}, StateLocationVerified, StepPhoto},
		{"photo done, signature next", eventSnapshot{RequiresSelfie: true, RequiresSignature: true}, StatePhotoCaptured, StepSignature},
		{"all evidence collected", eventSnapshot{RequiresGPS: true, RequiresSelfie: true, RequiresSignature: true}, StateSignatureCaptured, StepCommit},
		{"committed is terminal", eventSnapshot{}, StateCommitted, StepNone},
		{"failed is terminal", eventSnapshot{}, StateFailed, StepNone},
		{"expired is terminal", eventSnapshot{}, StateExpired, StepNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Session{State: tc.state, event: tc.snap}
			if got := s.Awaiting(); got != tc.want {
				t.Errorf("Awaiting() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAcquireRejectsConcurrentHolder(t *testing.T) {
	m := NewSessionManager(time.Minute)
	s := m.Create(uuid.New(), uuid.New(), models.AttendanceCheckIn, eventSnapshot{})

	_, release, err := m.Acquire(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Acquire(s.ID); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second acquire: want ErrSessionBusy, got %v", err)
	}
	release()
	_, release, err = m.Acquire(s.ID)
	if err != nil {
		t.Errorf("acquire after release: %v", err)
	} else {
		release()
	}
}

func TestAcquireExpiresLazily(t *testing.T) {
	m := NewSessionManager(time.Minute)
	s := m.Create(uuid.New(), uuid.New(), models.AttendanceCheckIn, eventSnapshot{})

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, _, err := m.Acquire(s.ID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateExpired {
		t.Errorf("state = %s", got.State)
	}
}

func TestSweepDropsTerminalAndOverdueSessions(t *testing.T) {
	m := NewSessionManager(time.Minute)
	live := m.Create(uuid.New(), uuid.New(), models.AttendanceCheckIn, eventSnapshot{})
	done := m.Create(uuid.New(), uuid.New(), models.AttendanceCheckIn, eventSnapshot{})

	s, release, err := m.Acquire(done.ID)
	if err != nil {
		t.Fatal(err)
	}
	s.State = StateCommitted
	release()

	m.sweepOnce()

	if _, err := m.Get(done.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("terminal session survived sweep: %v", err)
	}
	if _, err := m.Get(live.ID); err != nil {
		t.Errorf("live session dropped by sweep: %v", err)
	}
}

func TestSweepSkipsSessionHeldByTransition(t *testing.T) {
	m := NewSessionManager(time.Minute)
	held := m.Create(uuid.New(), uuid.New(), models.AttendanceCheckIn, eventSnapshot{})

	s, release, err := m.Acquire(held.ID)
	if err != nil {
		t.Fatal(err)
	}
	s.State = StateCommitted

	// The entry lock is held; the sweeper must leave it alone this tick.
	m.sweepOnce()
	release()

	if _, err := m.Get(held.ID); err != nil {
		t.Fatalf("held session dropped mid-transition: %v", err)
	}

	m.sweepOnce()
	if _, err := m.Get(held.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("terminal session survived sweep after release: %v", err)
	}
}

func TestSweepConcurrentWithTransitions(t *testing.T) {
	m := NewSessionManager(time.Minute)
	ids := make([]uuid.UUID, 8)
	for i := range ids {
		ids[i] = m.Create(uuid.New(), uuid.New(), models.AttendanceCheckIn, eventSnapshot{}).ID
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			m.sweepOnce()
		}
	}()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s, release, err := m.Acquire(id)
				if err != nil {
					return
				}
				if i == 199 {
					s.State = StateCommitted
				} else {
					s.State = StateIdentityConfirmed
					s.ExpiresAt = s.ExpiresAt.Add(time.Millisecond)
				}
				release()
			}
		}(id)
	}
	wg.Wait()
	<-done
}
