package qrtoken

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eas-attendance/backend/internal/models"
)

func testEvent(t *testing.T) *models.Event {
	t.Helper()
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		t.Fatal(err)
	}
	return &models.Event{
		ID:       uuid.New(),
		CampusID: uuid.New(),
		QRSeed:   seed,
	}
}

func fixedService(ttl time.Duration, at time.Time) *Service {
	s := NewService(ttl)
	s.now = func() time.Time { return at }
	return s
}

func TestIssueDeterministicWithinBucket(t *testing.T) {
	event := testEvent(t)
	base := time.Unix(1_700_000_000, 0)
	svc := fixedService(5*time.Minute, base)

	first, err := svc.Issue(event)
	if err != nil {
		t.Fatal(err)
	}
	svc.now = func() time.Time { return base.Add(90 * time.Second) }
	second, err := svc.Issue(event)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("tokens in the same bucket differ:\n%s\n%s", first, second)
	}
}

func TestIssueChangesAcrossBuckets(t *testing.T) {
	event := testEvent(t)
	base := time.Unix(1_700_000_000, 0)
	svc := fixedService(5*time.Minute, base)

	first, _ := svc.Issue(event)
	svc.now = func() time.Time { return base.Add(5 * time.Minute) }
	second, _ := svc.Issue(event)
	if first == second {
		t.Error("tokens in different buckets should differ")
	}
}

func TestValidateAcceptsCurrentAndPreviousBucket(t *testing.T) {
	event := testEvent(t)
	base := time.Unix(1_700_000_000, 0)
	issue := fixedService(5*time.Minute, base)
	token, err := issue.Issue(event)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		at      time.Time
		wantErr bool
	}{
		{"same bucket", base.Add(time.Minute), false},
		{"next bucket (skew tolerance)", base.Add(6 * time.Minute), false},
		{"two buckets later", base.Add(11 * time.Minute), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := fixedService(5*time.Minute, tc.at)
			_, err := svc.Validate(token, event)
			if tc.wantErr && err == nil {
				t.Error("expected validation to fail")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	event := testEvent(t)
	base := time.Unix(1_700_000_000, 0)
	svc := fixedService(5*time.Minute, base)
	token, _ := svc.Issue(event)

	parts := strings.Split(token, ".")
	parts[4] = strings.Repeat("A", len(parts[4]))
	forged := strings.Join(parts, ".")
	if _, err := svc.Validate(forged, event); err == nil {
		t.Error("forged MAC accepted")
	}
}

func TestValidateRejectsWrongEvent(t *testing.T) {
	event := testEvent(t)
	other := testEvent(t)
	base := time.Unix(1_700_000_000, 0)
	svc := fixedService(5*time.Minute, base)
	token, _ := svc.Issue(event)

	if _, err := svc.Validate(token, other); err != ErrEventMismatch {
		t.Errorf("want ErrEventMismatch, got %v", err)
	}
}

func TestValidateRejectsAfterSeedRotation(t *testing.T) {
	event := testEvent(t)
	base := time.Unix(1_700_000_000, 0)
	svc := fixedService(5*time.Minute, base)
	token, _ := svc.Issue(event)

	rotated := make([]byte, 32)
	if _, err := rand.Read(rotated); err != nil {
		t.Fatal(err)
	}
	event.QRSeed = rotated
	if _, err := svc.Validate(token, event); err == nil {
		t.Error("token issued under the old seed should not validate")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"EAS1",
		"XYZ9.a.b.c.d",
		"EAS1.not-a-uuid." + uuid.New().String() + ".12.mac",
		"EAS1." + uuid.New().String() + "." + uuid.New().String() + ".notanumber.mac",
	}
	for _, raw := range cases {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) should fail", raw)
		}
	}
}
