// Package qrtoken issues and validates short-lived, event-and-campus-bound QR
// tokens. Tokens are recomputable from the event's secret seed and a time
// bucket, so validation needs no lookup table.
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eas-attendance/backend/internal/models"
)

const tokenPrefix = "EAS1"

var (
	// ErrInvalidToken means the token is malformed, expired, or its MAC does
	// not match the event's seed.
	ErrInvalidToken = errors.New("invalid qr token")
	// ErrEventMismatch means a well-formed token was presented for a
	// different event than it encodes.
	ErrEventMismatch = errors.New("qr token bound to different event")
)

// Payload is the decoded, unauthenticated content of a scanned QR token.
// Callers must still Validate before trusting it.
type Payload struct {
	EventID  uuid.UUID
	CampusID uuid.UUID
	Bucket   int64
}

// Service issues and validates time-bucketed QR tokens.
type Service struct {
	ttl time.Duration
	now func() time.Time // overridable in tests
}

// NewService creates a token service with the given bucket width (token TTL).
func NewService(ttl time.Duration) *Service {
	return &Service{ttl: ttl, now: time.Now}
}

// TTL returns the token bucket width.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue returns the token for the event's current time bucket. Deterministic:
// two calls within the same bucket produce identical tokens.
func (s *Service) Issue(event *models.Event) (string, error) {
	if len(event.QRSeed) == 0 {
		return "", fmt.Errorf("event %s has no qr seed", event.ID)
	}
	bucket := s.bucket(s.now())
	mac := computeMAC(event.QRSeed, event.ID, event.CampusID, bucket)
	return fmt.Sprintf("%s.%s.%s.%d.%s",
		tokenPrefix,
		event.ID,
		event.CampusID,
		bucket,
		base64.RawURLEncoding.EncodeToString(mac),
	), nil
}

// Parse decodes a raw QR payload without authenticating it. Used to discover
// which event a scan refers to before the catalog lookup.
func Parse(token string) (*Payload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 || parts[0] != tokenPrefix {
		return nil, ErrInvalidToken
	}
	eventID, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	campusID, err := uuid.Parse(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	bucket, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Payload{EventID: eventID, CampusID: campusID, Bucket: bucket}, nil
}

// Validate authenticates a scanned token against the event's seed. The token
// must target the current bucket or the immediately previous one (clock skew
// tolerance of one TTL window). Comparison is constant-time.
func (s *Service) Validate(token string, event *models.Event) (*Payload, error) {
	p, err := Parse(token)
	if err != nil {
		return nil, err
	}
	if p.EventID != event.ID {
		return nil, ErrEventMismatch
	}
	current := s.bucket(s.now())
	if p.Bucket != current && p.Bucket != current-1 {
		return nil, ErrInvalidToken
	}

	parts := strings.Split(token, ".")
	gotMAC, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, ErrInvalidToken
	}
	want := computeMAC(event.QRSeed, p.EventID, p.CampusID, p.Bucket)
	if !hmac.Equal(gotMAC, want) {
		return nil, ErrInvalidToken
	}
	return p, nil
}

func (s *Service) bucket(t time.Time) int64 {
	return t.Unix() / int64(s.ttl.Seconds())
}

// computeMAC is a keyed hash over (eventID, campusID, bucketIndex). Without
// the event seed the token is unforgeable.
func computeMAC(seed []byte, eventID, campusID uuid.UUID, bucket int64) []byte {
	mac := hmac.New(sha256.New, seed)
	mac.Write(eventID[:])
	mac.Write(campusID[:])
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(bucket))
	mac.Write(b[:])
	return mac.Sum(nil)
}
