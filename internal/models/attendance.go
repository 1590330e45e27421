package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceKind distinguishes check-in from check-out. The two kinds carry
// independent uniqueness: a user may hold at most one record of each kind per event.
type AttendanceKind string

const (
	AttendanceCheckIn  AttendanceKind = "check_in"
	AttendanceCheckOut AttendanceKind = "check_out"
)

// LocationFix is a GPS reading captured during verification.
type LocationFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	AccuracyM float64 `json:"accuracy_m"` // reported reading accuracy in meters
}

// AttendanceRecord is the immutable, committed proof that a user satisfied an
// event's verification requirements. Append-only; never updated after commit.
type AttendanceRecord struct {
	ID          uuid.UUID      `json:"id"`
	EventID     uuid.UUID      `json:"event_id"`
	UserID      uuid.UUID      `json:"user_id"`
	CampusID    uuid.UUID      `json:"campus_id"`
	Kind        AttendanceKind `json:"kind"`
	CrossCampus bool           `json:"cross_campus"` // user's home campus differs from the event's

	// Evidence snapshot gathered along the verification path.
	Location     *LocationFix `json:"location,omitempty"`
	PhotoKey     string       `json:"photo_key,omitempty"`
	SignatureKey string       `json:"signature_key,omitempty"`

	CommittedAt time.Time `json:"committed_at"`
}

// AuditAction is an attendance audit log action.
type AuditAction string

const (
	AuditMarked   AuditAction = "marked"
	AuditRejected AuditAction = "rejected"
)

// AttendanceAudit is one append-only audit trail entry for an attendance action.
type AttendanceAudit struct {
	ID        uuid.UUID   `json:"id"`
	RecordID  *uuid.UUID  `json:"record_id,omitempty"` // nil for rejected attempts
	EventID   uuid.UUID   `json:"event_id"`
	CampusID  uuid.UUID   `json:"campus_id"`
	ActorID   uuid.UUID   `json:"actor_id"`
	Action    AuditAction `json:"action"`
	Detail    string      `json:"detail,omitempty"` // failure reason, evidence notes
	ClientIP  string      `json:"client_ip,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
