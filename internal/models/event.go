package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the lifecycle state of an event. Transitions only move
// forward (upcoming → ongoing → completed) and are derived from the schedule.
type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
)

// Event represents a campus event attendees check into.
type Event struct {
	ID          uuid.UUID `json:"id"`
	CampusID    uuid.UUID `json:"campus_id"` // owning campus, immutable
	OrganizerID uuid.UUID `json:"organizer_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Venue       string    `json:"venue,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`

	// Location descriptor for GPS verification.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	RadiusM   float64  `json:"radius_m"`

	// Verification requirements.
	RequiresGPS       bool `json:"requires_gps"`
	RequiresSelfie    bool `json:"requires_selfie"`
	RequiresSignature bool `json:"requires_signature"`
	SupportsCheckout  bool `json:"supports_checkout"`

	// Cross-campus configuration.
	IsMultiCampus   bool        `json:"is_multi_campus"`
	AllowedCampuses []uuid.UUID `json:"allowed_campuses,omitempty"`

	// QRSeed is the rotating secret the QR token service keys its HMAC with.
	// Never serialized to API responses.
	QRSeed []byte `json:"-"`

	// Attendance window; derived from StartsAt when unset.
	AttendanceOpensAt  *time.Time `json:"attendance_opens_at,omitempty"`
	AttendanceClosesAt *time.Time `json:"attendance_closes_at,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives the forward-only lifecycle state at time now.
func (e *Event) Status(now time.Time) EventStatus {
	switch {
	case now.Before(e.StartsAt):
		return EventUpcoming
	case now.Before(e.EndsAt):
		return EventOngoing
	default:
		return EventCompleted
	}
}

// AttendanceWindow returns the open/close instants for marking attendance,
// falling back to starts_at ± margin when the event does not set an explicit window.
func (e *Event) AttendanceWindow(margin time.Duration) (opens, closes time.Time) {
	opens = e.StartsAt.Add(-margin)
	closes = e.StartsAt.Add(margin)
	if e.AttendanceOpensAt != nil {
		opens = *e.AttendanceOpensAt
	}
	if e.AttendanceClosesAt != nil {
		closes = *e.AttendanceClosesAt
	}
	return opens, closes
}

// CampusAllowed reports whether attendees from campusID may attend this event.
// The owning campus is always allowed; others only via the multi-campus allow-list.
func (e *Event) CampusAllowed(campusID uuid.UUID) bool {
	if campusID == e.CampusID {
		return true
	}
	if !e.IsMultiCampus {
		return false
	}
	for _, id := range e.AllowedCampuses {
		if id == campusID {
			return true
		}
	}
	return false
}
