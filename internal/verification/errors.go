package verification

import "errors"

var (
	// ErrInvalidToken means the scanned QR payload failed authentication.
	// Never retried by the pipeline itself; repeated occurrences are a
	// security signal worth logging distinctly.
	ErrInvalidToken = errors.New("invalid qr token")
	// ErrCampusMismatch means the event's campus is outside the user's
	// accessible set. Distinct from a generic permission error so operators
	// can spot cross-campus scan attempts.
	ErrCampusMismatch = errors.New("event campus not accessible to user")
	// ErrLocationOutOfRange means a GPS fix fell outside the event radius.
	// Retryable until the attempt ceiling; then the session fails terminally.
	ErrLocationOutOfRange = errors.New("location out of range")
	// ErrDuplicateAttendance means a record already exists for this
	// (event, user, kind).
	ErrDuplicateAttendance = errors.New("attendance already recorded")
	// ErrSessionExpired means the session outlived its TTL; collected
	// evidence has been discarded and the caller must rescan.
	ErrSessionExpired = errors.New("verification session expired")
	// ErrSessionBusy means another transition holds the session. The caller
	// should retry after the in-flight transition settles.
	ErrSessionBusy = errors.New("verification session busy")
	// ErrSessionNotFound means no live session has the given id.
	ErrSessionNotFound = errors.New("verification session not found")
	// ErrUploadNotConfirmed means object storage has not confirmed the
	// evidence reference. The input is rejected; the session state is unchanged.
	ErrUploadNotConfirmed = errors.New("upload not confirmed")
	// ErrInvalidTransition means the input does not apply to the session's
	// current state (wrong step, terminal session, or evidence the event
	// does not require).
	ErrInvalidTransition = errors.New("transition not allowed in current state")
	// ErrAttendanceClosed means the scan fell outside the event's attendance window.
	ErrAttendanceClosed = errors.New("attendance window closed")
)

// FailureReason tags a terminally failed session.
type FailureReason string

const (
	FailInvalidToken        FailureReason = "invalid_token"
	FailCampusMismatch      FailureReason = "campus_mismatch"
	FailLocationOutOfRange  FailureReason = "location_out_of_range"
	FailDuplicateAttendance FailureReason = "duplicate_attendance"
)
