package store

import "fmt"

// NotFoundError indicates the resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvalidSessionError indicates an operation on a session that does not
// exist or has already ended. Recoverable: the caller should start or
// resume a session.
type InvalidSessionError struct {
	SessionID string
	Reason    string
}

func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("invalid session %s: %s", e.SessionID, e.Reason)
}

// SessionActiveError indicates a session start was refused because the
// campaign already has an active session. The caller must explicitly
// end the prior session first.
type SessionActiveError struct {
	CampaignID string
	SessionID  string
}

func (e *SessionActiveError) Error() string {
	return fmt.Sprintf("campaign %s already has active session %s", e.CampaignID, e.SessionID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// DimensionMismatchError indicates an indexed fragment's embedding
// dimensionality does not match the active embedding model. Queries
// fail fast until the campaign is re-embedded; mixing dimensions in one
// index is never attempted.
type DimensionMismatchError struct {
	FragmentID string
	Have       int
	Want       int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("fragment %s embedded at dimension %d but active model produces %d; re-embedding required", e.FragmentID, e.Have, e.Want)
}

// BackendUnavailableError indicates the embedding or inference backend
// was unreachable or timed out. Never fatal to the store; surfaced to
// the caller as a retry prompt.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }
