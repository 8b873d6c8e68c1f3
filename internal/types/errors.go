package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindPreconditionFailed means local validation rejected the intent;
	// no network attempt was made.
	KindPreconditionFailed ErrorKind = "precondition_failed"
	// KindTransportUnavailable means the socket was not connected; any
	// optimistic write has been rolled back.
	KindTransportUnavailable ErrorKind = "transport_unavailable"
	// KindServerConflict means an authoritative event contradicted a
	// local optimistic assumption; the server version won.
	KindServerConflict ErrorKind = "server_conflict"
	// KindExternalServiceFailure means a payment or upload collaborator
	// returned a failure; flags set during the attempt were reverted.
	KindExternalServiceFailure ErrorKind = "external_service_failure"
	// KindTimeout means no confirming server event arrived within the
	// bounded window; the action is surfaced as still pending.
	KindTimeout ErrorKind = "timeout"
)

type SyncError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Reason, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func NewPreconditionFailed(reason string) *SyncError {
	return &SyncError{Kind: KindPreconditionFailed, Reason: reason}
}

func NewTransportUnavailable(err error) *SyncError {
	return &SyncError{Kind: KindTransportUnavailable, Reason: "socket not connected", Err: err}
}

func NewServerConflict(reason string) *SyncError {
	return &SyncError{Kind: KindServerConflict, Reason: reason}
}

func NewExternalServiceFailure(reason string, err error) *SyncError {
	return &SyncError{Kind: KindExternalServiceFailure, Reason: reason, Err: err}
}

func NewTimeout(reason string) *SyncError {
	return &SyncError{Kind: KindTimeout, Reason: reason}
}

// KindOf extracts the taxonomy kind from an error chain, or "" if the
// error is not a SyncError.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
