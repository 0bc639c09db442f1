// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "errors"

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Kind classifies a failed turn for the caller. Every failure a turn can
// produce maps onto exactly one kind; the command layer renders them as
// user-facing messages and never crashes the process.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidServer: the named backend does not exist.
	KindInvalidServer
	// KindModelNotAllowed: the model matches none of the backend's
	// allow-list patterns. A normal rejection, not a fault.
	KindModelNotAllowed
	// KindInvalidThread: the supplied thread id is unknown.
	KindInvalidThread
	// KindServerOffline: the selected backend could not be reached.
	KindServerOffline
	// KindAllServersOffline: failover exhausted every backend.
	KindAllServersOffline
	// KindBadStatus: the backend answered with a non-success HTTP status.
	KindBadStatus
	// KindAttachmentTooLarge: the attached image exceeds the size cap.
	KindAttachmentTooLarge
	// KindAttachmentType: the attachment is not an image.
	KindAttachmentType
	// KindCancelled: the user stopped the turn; partial output discarded.
	KindCancelled
)

// TurnError is a failed turn.
type TurnError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from an error, or KindUnknown.
func KindOf(err error) Kind {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

func turnErr(kind Kind, message string) *TurnError {
	return &TurnError{Kind: kind, Message: message}
}

func turnErrWrap(kind Kind, message string, err error) *TurnError {
	return &TurnError{Kind: kind, Message: message, Err: err}
}
