// Package gameerr defines the error taxonomy shared by the room and round
// packages. Callers classify failures with errors.Is against the kind
// sentinels; the specific errors below all wrap exactly one kind.
package gameerr

import (
	"errors"
	"fmt"
)

// Kind sentinels.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrSupplyUnavailable = errors.New("word supply unavailable")
	ErrTransient         = errors.New("transient storage failure")
	ErrInvalid           = errors.New("invalid argument")
)

var (
	ErrRoomNotFound   = fmt.Errorf("room %w", ErrNotFound)
	ErrPlayerNotFound = fmt.Errorf("player %w", ErrNotFound)

	ErrRoomFull         = fmt.Errorf("%w: room is full", ErrConflict)
	ErrNicknameTaken    = fmt.Errorf("%w: nickname already taken", ErrConflict)
	ErrCodeCollision    = fmt.Errorf("%w: room code already in use", ErrConflict)
	ErrDuplicateAnswer  = fmt.Errorf("%w: answer already submitted", ErrConflict)
	ErrKickPending      = fmt.Errorf("%w: player was removed from this room", ErrConflict)
	ErrWrongStatus      = fmt.Errorf("%w: operation not allowed in current room status", ErrConflict)
	ErrNotEnoughPlayers = fmt.Errorf("%w: at least two players are required", ErrConflict)
	ErrRoundNotCurrent  = fmt.Errorf("%w: round is not the current round", ErrConflict)
	ErrRoundOpen        = fmt.Errorf("%w: round is still collecting answers", ErrConflict)

	ErrNotHost          = fmt.Errorf("%w: only the host can do this", ErrNotAuthorized)
	ErrNicknameRejected = fmt.Errorf("%w: nickname is not allowed", ErrNotAuthorized)

	ErrInvalidNickname = fmt.Errorf("%w: nickname", ErrInvalid)
	ErrInvalidSettings = fmt.Errorf("%w: settings", ErrInvalid)
	ErrCannotKickSelf  = fmt.Errorf("%w: host cannot kick itself", ErrInvalid)
)

// Kind names an error class for transports and metrics.
type Kind string

const (
	KindNone              Kind = ""
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindNotAuthorized     Kind = "not_authorized"
	KindSupplyUnavailable Kind = "supply_unavailable"
	KindTransient         Kind = "transient"
	KindInvalid           Kind = "invalid"
	KindInternal          Kind = "internal"
)

// KindOf reports which kind err belongs to. Nil maps to KindNone and
// unclassified errors to KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	case errors.Is(err, ErrSupplyUnavailable):
		return KindSupplyUnavailable
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindInternal
	}
}

// Transient marks err as a retryable storage failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// SupplyUnavailable marks err as a word supply failure.
func SupplyUnavailable(err error) error {
	if err == nil || errors.Is(err, ErrSupplyUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSupplyUnavailable, err)
}
