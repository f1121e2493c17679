package domain

import (
	"errors"
	"net/http"

	apperrors "peercall/pkg/errors"
)

var (
	ErrCallInProgress     = errors.New("call already in progress")
	ErrNoActiveCall       = errors.New("no active call")
	ErrNotRinging         = errors.New("no incoming call to answer")
	ErrIllegalTransition  = errors.New("illegal phase transition")
	ErrSignalNotFound     = errors.New("signal not found")
	ErrPeerNotFound       = errors.New("peer not found")
	ErrCallDeclined       = errors.New("call declined")
	ErrNoVideoSender      = errors.New("call has no video sender")
	ErrNotRecording       = errors.New("recording not running")
	ErrAlreadyRecording   = errors.New("recording already running")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrInvalidEnvelope    = errors.New("invalid envelope")
	ErrNotGroupCall       = errors.New("operation requires a group call")
	ErrParticipantPresent = errors.New("participant already in call")
	ErrOverconstrained    = errors.New("capture constraints cannot be satisfied")
)

// Code-level sentinels, matched with errors.Is against any AppError of the same code.
var (
	ErrDeviceDenied      = apperrors.NewAppError(apperrors.ErrCodeDeviceDenied, "device access denied", 0)
	ErrDeviceNotFound    = apperrors.NewAppError(apperrors.ErrCodeDeviceNotFound, "device not found", 0)
	ErrDeviceInUse       = apperrors.NewAppError(apperrors.ErrCodeDeviceInUse, "device in use", 0)
	ErrDeviceUnsupported = apperrors.NewAppError(apperrors.ErrCodeDeviceUnsupported, "device unsupported", 0)
	ErrSignalingTimeout  = apperrors.NewAppError(apperrors.ErrCodeSignalingTimeout, "signaling timeout", 0)
	ErrPeerTransient     = apperrors.NewAppError(apperrors.ErrCodePeerTransient, "transient peer failure", 0)
	ErrPeerFatal         = apperrors.NewAppError(apperrors.ErrCodePeerFatal, "fatal peer failure", 0)
	ErrUnsupportedFormat = apperrors.NewAppError(apperrors.ErrCodeUnsupportedFormat, "no supported recording format", 0)
	ErrNoConnectedPeers  = apperrors.NewAppError(apperrors.ErrCodeNoConnectedPeers, "no connected peers", 0)
)

// InvalidState wraps a domain sentinel as an INVALID_STATE AppError.
func InvalidState(cause error) error {
	return apperrors.WrapError(cause, apperrors.ErrCodeInvalidState, cause.Error(), http.StatusConflict)
}

// InvalidInput wraps a domain sentinel as an INVALID_INPUT AppError.
func InvalidInput(cause error) error {
	return apperrors.WrapError(cause, apperrors.ErrCodeInvalidInput, cause.Error(), http.StatusBadRequest)
}
