package signal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"peercall/internal/core/domain"
	apperrors "peercall/pkg/errors"
)

type Op string

const (
	OpPublish   Op = "publish"
	OpSubscribe Op = "subscribe"
	OpDelete    Op = "delete"

	OpOK    Op = "ok"
	OpValue Op = "value"
	OpError Op = "error"
)

// Request is one client call on the relay. ID correlates the response.
type Request struct {
	ID        string                `json:"id"`
	Op        Op                    `json:"op"`
	Key       domain.SignalKey      `json:"key"`
	Payload   *domain.SignalPayload `json:"payload,omitempty"`
	TimeoutMS int64                 `json:"timeout_ms,omitempty"`
}

type Response struct {
	ID      string                `json:"id"`
	Op      Op                    `json:"op"`
	Payload *domain.SignalPayload `json:"payload,omitempty"`
	Error   string                `json:"error,omitempty"`
	Code    string                `json:"code,omitempty"`
}

func errorResponse(id string, err error) Response {
	code := apperrors.CodeOf(err)
	if errors.Is(err, domain.ErrSignalNotFound) {
		code = apperrors.ErrCodeNotFound
	}
	return Response{ID: id, Op: OpError, Error: err.Error(), Code: string(code)}
}

// ResponseError turns an error response back into an error on the client side.
func ResponseError(resp Response) error {
	switch apperrors.ErrorCode(resp.Code) {
	case apperrors.ErrCodeNotFound:
		return domain.ErrSignalNotFound
	case apperrors.ErrCodeRateLimit:
		return apperrors.NewRateLimitError()
	}
	return apperrors.NewAppError(apperrors.ErrorCode(resp.Code), resp.Error, http.StatusBadGateway)
}

// validateSDP checks the minimal session description structure.
func validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}
