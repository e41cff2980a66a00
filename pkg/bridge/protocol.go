// Package bridge exposes the cascade invoker to host runtimes over HTTP and
// WebSocket, and provides a Go client for it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/teslashibe/go-cascade/pkg/asset"
	"github.com/teslashibe/go-cascade/pkg/cascade"
)

// Error kinds reported in responses.
const (
	KindBadRequest     = "bad_request"
	KindUnresolvable   = "unresolvable_asset"
	KindDecode         = "decode"
	KindClassification = "classification"
	KindCanceled       = "canceled"
	KindInternal       = "internal"
)

// DetectRequest asks for one classifier run. ID is only used on the
// websocket stream to correlate replies; a missing ID gets a generated one.
type DetectRequest struct {
	ID         string          `json:"id,omitempty"`
	Classifier string          `json:"classifier"`
	Image      asset.Reference `json:"image"`
}

// Validate checks the required fields.
func (r DetectRequest) Validate() error {
	if r.Classifier == "" {
		return errors.New("classifier is required")
	}
	if r.Image.IsZero() {
		return errors.New("image is required")
	}
	return nil
}

// DetectResponse is a successful reply.
type DetectResponse struct {
	ID        string              `json:"id,omitempty"`
	RequestID string              `json:"request_id"`
	Objects   []cascade.Detection `json:"objects"`
}

// ErrorResponse is a failed reply.
type ErrorResponse struct {
	ID        string `json:"id,omitempty"`
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
	Kind      string `json:"kind"`
}

// Health is the /api/health body.
type Health struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// Stats counts requests served since start.
type Stats struct {
	Requests     int64 `json:"requests"`
	Failures     int64 `json:"failures"`
	Subscribers  int   `json:"subscribers"`
	DroppedEvent int64 `json:"dropped_events"`
}

// Classify maps a Detect error to its response kind and HTTP status.
// Cancellation wins over the stage the call was in.
func Classify(err error) (kind string, status int) {
	var (
		uerr *asset.UnresolvableAssetError
		derr *cascade.DecodeError
		cerr *cascade.ClassificationError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled, http.StatusGatewayTimeout
	case errors.As(err, &uerr):
		return KindUnresolvable, http.StatusUnprocessableEntity
	case errors.As(err, &derr):
		return KindDecode, http.StatusUnsupportedMediaType
	case errors.As(err, &cerr):
		return KindClassification, http.StatusBadGateway
	default:
		return KindInternal, http.StatusInternalServerError
	}
}

// RemoteError is a failure reported by a bridge server.
type RemoteError struct {
	StatusCode int
	RequestID  string
	Kind       string
	Message    string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bridge: %s (%s, status %d)", e.Message, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("bridge: %s (%s)", e.Message, e.Kind)
}
