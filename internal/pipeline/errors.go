package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/kikiluvv/storyreel/internal/capture"
	"github.com/kikiluvv/storyreel/internal/imagefetch"
	"github.com/kikiluvv/storyreel/internal/imagegen"
	"github.com/kikiluvv/storyreel/internal/speech"
)

// Kind classifies a failed run so callers can tell a bad request from a
// refusing service from a flaky network.
type Kind string

const (
	KindInput         Kind = "input"
	KindRemoteService Kind = "remote_service"
	KindTransport     Kind = "transport"
	KindPartialAsset  Kind = "partial_asset"
	KindCapture       Kind = "capture"
	KindCanceled      Kind = "canceled"
	KindRuntime       Kind = "runtime"
)

var kindMessages = map[Kind]string{
	KindInput:         "invalid input",
	KindRemoteService: "remote service rejected the request",
	KindTransport:     "network or transport failure",
	KindPartialAsset:  "no usable output produced",
	KindCapture:       "recording failed",
	KindCanceled:      "canceled",
	KindRuntime:       "processing failed",
}

// Error is the single terminal error of a run.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", kindMessages[e.Kind], e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", kindMessages[e.Kind], e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a run error, or "" when err is not one
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func inputError(format string, args ...any) *Error {
	return &Error{Kind: KindInput, Err: fmt.Errorf(format, args...)}
}

// classify wraps err with the kind its cause implies
func classify(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: kindFor(err), Stage: stage, Err: err}
}

func kindFor(err error) Kind {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, imagegen.ErrMissingKey):
		return KindInput
	case errors.Is(err, speech.ErrRejected),
		errors.Is(err, imagegen.ErrRejected):
		return KindRemoteService
	case errors.Is(err, imagefetch.ErrNoUsableAssets):
		return KindPartialAsset
	case errors.Is(err, capture.ErrCapture):
		return KindCapture
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return KindTransport
	}
	var se *imagefetch.StatusError
	if errors.As(err, &se) {
		return KindTransport
	}
	return KindRuntime
}
