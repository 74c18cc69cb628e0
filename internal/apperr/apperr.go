// Package apperr defines the error kinds surfaced by the generation and
// deployment pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a terminal pipeline error.
type Kind string

const (
	KindUnknown        Kind = ""
	KindConfiguration  Kind = "configuration"
	KindRateLimited    Kind = "rate_limited"
	KindUpstream       Kind = "upstream"
	KindDeploymentStep Kind = "deployment_step"
	KindNotFound       Kind = "not_found"
	KindInvalid        Kind = "invalid_argument"
)

// Deployment steps used to tag KindDeploymentStep errors.
const (
	StepExport = "export"
	StepEnsure = "ensure"
	StepUpload = "upload"
	StepBind   = "bind"
	StepRecord = "record"
)

// Error carries a machine-checkable kind alongside a human readable message.
type Error struct {
	Kind    Kind
	Step    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Step != "" && e.Status > 0:
		return fmt.Sprintf("%s step failed (%d): %s", e.Step, e.Status, msg)
	case e.Step != "":
		return fmt.Sprintf("%s step failed: %s", e.Step, msg)
	case e.Status > 0:
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, msg)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates err with a kind. A nil err yields nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Upstream reports a non-recoverable response from a remote API.
func Upstream(status int, message string) *Error {
	return &Error{Kind: KindUpstream, Status: status, Message: message}
}

// StepError tags err with the deployment step that produced it. The upstream
// status of a wrapped Error is preserved.
func StepError(step string, err error) error {
	if err == nil {
		return nil
	}
	out := &Error{Kind: KindDeploymentStep, Step: step, Err: err}
	var inner *Error
	if errors.As(err, &inner) {
		out.Status = inner.Status
		if inner.Kind == KindConfiguration {
			out.Kind = KindConfiguration
		}
	}
	return out
}

// KindOf returns the kind of the first Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StepOf returns the deployment step recorded in err's chain, if any.
func StepOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}

// StatusOf returns the upstream status recorded in err's chain, if any.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
