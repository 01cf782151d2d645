package rlr

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of failure kinds reported by a Simulator.
type ErrorCode int

const (
	Success ErrorCode = iota
	Unknown
	InvalidParam
	BadSampleRate
	MissingDLL
	BadAlignment
	Uninitialized
	HRTFInitFailure
	BadVersion
	SymbolNotFound
	SharedReverbDisabled
	NoAvailableAmbisonicInstance
	MemoryAllocFailure
	UnsupportedFeature
)

var errorCodeNames = [...]string{
	Success:                      "Success",
	Unknown:                      "Unknown",
	InvalidParam:                 "InvalidParam",
	BadSampleRate:                "BadSampleRate",
	MissingDLL:                   "MissingDLL",
	BadAlignment:                 "BadAlignment",
	Uninitialized:                "Uninitialized",
	HRTFInitFailure:              "HRTFInitFailure",
	BadVersion:                   "BadVersion",
	SymbolNotFound:               "SymbolNotFound",
	SharedReverbDisabled:         "SharedReverbDisabled",
	NoAvailableAmbisonicInstance: "NoAvailableAmbisonicInstance",
	MemoryAllocFailure:           "MemoryAllocFailure",
	UnsupportedFeature:           "UnsupportedFeature",
}

// String returns the code name.
func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Sentinels for errors.Is. Every error returned by a Simulator matches
// exactly one of them.
var (
	ErrUnknown                      = &Error{Code: Unknown}
	ErrInvalidParam                 = &Error{Code: InvalidParam}
	ErrBadSampleRate                = &Error{Code: BadSampleRate}
	ErrMissingDLL                   = &Error{Code: MissingDLL}
	ErrBadAlignment                 = &Error{Code: BadAlignment}
	ErrUninitialized                = &Error{Code: Uninitialized}
	ErrHRTFInitFailure              = &Error{Code: HRTFInitFailure}
	ErrBadVersion                   = &Error{Code: BadVersion}
	ErrSymbolNotFound               = &Error{Code: SymbolNotFound}
	ErrSharedReverbDisabled         = &Error{Code: SharedReverbDisabled}
	ErrNoAvailableAmbisonicInstance = &Error{Code: NoAvailableAmbisonicInstance}
	ErrMemoryAllocFailure           = &Error{Code: MemoryAllocFailure}
	ErrUnsupportedFeature           = &Error{Code: UnsupportedFeature}
)

// Error is a failure with a code, the operation that produced it and an
// optional underlying cause.
type Error struct {
	Code ErrorCode
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Code.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code carried by err, Success for nil and Unknown for
// errors that did not come from this package.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

func newError(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}
