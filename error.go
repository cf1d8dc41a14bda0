package recordstore

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
)

// ErrorCode classifies failures raised by the store lifecycle.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// MissingFile means a store (or its id file) does not exist and creation was not requested.
	MissingFile
	// PermissionDenied means the OS refused read or write access to a store file.
	PermissionDenied
	// FormatMismatch means the store header does not match the selected record format.
	FormatMismatch
	// MappingFailure means the page cache could not map the store file.
	MappingFailure
	// IDGeneratorRecoveryFailure means the id generator could not be opened or rebuilt.
	IDGeneratorRecoveryFailure
	// StoreCloseError means a store could not release its resources.
	StoreCloseError
	// DependencyCycle flags a malformed store descriptor table.
	DependencyCycle
	// IllegalState means an operation was called in the wrong lifecycle state.
	IllegalState
	// FileIOError is a generic (possibly transient) file I/O failure.
	FileIOError
)

var errorCodeNames = map[ErrorCode]string{
	Unknown:                    "Unknown",
	MissingFile:                "MissingFile",
	PermissionDenied:           "PermissionDenied",
	FormatMismatch:             "FormatMismatch",
	MappingFailure:             "MappingFailure",
	IDGeneratorRecoveryFailure: "IDGeneratorRecoveryFailure",
	StoreCloseError:            "StoreCloseError",
	DependencyCycle:            "DependencyCycle",
	IllegalState:               "IllegalState",
	FileIOError:                "FileIOError",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is the custom error carrying a code, the underlying error and optional user data.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	if e.UserData != nil {
		return fmt.Sprintf("error code: %v, user data: %v, details: %v", e.Code, e.UserData, e.Err)
	}
	return fmt.Sprintf("error code: %v, details: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the ErrorCode of the first Error (or StoreOpenFailure) found in err's chain,
// Unknown otherwise.
func CodeOf(err error) ErrorCode {
	var sof *StoreOpenFailure
	if errors.As(err, &sof) {
		return sof.Cause
	}
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// ClassifyIOError maps an OS level error onto a store failure cause.
// Errors that carry no recognizable OS condition yield fallback.
func ClassifyIOError(err error, fallback ErrorCode) ErrorCode {
	switch {
	case err == nil:
		return Unknown
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENOENT):
		return MissingFile
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.EROFS):
		return PermissionDenied
	}
	var e Error
	if errors.As(err, &e) && e.Code != Unknown && e.Code != FileIOError {
		return e.Code
	}
	return fallback
}

// DependencyCycleError reports a store descriptor table whose dependencies cannot be ordered.
type DependencyCycleError struct {
	// Remaining lists the kinds left unordered when no dependency-free kind could be found.
	Remaining []StoreKind
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("store descriptor table has a dependency cycle among %v", e.Remaining)
}

// StoreOpenFailure reports that one store failed to open. Failures closing stores that were
// already open when the attempt was unwound are kept in Suppressed and never replace Err.
type StoreOpenFailure struct {
	Kind       StoreKind
	Cause      ErrorCode
	Err        error
	Suppressed []error
}

func (e *StoreOpenFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to open %v store (%v): %v", e.Kind, e.Cause, e.Err)
	if len(e.Suppressed) > 0 {
		fmt.Fprintf(&b, "; %d suppressed close failure(s):", len(e.Suppressed))
		for _, s := range e.Suppressed {
			fmt.Fprintf(&b, " [%v]", s)
		}
	}
	return b.String()
}

// Unwrap exposes the primary error followed by the suppressed ones.
func (e *StoreOpenFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Suppressed)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return append(errs, e.Suppressed...)
}

// NewStoreOpenFailure wraps err as the open failure of kind, deriving the cause from err when
// it is recognizable and using fallback otherwise.
func NewStoreOpenFailure(kind StoreKind, fallback ErrorCode, err error) *StoreOpenFailure {
	var sof *StoreOpenFailure
	if errors.As(err, &sof) && sof.Kind == kind {
		return sof
	}
	return &StoreOpenFailure{
		Kind:  kind,
		Cause: ClassifyIOError(err, fallback),
		Err:   err,
	}
}

// StoreCloseFailure aggregates every store that failed to release its resources during one sweep.
type StoreCloseFailure struct {
	Failures map[StoreKind]error
}

// FailedKinds returns the failing kinds in declaration order.
func (e *StoreCloseFailure) FailedKinds() []StoreKind {
	kinds := make([]StoreKind, 0, len(e.Failures))
	for k := range e.Failures {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (e *StoreCloseFailure) Error() string {
	var b strings.Builder
	b.WriteString("failed to close store(s):")
	for _, k := range e.FailedKinds() {
		fmt.Fprintf(&b, " %v: %v;", k, e.Failures[k])
	}
	return strings.TrimSuffix(b.String(), ";")
}

func (e *StoreCloseFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, k := range e.FailedKinds() {
		errs = append(errs, e.Failures[k])
	}
	return errs
}
