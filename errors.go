package evtimer

import (
	"errors"
	"os"
)

var (
	// ErrResourceCreation timerfd_create failed (e.g. RLIMIT_NOFILE reached)
	ErrResourceCreation = errors.New("timer resource creation failure")

	// ErrTimerProgramming timerfd_settime or readiness registration failed, or bad parameters
	ErrTimerProgramming = errors.New("timer programming failure")

	// ErrPoolExhausted all slots of the timer pool are in use
	ErrPoolExhausted = errors.New("timer pool exhausted")
)

// FatalKind classifies an unrecoverable timer failure
type FatalKind int

const (
	// ResourceCreationFailure refer to ErrResourceCreation
	ResourceCreationFailure FatalKind = iota + 1
	// ProgrammingFailure refer to ErrTimerProgramming
	ProgrammingFailure
	// PoolExhausted refer to ErrPoolExhausted
	PoolExhausted
)

func (k FatalKind) String() string {
	switch k {
	case ResourceCreationFailure:
		return "ResourceCreationFailure"
	case ProgrammingFailure:
		return "ProgrammingFailure"
	case PoolExhausted:
		return "PoolExhausted"
	}
	return "Unknown"
}

// FatalError is what the fatal handler receives.
type FatalError struct {
	Kind FatalKind
	Msg  string
	Err  error // kernel error, may be nil
}

func (e *FatalError) Error() string {
	s := e.Kind.String() + ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap return the sentinel of Kind, so errors.Is(err, ErrPoolExhausted) works
func (e *FatalError) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Kind {
	case ResourceCreationFailure:
		errs = append(errs, ErrResourceCreation)
	case ProgrammingFailure:
		errs = append(errs, ErrTimerProgramming)
	case PoolExhausted:
		errs = append(errs, ErrPoolExhausted)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newFatalError(kind FatalKind, msg string, err error) *FatalError {
	return &FatalError{Kind: kind, Msg: msg, Err: err}
}

// defaultFatalHandler write a fatal log line and terminates the process.
// A bounded timer pool running dry is a bug in the caller, not a transient condition.
func defaultFatalHandler(l *Log) func(*FatalError) {
	return func(fe *FatalError) {
		l.Fatal("%s", fe.Error())
		os.Exit(2)
	}
}
