package domain

import "errors"

var (
	// ErrDataUnavailable covers missing history, expiries or option chains. The ticker is
	// skipped for the current cycle.
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrInsufficientHistory = dataUnavailable("insufficient price history")
	ErrNoExpiries          = dataUnavailable("no option expiries")
	ErrNoChain             = dataUnavailable("no option chain")

	// ErrSourceFailure marks a sentiment source that failed and was replaced by its default.
	ErrSourceFailure = errors.New("sentiment source failure")

	ErrDuplicateSignal      = errors.New("signal already active for ticker")
	ErrNotificationFailure  = errors.New("notification failure")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrUnknownUser          = errors.New("unknown user")
	ErrSignalNotFound       = errors.New("signal not found")
)

type dataUnavailableError struct{ msg string }

func dataUnavailable(msg string) error { return &dataUnavailableError{msg: msg} }

func (e *dataUnavailableError) Error() string { return e.msg }

func (e *dataUnavailableError) Unwrap() error { return ErrDataUnavailable }
