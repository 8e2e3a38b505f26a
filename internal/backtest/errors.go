package backtest

import (
	"errors"
	"fmt"
)

// Error kinds a run can fail with. The engine converts every one of these
// into a Failed status at its boundary; the kind survives in the message.
type errKind string

const (
	kindConfiguration  errKind = "configuration"
	kindNoData         errKind = "no_data"
	kindRuleEvaluation errKind = "rule_evaluation"
	kindPersistence    errKind = "persistence"
)

// Error is a typed engine failure.
type Error struct {
	Kind    errKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind errKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind errKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ConfigurationError covers invalid run inputs: unknown strategy, bad
// balance, malformed date range.
func ConfigurationError(format string, args ...any) *Error {
	return newError(kindConfiguration, format, args...)
}

// NoDataError means the requested candle window is empty.
func NoDataError(format string, args ...any) *Error {
	return newError(kindNoData, format, args...)
}

// RuleEvaluationError means a rule tree referenced something the cache
// could not serve, or a malformed node survived validation.
func RuleEvaluationError(format string, args ...any) *Error {
	return newError(kindRuleEvaluation, format, args...)
}

// PersistenceError wraps a failed result write.
func PersistenceError(err error, format string, args ...any) *Error {
	return wrapError(kindPersistence, err, format, args...)
}

// IsKind reports whether err is a backtest Error of the given kind.
func isKind(err error, kind errKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsConfigurationError(err error) bool  { return isKind(err, kindConfiguration) }
func IsNoDataError(err error) bool         { return isKind(err, kindNoData) }
func IsRuleEvaluationError(err error) bool { return isKind(err, kindRuleEvaluation) }
func IsPersistenceError(err error) bool    { return isKind(err, kindPersistence) }
