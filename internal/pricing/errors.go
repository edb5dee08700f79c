package pricing

import "errors"

var (
	// ErrInvalidRequest rejects a request before any stage runs.
	ErrInvalidRequest = errors.New("pricing: invalid request")
	// ErrRuleNotFound occurs when no active price list or SKU line exists.
	ErrRuleNotFound = errors.New("pricing: rule not found")
	// ErrRuleLookup occurs when a fatal rule lookup fails.
	ErrRuleLookup = errors.New("pricing: rule lookup failed")
	// ErrInvalidRule occurs when a stored rule carries an unknown enum value.
	ErrInvalidRule = errors.New("pricing: invalid rule")
	// ErrRuleEvaluationDegraded marks a fail-open stage. It never reaches callers.
	ErrRuleEvaluationDegraded = errors.New("pricing: rule evaluation degraded")
	// ErrPersistenceFailure occurs when the quote could not be saved.
	ErrPersistenceFailure = errors.New("pricing: quote persistence failed")
	// ErrQuoteNotFound occurs when a quote is missing or expired.
	ErrQuoteNotFound = errors.New("pricing: quote not found")
)
