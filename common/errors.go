package common

import (
	"errors"
	"fmt"
)

type OptErrorCode int

const (
	// DuplicateObjectError indicates an attempt to register a table, index or
	// projection that already exists in the catalog.
	DuplicateObjectError OptErrorCode = iota
	// NoSuchObjectError indicates a request for a table, column or projection
	// that does not exist in the catalog.
	NoSuchObjectError
	// BudgetExceededError is returned by the first pass when the number of applied
	// rewrite rules surpasses max_optimizations_to_apply outside of explain mode.
	BudgetExceededError
	// ProjectionBudgetExceededError is the second-pass analogue of BudgetExceededError,
	// counting distinct projections applied to the plan.
	ProjectionBudgetExceededError
	// RequiredProjectionMissingError indicates that the settings demanded the use of a
	// projection (any, or a named one) and the optimizer never applied it.
	RequiredProjectionMissingError
	// StructuralInvariantError indicates a broken plan tree: a dangling child handle,
	// a cycle, or a node kind missing where a previous stage guarantees one. It always
	// points at a bug in a rewrite rule.
	StructuralInvariantError
	// InvalidConfigError indicates optimization settings that cannot be honored.
	InvalidConfigError
)

func (ec OptErrorCode) String() string {
	switch ec {
	case DuplicateObjectError:
		return "DuplicateObjectError"
	case NoSuchObjectError:
		return "NoSuchObjectError"
	case BudgetExceededError:
		return "BudgetExceededError"
	case ProjectionBudgetExceededError:
		return "ProjectionBudgetExceededError"
	case RequiredProjectionMissingError:
		return "RequiredProjectionMissingError"
	case StructuralInvariantError:
		return "StructuralInvariantError"
	case InvalidConfigError:
		return "InvalidConfigError"
	}
	return "unknown"
}

// OptError is the error type returned by the optimizer and its collaborators.
// It carries an OptErrorCode so callers can tell a tolerable overrun from a broken rule
// without parsing messages.
type OptError struct {
	Code      OptErrorCode
	ErrString string
}

func (e OptError) Error() string {
	return fmt.Sprintf("err: %s; msg: %s", e.Code.String(), e.ErrString)
}

// NewOptError formats an OptError with the given code.
func NewOptError(code OptErrorCode, format string, args ...any) OptError {
	return OptError{Code: code, ErrString: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err, or any error it wraps, is an OptError with the given code.
func IsCode(err error, code OptErrorCode) bool {
	var optErr OptError
	if errors.As(err, &optErr) {
		return optErr.Code == code
	}
	return false
}
