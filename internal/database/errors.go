package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error categories for database operations
const (
	CategoryConnection  = "connection"
	CategoryQuery       = "query"
	CategoryConstraint  = "constraint"
	CategoryTransaction = "transaction"
	CategoryTimeout     = "timeout"
)

// DatabaseError represents a categorized database error with context.
//
//nolint:revive // DatabaseError reads fine at call sites (database.DatabaseError is rare).
type DatabaseError struct {
	Category    string
	Operation   string
	Message     string
	Query       string
	ParamCount  int
	OriginalErr error
	Retryable   bool
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("database %s error: %s", e.Category, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("database %s error in %s: %s", e.Category, e.Operation, e.Message)
	}
	if e.OriginalErr != nil {
		msg += fmt.Sprintf(" (original: %v)", e.OriginalErr)
	}
	return msg
}

func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string, originalErr error) *DatabaseError {
	return &DatabaseError{Category: CategoryConnection, Operation: "connect", Message: message, OriginalErr: originalErr, Retryable: true}
}

// NewTransactionError creates a transaction error.
func NewTransactionError(message string, originalErr error) *DatabaseError {
	return &DatabaseError{Category: CategoryTransaction, Operation: "transaction", Message: message, OriginalErr: originalErr}
}

var (
	timeoutIndicators = []string{
		"timeout", "timed out", "deadline exceeded",
	}
	connectionIndicators = []string{
		"connection refused", "connection reset", "no such host", "network is unreachable",
		"connection closed", "connection is already closed", "broken pipe", "bad connection", "invalid connection",
		"unexpected eof", "server closed", "dial tcp", "connect: ", "sql: database is closed",
		"unable to open database", "too many open files",
	}
	constraintIndicators = []string{
		"unique constraint", "duplicate key", "violates unique", "violates foreign key",
		"foreign key constraint", "violates check constraint", "violates not-null",
		"not null constraint", "integrity constraint", "constraint failed",
	}
	lockIndicators = []string{
		"deadlock", "serialization failure", "could not serialize", "database is locked",
		"database table is locked",
	}
	syntaxIndicators = []string{
		"syntax error", "at or near", "near \"", "no such table", "no such column",
	}
	// SQLSTATE classes reported by lib/pq.
	postgresConstraintCodes = []string{"23000", "23001", "23502", "23503", "23505", "23514"}
	postgresLockCodes       = []string{"40001", "40p01"}
)

// ClassifyDatabaseError classifies a raw driver error into a DatabaseError.
func ClassifyDatabaseError(err error, driver, operation, query string, paramCount int) *DatabaseError {
	if err == nil {
		return nil
	}
	var already *DatabaseError
	if errors.As(err, &already) {
		return already
	}

	msg := strings.ToLower(err.Error())
	dbErr := &DatabaseError{
		Operation:   operation,
		Query:       sanitizeQuery(query),
		ParamCount:  paramCount,
		OriginalErr: err,
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || containsAny(msg, timeoutIndicators):
		dbErr.Category, dbErr.Message, dbErr.Retryable = CategoryTimeout, "operation timed out", true
	case errors.Is(err, context.Canceled):
		dbErr.Category, dbErr.Message = CategoryConnection, "operation canceled"
	case containsAny(msg, connectionIndicators):
		dbErr.Category, dbErr.Message, dbErr.Retryable = CategoryConnection, "connection failed or lost", true
	case containsAny(msg, constraintIndicators) ||
		(driver == DriverPostgres && containsAny(msg, postgresConstraintCodes)):
		dbErr.Category, dbErr.Message = CategoryConstraint, constraintMessage(msg)
	case containsAny(msg, lockIndicators) ||
		(driver == DriverPostgres && containsAny(msg, postgresLockCodes)):
		dbErr.Category, dbErr.Message, dbErr.Retryable = CategoryQuery, "lock conflict", true
	case containsAny(msg, syntaxIndicators) || (driver == DriverPostgres && strings.Contains(msg, "42601")):
		dbErr.Category, dbErr.Message = CategoryQuery, "SQL syntax error"
	default:
		dbErr.Category, dbErr.Message = CategoryQuery, err.Error()
	}
	return dbErr
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func constraintMessage(msg string) string {
	switch {
	case strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate"):
		return "unique constraint violation"
	case strings.Contains(msg, "foreign key"):
		return "foreign key constraint violation"
	case strings.Contains(msg, "not-null") || strings.Contains(msg, "not null"):
		return "not-null constraint violation"
	default:
		return "constraint violation"
	}
}

func sanitizeQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "... (truncated)"
	}
	return query
}

// GetDatabaseError extracts the DatabaseError from an error chain.
func GetDatabaseError(err error) *DatabaseError {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr
	}
	return nil
}

// IsConnectionError reports whether err means the store itself is unreachable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	dbErr := GetDatabaseError(err)
	if dbErr == nil {
		dbErr = ClassifyDatabaseError(err, "", "", "", 0)
	}
	return dbErr.Category == CategoryConnection
}

// IsConstraintError reports whether err is a constraint violation.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	dbErr := GetDatabaseError(err)
	if dbErr == nil {
		dbErr = ClassifyDatabaseError(err, "", "", "", 0)
	}
	return dbErr.Category == CategoryConstraint
}
