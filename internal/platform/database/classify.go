package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind is the closed set of failure classes the retry wrapper understands.
// Everything not recognised is KindPermanent.
type ErrorKind int

const (
	KindPermanent ErrorKind = iota
	KindPreparedStatementMissing
	KindPreparedStatementExists
	KindBinaryFormat
	KindBindMismatch
	KindConnection
	KindServerShutdown
)

// SQLSTATE codes mapped onto transient kinds.
const (
	codeInvalidStatementName = "26000"
	codeDuplicatePrepared    = "42P05"
	codeInvalidBinary        = "22P03"
	codeProtocolViolation    = "08P01"
	codeAdminShutdown        = "57P01"
	codeCrashShutdown        = "57P02"
	codeCannotConnectNow     = "57P03"
	codeUniqueViolation      = "23505"
	classConnectionException = "08"
)

func (k ErrorKind) String() string {
	switch k {
	case KindPreparedStatementMissing:
		return "prepared_statement_missing"
	case KindPreparedStatementExists:
		return "prepared_statement_exists"
	case KindBinaryFormat:
		return "binary_format"
	case KindBindMismatch:
		return "bind_mismatch"
	case KindConnection:
		return "connection"
	case KindServerShutdown:
		return "server_shutdown"
	default:
		return "permanent"
	}
}

// Transient reports whether an error of this kind may be retried.
func (k ErrorKind) Transient() bool {
	return k != KindPermanent
}

// Classify maps an error returned by the driver (possibly wrapped by gorm or
// by our own repositories) onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}
	// The caller gave up; retrying would ignore that decision.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindPermanent
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return KindConnection
	}

	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return KindConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnection
	}

	if pgconn.SafeToRetry(err) {
		return KindConnection
	}
	return KindPermanent
}

func classifyCode(code string) ErrorKind {
	switch code {
	case codeInvalidStatementName:
		return KindPreparedStatementMissing
	case codeDuplicatePrepared:
		return KindPreparedStatementExists
	case codeInvalidBinary:
		return KindBinaryFormat
	case codeProtocolViolation:
		return KindBindMismatch
	case codeAdminShutdown, codeCrashShutdown, codeCannotConnectNow:
		return KindServerShutdown
	}
	if strings.HasPrefix(code, classConnectionException) {
		return KindConnection
	}
	return KindPermanent
}

// IsTransient is shorthand for Classify(err).Transient().
func IsTransient(err error) bool {
	return Classify(err).Transient()
}

// UniqueViolation reports whether err is a unique-constraint violation and,
// if so, which constraint fired.
func UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
