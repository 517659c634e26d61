// Package sqlengine runs planner-generated queries against the records
// database inside read-only transactions.
package sqlengine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/pkg/repository"
)

var (
	ErrEmptyStatement     = errors.New("empty statement")
	ErrNotReadOnly        = errors.New("only SELECT and WITH statements are allowed")
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
)

var (
	readPrefix = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)
	forbidden  = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|COPY|CALL|EXECUTE|MERGE|VACUUM)\b`)
)

// Engine implements capability.QueryEngine.
type Engine struct {
	db           repository.DB
	maxRows      int
	statementTTL time.Duration
}

// New creates an Engine returning at most maxRows rows per query.
func New(db repository.DB, maxRows int, statementTimeout time.Duration) *Engine {
	if maxRows <= 0 {
		maxRows = 200
	}
	if statementTimeout <= 0 {
		statementTimeout = 5 * time.Second
	}
	return &Engine{db: db, maxRows: maxRows, statementTTL: statementTimeout}
}

// Validate normalises statement and rejects anything that is not a single
// read-only query.
func Validate(statement string) (string, error) {
	s := strings.TrimSpace(statement)
	s = strings.TrimSpace(strings.TrimRight(s, ";"))
	if s == "" {
		return "", ErrEmptyStatement
	}
	if strings.Contains(s, ";") {
		return "", ErrMultipleStatements
	}
	if !readPrefix.MatchString(s) || forbidden.MatchString(s) {
		return "", ErrNotReadOnly
	}
	return s, nil
}

func (e *Engine) Query(ctx context.Context, statement string) ([]capability.Row, error) {
	s, err := Validate(statement)
	if err != nil {
		return nil, capability.Invalid(capability.SQL, err)
	}

	limited := fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", s, e.maxRows)

	rows, err := repository.WithTx(ctx, e.db, func(tx pgx.Tx) ([]capability.Row, error) {
		if _, err := tx.Exec(ctx, "SET TRANSACTION READ ONLY"); err != nil {
			return nil, err
		}
		timeout := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTTL.Milliseconds())
		if _, err := tx.Exec(ctx, timeout); err != nil {
			return nil, err
		}
		return collect(ctx, tx, limited)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("query: %w", ctx.Err())
		}
		if statementError(err) {
			return nil, capability.Invalid(capability.SQL, fmt.Errorf("query: %w", err))
		}
		return nil, capability.Transient(capability.SQL, fmt.Errorf("query: %w", err))
	}
	return rows, nil
}

// readOnlyViolation is raised when a statement writes inside a read-only
// transaction.
const readOnlyViolation = "25006"

// statementError reports whether PostgreSQL rejected the statement itself:
// data exceptions (class 22), syntax or access rule violations (class 42),
// or an attempted write.
func statementError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "42"):
		return true
	default:
		return pgErr.Code == readOnlyViolation
	}
}

func collect(ctx context.Context, q repository.Querier, statement string) ([]capability.Row, error) {
	rows, err := q.Query(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := make([]capability.Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(capability.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
