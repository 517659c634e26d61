package sqlengine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/JaimeStill/sitegraph/internal/capability"
	"github.com/JaimeStill/sitegraph/internal/providers/sqlengine"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		expected error
	}{
		{"select", "SELECT sum(quantity) FROM construction_records", "SELECT sum(quantity) FROM construction_records", nil},
		{"lowercase with", "with t as (select 1) select * from t;", "with t as (select 1) select * from t", nil},
		{"trailing semicolons", " SELECT 1;; ", "SELECT 1", nil},
		{"empty", " ; ", "", sqlengine.ErrEmptyStatement},
		{"delete", "DELETE FROM construction_records", "", sqlengine.ErrNotReadOnly},
		{"cte with update", "WITH x AS (UPDATE construction_records SET unit = 't' RETURNING 1) SELECT * FROM x", "", sqlengine.ErrNotReadOnly},
		{"stacked", "SELECT 1; DROP TABLE runs", "", sqlengine.ErrMultipleStatements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sqlengine.Validate(tt.input)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("got err %v, want %v", err, tt.expected)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET TRANSACTION READ ONLY").WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec("SET LOCAL statement_timeout = 2000").WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectQuery(`SELECT \* FROM \(SELECT activity_type, sum\(quantity\) AS total FROM construction_records GROUP BY activity_type\) AS q LIMIT 10`).
		WillReturnRows(pgxmock.NewRows([]string{"activity_type", "total"}).
			AddRow("混凝土浇筑", 80.0).
			AddRow("钢筋绑扎", 12.5))
	mock.ExpectCommit()

	engine := sqlengine.New(mock, 10, 2*time.Second)
	rows, err := engine.Query(context.Background(),
		"SELECT activity_type, sum(quantity) AS total FROM construction_records GROUP BY activity_type;")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"row count", len(rows), 2},
		{"first activity", rows[0]["activity_type"], "混凝土浇筑"},
		{"second total", rows[1]["total"], 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQueryRejectsWrites(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	_, err = sqlengine.New(mock, 10, time.Second).Query(context.Background(), "DROP TABLE runs")
	if capability.KindOf(err) != capability.KindValidation {
		t.Errorf("got %v, want validation error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestQueryFailureIsTransient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	_, err = sqlengine.New(mock, 10, time.Second).Query(context.Background(), "SELECT 1")
	if capability.KindOf(err) != capability.KindTransient {
		t.Errorf("got %v, want transient error", err)
	}
}

func TestQueryStatementErrorsAreInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected capability.Kind
	}{
		{"undefined table", &pgconn.PgError{Code: "42P01"}, capability.KindValidation},
		{"syntax error", &pgconn.PgError{Code: "42601"}, capability.KindValidation},
		{"invalid date", &pgconn.PgError{Code: "22007"}, capability.KindValidation},
		{"write in read-only transaction", &pgconn.PgError{Code: "25006"}, capability.KindValidation},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, capability.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatal(err)
			}
			defer mock.Close()

			mock.ExpectBegin()
			mock.ExpectExec("SET TRANSACTION READ ONLY").WillReturnResult(pgxmock.NewResult("SET", 0))
			mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(pgxmock.NewResult("SET", 0))
			mock.ExpectQuery("SELECT").WillReturnError(tt.err)
			mock.ExpectRollback()

			_, err = sqlengine.New(mock, 10, time.Second).Query(context.Background(), "SELECT * FROM missing_table")
			if got := capability.KindOf(err); got != tt.expected {
				t.Errorf("got %s, want %s (%v)", got, tt.expected, err)
			}
			if capability.Retryable(err) != (tt.expected == capability.KindTransient) {
				t.Errorf("retryable: got %v for %v", capability.Retryable(err), err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}
