package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// anyValue accepts timestamps and encoded payloads we don't assert byte for byte.
var anyValue = ArgumentMatcherFunc(func(v interface{}) bool {
	return true
})

// stepPayloadOf matches an encoded step with the given action kind.
func stepPayloadOf(kind schemas.ActionKind) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		raw, ok := v.([]byte)
		if !ok {
			return false
		}
		var step schemas.Step
		return json.Unmarshal(raw, &step) == nil && step.Action.Kind == kind
	}
}

func newMockStore(t *testing.T, logger *zap.Logger) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := NewPostgresStore(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgresStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresStore(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateTables)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert session and step without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))
		step := testStep(0, schemas.ActionNavigate)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSession)).
			WithArgs("s1", "find the price", anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs("s1", 0, stepPayloadOf(schemas.ActionNavigate), anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.Append(ctx, "s1", "find the price", step))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back when the step insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		insertErr := errors.New("duplicate key value violates unique constraint")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSession)).
			WithArgs("s1", "task", anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs("s1", 3, anyValue, anyValue).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.Append(ctx, "s1", "task", testStep(3, schemas.ActionWait))
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.Contains(t, err.Error(), "failed to insert step 3")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the transaction cannot begin", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := s.Append(ctx, "s1", "task", testStep(0, schemas.ActionWait))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_Load(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should assemble the record in step order", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		first, err := json.Marshal(testStep(0, schemas.ActionNavigate))
		require.NoError(t, err)
		second, err := json.Marshal(testStep(1, schemas.ActionExtract))
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectSession)).
			WithArgs("s1").
			WillReturnRows(pgxmock.NewRows([]string{"input", "created_at"}).AddRow("find the price", createdAt))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectSteps)).
			WithArgs("s1").
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(first).AddRow(second))

		rec, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "find the price", rec.Input)
		assert.True(t, rec.CreatedAt.Equal(createdAt))
		require.Len(t, rec.Steps, 2)
		assert.Equal(t, schemas.ActionNavigate, rec.Steps[0].Action.Kind)
		assert.Equal(t, schemas.ActionExtract, rec.Steps[1].Action.Kind)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map missing rows to ErrSessionNotFound", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectSession)).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrSessionNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_List(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	t0 := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlListSessions)).
		WillReturnRows(pgxmock.NewRows([]string{"session_id", "input", "created_at"}).
			AddRow("s1", "first", t0).
			AddRow("s2", "second", t0.Add(time.Minute)))

	summaries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "s1", summaries[0].Session)
	assert.Equal(t, "second", summaries[1].Input)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
