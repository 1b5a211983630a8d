package postgres_test

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedmehq/feedme-worker/internal/adapter/repo/postgres"
)

func TestHealthRepo_PauseUntil(t *testing.T) {
	t.Parallel()

	t.Run("closed breaker", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectQuery("SELECT pause_until FROM apify_health").
			WillReturnRows(pgxmock.NewRows([]string{"pause_until"}).AddRow(nil))

		repo := postgres.NewHealthRepo(m)
		pause, err := repo.PauseUntil(context.Background())
		require.NoError(t, err)
		assert.Nil(t, pause)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("active cooldown", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		deadline := time.Now().Add(2 * time.Hour)
		m.ExpectQuery("SELECT pause_until FROM apify_health").
			WillReturnRows(pgxmock.NewRows([]string{"pause_until"}).AddRow(&deadline))

		repo := postgres.NewHealthRepo(m)
		pause, err := repo.PauseUntil(context.Background())
		require.NoError(t, err)
		require.NotNil(t, pause)
		assert.WithinDuration(t, deadline, *pause, time.Second)
		require.NoError(t, m.ExpectationsWereMet())
	})
}

func TestHealthRepo_RecordSuccess(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	m.ExpectExec("UPDATE apify_health").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := postgres.NewHealthRepo(m)
	require.NoError(t, repo.RecordSuccess(context.Background()))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestHealthRepo_RecordFailure(t *testing.T) {
	t.Parallel()

	t.Run("below the trigger only counts", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectQuery("UPDATE apify_health").
			WithArgs("timeout").
			WillReturnRows(pgxmock.NewRows([]string{"consecutive_failures"}).AddRow(2))

		repo := postgres.NewHealthRepo(m)
		failures, pause, err := repo.RecordFailure(context.Background(), "timeout", 5, 6)
		require.NoError(t, err)
		assert.Equal(t, 2, failures)
		assert.Nil(t, pause)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("reaching the trigger arms the cooldown and resets the counter", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		deadline := time.Now().Add(6 * time.Hour)
		m.ExpectQuery("UPDATE apify_health").
			WithArgs("timeout").
			WillReturnRows(pgxmock.NewRows([]string{"consecutive_failures"}).AddRow(5))
		m.ExpectQuery("UPDATE apify_health").
			WithArgs("6").
			WillReturnRows(pgxmock.NewRows([]string{"pause_until"}).AddRow(deadline))

		repo := postgres.NewHealthRepo(m)
		failures, pause, err := repo.RecordFailure(context.Background(), "timeout", 5, 6)
		require.NoError(t, err)
		assert.Equal(t, 5, failures)
		require.NotNil(t, pause)
		assert.WithinDuration(t, deadline, *pause, time.Second)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("non-positive trigger arms on the first failure", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		deadline := time.Now().Add(time.Hour)
		m.ExpectQuery("UPDATE apify_health").
			WithArgs("timeout").
			WillReturnRows(pgxmock.NewRows([]string{"consecutive_failures"}).AddRow(1))
		m.ExpectQuery("UPDATE apify_health").
			WithArgs("1").
			WillReturnRows(pgxmock.NewRows([]string{"pause_until"}).AddRow(deadline))

		repo := postgres.NewHealthRepo(m)
		failures, pause, err := repo.RecordFailure(context.Background(), "timeout", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, failures)
		require.NotNil(t, pause)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectQuery("UPDATE apify_health").
			WithArgs("timeout").
			WillReturnError(assert.AnError)

		repo := postgres.NewHealthRepo(m)
		_, _, err = repo.RecordFailure(context.Background(), "timeout", 5, 6)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=apify_health.recordFailure")
		require.NoError(t, m.ExpectationsWereMet())
	})
}
