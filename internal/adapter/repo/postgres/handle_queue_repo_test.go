package postgres_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedmehq/feedme-worker/internal/adapter/repo/postgres"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

func TestHandleQueueRepo_Enqueue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(pgxmock.PgxPoolIface)
		wantErr bool
		errMsg  string
	}{
		{
			name: "inserts pending job",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectExec("INSERT INTO run_queue").
					WithArgs(int64(7), "sheet-1", "@acme", "daily").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "open job already queued is a no-op",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectExec("INSERT INTO run_queue").
					WithArgs(int64(7), "sheet-1", "@acme", "daily").
					WillReturnResult(pgxmock.NewResult("INSERT", 0))
			},
		},
		{
			name: "database error",
			setup: func(m pgxmock.PgxPoolIface) {
				m.ExpectExec("INSERT INTO run_queue").
					WithArgs(int64(7), "sheet-1", "@acme", "daily").
					WillReturnError(assert.AnError)
			},
			wantErr: true,
			errMsg:  "op=run_queue.enqueue",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer m.Close()
			tt.setup(m)

			repo := postgres.NewHandleQueueRepo(m)
			err = repo.Enqueue(context.Background(), 7, "sheet-1", "@acme", "daily")

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
			require.NoError(t, m.ExpectationsWereMet())
		})
	}
}

func TestHandleQueueRepo_FetchNext(t *testing.T) {
	t.Parallel()

	cols := []string{"id", "subscriber_id", "spreadsheet_id", "handle", "run_type", "status", "attempt", "next_run_at", "coalesce"}
	ready := time.Now().Add(-time.Minute)

	t.Run("claims the oldest ready job", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectBeginTx(pgx.TxOptions{})
		m.ExpectQuery("FROM run_queue").
			WillReturnRows(pgxmock.NewRows(cols).
				AddRow(int64(11), int64(7), "sheet-1", "@acme", "daily", domain.JobPending, 0, ready, ""))
		m.ExpectExec("UPDATE run_queue SET status='running'").
			WithArgs(int64(11)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		m.ExpectCommit()
		m.ExpectRollback()

		repo := postgres.NewHandleQueueRepo(m)
		job, err := repo.FetchNext(context.Background())
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, int64(11), job.ID)
		assert.Equal(t, "@acme", job.Handle)
		assert.Equal(t, domain.JobRunning, job.Status)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("empty queue returns nil without error", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectBeginTx(pgx.TxOptions{})
		m.ExpectQuery("FROM run_queue").WillReturnError(pgx.ErrNoRows)
		m.ExpectRollback()

		repo := postgres.NewHandleQueueRepo(m)
		job, err := repo.FetchNext(context.Background())
		require.NoError(t, err)
		assert.Nil(t, job)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("begin error surfaces", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectBeginTx(pgx.TxOptions{}).WillReturnError(assert.AnError)

		repo := postgres.NewHandleQueueRepo(m)
		_, err = repo.FetchNext(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=run_queue.fetchNext")
		require.NoError(t, m.ExpectationsWereMet())
	})
}

func TestHandleQueueRepo_MarkRetry(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	next := time.Now().Add(30 * time.Minute)
	longErr := strings.Repeat("x", 1500)
	m.ExpectExec("UPDATE run_queue").
		WithArgs(2, next, strings.Repeat("x", 1000), int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := postgres.NewHandleQueueRepo(m)
	require.NoError(t, repo.MarkRetry(context.Background(), 11, 2, next, longErr))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestHandleQueueRepo_MarkSuccess(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	m.ExpectExec("UPDATE run_queue SET status='done'").
		WithArgs(int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := postgres.NewHandleQueueRepo(m)
	require.NoError(t, repo.MarkSuccess(context.Background(), 11))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestHandleQueueRepo_MarkFailed(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	m.ExpectExec("UPDATE run_queue SET status='failed'").
		WithArgs("boom", int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := postgres.NewHandleQueueRepo(m)
	require.NoError(t, repo.MarkFailed(context.Background(), 11, "boom"))
	require.NoError(t, m.ExpectationsWereMet())
}
