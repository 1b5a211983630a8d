package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedmehq/feedme-worker/internal/adapter/repo/postgres"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

func TestSnapshotRepo_Upsert(t *testing.T) {
	t.Parallel()

	postedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	url := "https://www.instagram.com/p/AbC123/"
	views := int64(1200)
	likes := int64(300)

	t.Run("first write creates the row and fills the triple", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectQuery("INSERT INTO post_snapshots").
			WithArgs(int64(7), "@acme", url, pgxmock.AnyArg(), &postedAt).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
		m.ExpectExec("UPDATE post_snapshots").
			WithArgs(pgxmock.AnyArg(), &views, &likes, (*int64)(nil), int64(42)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := postgres.NewSnapshotRepo(m)
		err = repo.Upsert(context.Background(), 7, "@acme", url, "Reel", &postedAt, domain.CheckpointD1, &views, &likes, nil)
		require.NoError(t, err)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("existing row is resolved by key and refreshed", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectQuery("INSERT INTO post_snapshots").
			WithArgs(int64(7), "@acme", url, pgxmock.AnyArg(), &postedAt).
			WillReturnError(pgx.ErrNoRows)
		m.ExpectQuery("SELECT id FROM post_snapshots").
			WithArgs(int64(7), "@acme", url).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
		m.ExpectExec("UPDATE post_snapshots").
			WithArgs(pgxmock.AnyArg(), &views, &likes, (*int64)(nil), int64(42)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := postgres.NewSnapshotRepo(m)
		err = repo.Upsert(context.Background(), 7, "@acme", url, "Reel", &postedAt, domain.CheckpointD7, &views, &likes, nil)
		require.NoError(t, err)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("unknown checkpoint is rejected", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		repo := postgres.NewSnapshotRepo(m)
		err = repo.Upsert(context.Background(), 7, "@acme", url, "Reel", &postedAt, domain.Checkpoint("d2"), &views, &likes, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		require.NoError(t, m.ExpectationsWereMet())
	})
}

func TestSnapshotRepo_Get(t *testing.T) {
	t.Parallel()

	url := "https://www.instagram.com/p/AbC123/"

	t.Run("not found maps to the domain sentinel", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectQuery("FROM post_snapshots").
			WithArgs(int64(7), "@acme", url).
			WillReturnError(pgx.ErrNoRows)

		repo := postgres.NewSnapshotRepo(m)
		_, err = repo.Get(context.Background(), 7, "@acme", url)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		require.NoError(t, m.ExpectationsWereMet())
	})
}

func TestSnapshotRepo_CohortRows(t *testing.T) {
	t.Parallel()

	t.Run("returns peer triples", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		v1, v2 := int64(100), int64(200)
		m.ExpectQuery("FROM post_snapshots").
			WithArgs(int64(7), "@acme").
			WillReturnRows(pgxmock.NewRows([]string{"media_type", "views", "likes", "comments"}).
				AddRow("Reel", &v1, nil, nil).
				AddRow("Image", &v2, nil, nil))

		repo := postgres.NewSnapshotRepo(m)
		rows, err := repo.CohortRows(context.Background(), 7, "@acme", domain.CheckpointD3)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Reel", rows[0].MediaType)
		require.NotNil(t, rows[1].Views)
		assert.Equal(t, int64(200), *rows[1].Views)
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("unknown checkpoint is rejected", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		repo := postgres.NewSnapshotRepo(m)
		_, err = repo.CohortRows(context.Background(), 7, "@acme", domain.Checkpoint("weekly"))
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		require.NoError(t, m.ExpectationsWereMet())
	})
}
