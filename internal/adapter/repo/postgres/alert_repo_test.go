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

func TestAlertRepo_Insert(t *testing.T) {
	t.Parallel()

	feeder := int64(3)
	cand := domain.AlertCandidate{
		FeedID:        1,
		FeederID:      &feeder,
		UITab:         "velocity",
		Category:      "velocity",
		Color:         domain.AlertColorVelocity,
		Urgency:       "now",
		Family:        "velocity",
		Type:          "velocity_spike",
		Impact:        0.9,
		Confidence:    0.8,
		Freshness:     0.95,
		Novelty:       0.75,
		Actionability: 0.9,
		Title:         "Post is taking off",
		Body:          "velocity 4.20/hr",
		Payload:       map[string]any{"post_url": "https://www.instagram.com/p/aaa/"},
	}

	t.Run("persists candidate with computed scores", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectExec("INSERT INTO alert_candidates").
			WithArgs(
				int64(1), &feeder, "velocity", "velocity", domain.AlertColorVelocity, "now",
				pgxmock.AnyArg(), "velocity", "velocity_spike", cand.Priority(),
				0.9, 0.8, 0.95, 0.75, 0.9, "Post is taking off", "velocity 4.20/hr", pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := postgres.NewAlertRepo(m)
		require.NoError(t, repo.Insert(context.Background(), cand))
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("duplicate within the window inserts nothing", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectExec("INSERT INTO alert_candidates").
			WithArgs(
				int64(1), &feeder, "velocity", "velocity", domain.AlertColorVelocity, "now",
				pgxmock.AnyArg(), "velocity", "velocity_spike", cand.Priority(),
				0.9, 0.8, 0.95, 0.75, 0.9, "Post is taking off", "velocity 4.20/hr", pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		repo := postgres.NewAlertRepo(m)
		require.NoError(t, repo.Insert(context.Background(), cand))
		require.NoError(t, m.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		t.Parallel()
		m, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer m.Close()

		m.ExpectExec("INSERT INTO alert_candidates").
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(assert.AnError)

		repo := postgres.NewAlertRepo(m)
		err = repo.Insert(context.Background(), cand)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=alerts.insert")
		require.NoError(t, m.ExpectationsWereMet())
	})
}

func TestAlertRepo_RecentTypes(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	m.ExpectQuery("SELECT alert_type").
		WithArgs(int64(1), "24").
		WillReturnRows(pgxmock.NewRows([]string{"alert_type"}).
			AddRow("velocity_spike").
			AddRow("timing_gap").
			AddRow("velocity_spike"))

	repo := postgres.NewAlertRepo(m)
	types, err := repo.RecentTypes(context.Background(), 1, 24)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"velocity_spike": true, "timing_gap": true}, types)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAlertRepo_EngineState(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	hot := time.Now().Add(-2 * time.Hour)
	m.ExpectQuery("INSERT INTO alert_engine_state").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"feed_id", "last_hot_scan_at", "last_pattern_scan_at"}).
			AddRow(int64(1), &hot, nil))

	repo := postgres.NewAlertRepo(m)
	state, err := repo.EngineState(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.FeedID)
	require.NotNil(t, state.LastHotScanAt)
	assert.Nil(t, state.LastPatternScanAt)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAlertRepo_MarkScan(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	at := time.Now()
	m.ExpectExec("INSERT INTO alert_engine_state").
		WithArgs(int64(1), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := postgres.NewAlertRepo(m)
	require.NoError(t, repo.MarkScan(context.Background(), 1, at))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAlertRepo_MomentumDrops(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	feeder := int64(3)
	m.ExpectQuery("WITH d1 AS").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"feeder_id", "handle", "post_url", "v1", "v2"}).
			AddRow(&feeder, "@acme", "https://www.instagram.com/p/aaa/", 10.0, 4.0))

	repo := postgres.NewAlertRepo(m)
	drops, err := repo.MomentumDrops(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, drops, 1)
	assert.Equal(t, 10.0, drops[0].V1)
	assert.Equal(t, 4.0, drops[0].V2)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAlertRepo_PersonalRecord_NoRows(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	m.ExpectQuery("WITH recent_window AS").
		WithArgs(int64(1)).
		WillReturnError(pgx.ErrNoRows)

	repo := postgres.NewAlertRepo(m)
	rec, err := repo.PersonalRecord(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAlertRepo_TimingGap(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	m.ExpectQuery("FROM posts_core").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"dow", "n"}).AddRow(2, 1))

	repo := postgres.NewAlertRepo(m)
	gap, err := repo.TimingGap(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, gap)
	assert.Equal(t, 2, gap.DayOfWeek)
	assert.Equal(t, 1, gap.N)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestAlertRepo_RecentEmbeddings(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	feeder := int64(3)
	m.ExpectQuery("FROM post_embeddings").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"feeder_id", "handle", "post_url", "embedding_json"}).
			AddRow(&feeder, "@acme", "https://www.instagram.com/p/aaa/", []byte(`[0.1,0.2,0.3]`)).
			AddRow(&feeder, "@acme", "https://www.instagram.com/p/bbb/", []byte(`not json`)))

	repo := postgres.NewAlertRepo(m)
	rows, err := repo.RecentEmbeddings(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, rows[0].Vector)
	require.NoError(t, m.ExpectationsWereMet())
}
