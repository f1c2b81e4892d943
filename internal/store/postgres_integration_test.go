//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// startPostgres starts a PostgreSQL testcontainer and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("nudge_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres")
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "pg connection string")
	return dsn
}

func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := NewPostgres(ctx, startPostgres(t), zap.NewNop())
	require.NoError(t, err)
	defer pg.Close()
	require.NoError(t, pg.Migrate(ctx, "../../migrations/postgres"))
	// Migrations are idempotent.
	require.NoError(t, pg.Migrate(ctx, "../../migrations/postgres"))

	three := 3
	require.NoError(t, pg.SaveWeight(ctx, breaks.StretchBreak, 1.3))
	require.NoError(t, pg.SaveWeight(ctx, breaks.StretchBreak, 1.4))
	require.NoError(t, pg.AppendFeedback(ctx, breaks.Feedback{
		SuggestionID: "s1", BreakType: breaks.StretchBreak, Timestamp: t0,
		Accepted: true, Completed: false, EnergyLevelAfter: &three,
	}))
	require.NoError(t, pg.AppendEmission(ctx, breaks.Emission{SuggestionID: "s1", BreakType: breaks.StretchBreak, Timestamp: t0}))
	require.NoError(t, pg.SaveSample(ctx, wellness.Sample{Timestamp: t0, Score: 71, Components: map[string]float64{wellness.SystemUsage: 90}}))

	w, err := pg.LoadWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.4, w[breaks.StretchBreak])

	fb, err := pg.LoadFeedback(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.Nil(t, fb[0].EffectivenessRating)
	require.NotNil(t, fb[0].EnergyLevelAfter)
	assert.Equal(t, 3, *fb[0].EnergyLevelAfter)

	em, err := pg.LoadEmissions(ctx, t0)
	require.NoError(t, err)
	assert.Len(t, em, 1)

	samples, err := pg.LoadSamples(ctx, t0.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 90.0, samples[0].Components[wellness.SystemUsage])
}
