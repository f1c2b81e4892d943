// Package store persists break preferences, feedback, emissions and
// wellness samples.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"go.uber.org/zap"
)

// Postgres wraps a PostgreSQL connection pool.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

var (
	_ breaks.PreferenceStore = (*Postgres)(nil)
	_ wellness.SampleStore   = (*Postgres)(nil)
)

// NewPostgres connects and pings the database.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate executes every *.up.sql file in migrationsDir in name order.
// Statements are idempotent so the whole set runs on each start.
func (s *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

func (s *Postgres) LoadWeights(ctx context.Context) (map[breaks.BreakType]float64, error) {
	rows, err := s.db.Query(ctx, `SELECT break_type, weight FROM break_weights`)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	defer rows.Close()

	out := make(map[breaks.BreakType]float64)
	for rows.Next() {
		var t string
		var w float64
		if err := rows.Scan(&t, &w); err != nil {
			return nil, fmt.Errorf("scan weight: %w", err)
		}
		out[breaks.BreakType(t)] = w
	}
	return out, rows.Err()
}

func (s *Postgres) SaveWeight(ctx context.Context, t breaks.BreakType, weight float64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO break_weights (break_type, weight, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (break_type) DO UPDATE SET
			weight = EXCLUDED.weight,
			updated_at = EXCLUDED.updated_at`,
		string(t), weight)
	if err != nil {
		return fmt.Errorf("save weight %s: %w", t, err)
	}
	return nil
}

func (s *Postgres) AppendFeedback(ctx context.Context, f breaks.Feedback) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO break_feedback
			(suggestion_id, break_type, ts, accepted, completed, effectiveness_rating, energy_level_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.SuggestionID, string(f.BreakType), f.Timestamp, f.Accepted, f.Completed,
		f.EffectivenessRating, f.EnergyLevelAfter)
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (s *Postgres) LoadFeedback(ctx context.Context, since time.Time) ([]breaks.Feedback, error) {
	rows, err := s.db.Query(ctx, `
		SELECT suggestion_id, break_type, ts, accepted, completed, effectiveness_rating, energy_level_after
		FROM break_feedback WHERE ts >= $1 ORDER BY ts, id`, since)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	defer rows.Close()

	var out []breaks.Feedback
	for rows.Next() {
		var (
			f      breaks.Feedback
			t      string
			eff, e *int16
		)
		if err := rows.Scan(&f.SuggestionID, &t, &f.Timestamp, &f.Accepted, &f.Completed, &eff, &e); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.BreakType = breaks.BreakType(t)
		f.EffectivenessRating = intPtr(eff)
		f.EnergyLevelAfter = intPtr(e)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Postgres) AppendEmission(ctx context.Context, e breaks.Emission) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO break_emissions (suggestion_id, break_type, ts) VALUES ($1, $2, $3)`,
		e.SuggestionID, string(e.BreakType), e.Timestamp)
	if err != nil {
		return fmt.Errorf("append emission: %w", err)
	}
	return nil
}

func (s *Postgres) LoadEmissions(ctx context.Context, since time.Time) ([]breaks.Emission, error) {
	rows, err := s.db.Query(ctx, `
		SELECT suggestion_id, break_type, ts FROM break_emissions
		WHERE ts >= $1 ORDER BY ts, id`, since)
	if err != nil {
		return nil, fmt.Errorf("load emissions: %w", err)
	}
	defer rows.Close()

	var out []breaks.Emission
	for rows.Next() {
		var e breaks.Emission
		var t string
		if err := rows.Scan(&e.SuggestionID, &t, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan emission: %w", err)
		}
		e.BreakType = breaks.BreakType(t)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) SaveSample(ctx context.Context, sample wellness.Sample) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO wellness_samples (ts, score, components) VALUES ($1, $2, $3)`,
		sample.Timestamp, sample.Score, sample.Components)
	if err != nil {
		return fmt.Errorf("save sample: %w", err)
	}
	return nil
}

func (s *Postgres) LoadSamples(ctx context.Context, since time.Time) ([]wellness.Sample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ts, score, components FROM wellness_samples
		WHERE ts >= $1 ORDER BY ts, id`, since)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	var out []wellness.Sample
	for rows.Next() {
		var sample wellness.Sample
		if err := rows.Scan(&sample.Timestamp, &sample.Score, &sample.Components); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func intPtr(v *int16) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}
