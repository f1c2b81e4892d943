package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nidhogg/nudge-coach/internal/breaks"
	"github.com/nidhogg/nudge-coach/internal/wellness"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var openDB = sql.Open

// SQLite is the single-file local store used when no PostgreSQL DSN is
// configured. Timestamps are stored as Unix nanoseconds.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ breaks.PreferenceStore = (*SQLite)(nil)
	_ wellness.SampleStore   = (*SQLite)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS break_weights (
	break_type TEXT PRIMARY KEY,
	weight     REAL NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS break_feedback (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	suggestion_id        TEXT NOT NULL DEFAULT '',
	break_type           TEXT NOT NULL,
	ts                   INTEGER NOT NULL,
	accepted             INTEGER NOT NULL,
	completed            INTEGER NOT NULL,
	effectiveness_rating INTEGER,
	energy_level_after   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_break_feedback_ts ON break_feedback(ts);
CREATE TABLE IF NOT EXISTS break_emissions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	suggestion_id TEXT NOT NULL,
	break_type    TEXT NOT NULL,
	ts            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_break_emissions_ts ON break_emissions(ts);
CREATE TABLE IF NOT EXISTS wellness_samples (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         INTEGER NOT NULL,
	score      REAL NOT NULL,
	components TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wellness_samples_ts ON wellness_samples(ts);
`

// NewSQLite opens (creating if needed) the database at path and applies the
// schema.
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	logger.Info("SQLite opened", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) LoadWeights(ctx context.Context) (map[breaks.BreakType]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT break_type, weight FROM break_weights`)
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

func (s *SQLite) SaveWeight(ctx context.Context, t breaks.BreakType, weight float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO break_weights (break_type, weight, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(break_type) DO UPDATE SET weight = excluded.weight, updated_at = excluded.updated_at`,
		string(t), weight, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save weight %s: %w", t, err)
	}
	return nil
}

func (s *SQLite) AppendFeedback(ctx context.Context, f breaks.Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO break_feedback
			(suggestion_id, break_type, ts, accepted, completed, effectiveness_rating, energy_level_after)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.SuggestionID, string(f.BreakType), f.Timestamp.UnixNano(), f.Accepted, f.Completed,
		nullInt(f.EffectivenessRating), nullInt(f.EnergyLevelAfter))
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (s *SQLite) LoadFeedback(ctx context.Context, since time.Time) ([]breaks.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT suggestion_id, break_type, ts, accepted, completed, effectiveness_rating, energy_level_after
		FROM break_feedback WHERE ts >= ? ORDER BY ts, id`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	defer rows.Close()

	var out []breaks.Feedback
	for rows.Next() {
		var (
			f      breaks.Feedback
			t      string
			ts     int64
			eff, e sql.NullInt64
		)
		if err := rows.Scan(&f.SuggestionID, &t, &ts, &f.Accepted, &f.Completed, &eff, &e); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.BreakType = breaks.BreakType(t)
		f.Timestamp = time.Unix(0, ts).UTC()
		f.EffectivenessRating = fromNull(eff)
		f.EnergyLevelAfter = fromNull(e)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendEmission(ctx context.Context, e breaks.Emission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO break_emissions (suggestion_id, break_type, ts) VALUES (?, ?, ?)`,
		e.SuggestionID, string(e.BreakType), e.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("append emission: %w", err)
	}
	return nil
}

func (s *SQLite) LoadEmissions(ctx context.Context, since time.Time) ([]breaks.Emission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT suggestion_id, break_type, ts FROM break_emissions
		WHERE ts >= ? ORDER BY ts, id`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("load emissions: %w", err)
	}
	defer rows.Close()

	var out []breaks.Emission
	for rows.Next() {
		var (
			e  breaks.Emission
			t  string
			ts int64
		)
		if err := rows.Scan(&e.SuggestionID, &t, &ts); err != nil {
			return nil, fmt.Errorf("scan emission: %w", err)
		}
		e.BreakType = breaks.BreakType(t)
		e.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveSample(ctx context.Context, sample wellness.Sample) error {
	components, err := json.Marshal(sample.Components)
	if err != nil {
		return fmt.Errorf("encode components: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wellness_samples (ts, score, components) VALUES (?, ?, ?)`,
		sample.Timestamp.UnixNano(), sample.Score, string(components))
	if err != nil {
		return fmt.Errorf("save sample: %w", err)
	}
	return nil
}

func (s *SQLite) LoadSamples(ctx context.Context, since time.Time) ([]wellness.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, score, components FROM wellness_samples
		WHERE ts >= ? ORDER BY ts, id`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	var out []wellness.Sample
	for rows.Next() {
		var (
			sample     wellness.Sample
			ts         int64
			components string
		)
		if err := rows.Scan(&ts, &sample.Score, &components); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(components), &sample.Components); err != nil {
			return nil, fmt.Errorf("decode components: %w", err)
		}
		sample.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, sample)
	}
	return out, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
