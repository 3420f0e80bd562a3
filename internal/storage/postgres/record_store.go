// Package postgres provides Postgres-backed record and run persistence.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string
	Table           string
	RunsTable       string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes records and run summaries into Postgres.
type Store struct {
	pool      execCloser
	table     string
	runsTable string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table, cfg.RunsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, runsTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "media_records"
	}
	if runsTable == "" {
		runsTable = "harvest_runs"
	}
	for _, name := range []string{table, runsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &Store{pool: pool, table: table, runsTable: runsTable}, nil
}

// EnsureSchema creates the record and run tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	records := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	global_id            TEXT PRIMARY KEY,
	tmdb_id              BIGINT NOT NULL,
	media_type           TEXT NOT NULL,
	title                TEXT NOT NULL,
	original_title       TEXT,
	year                 TEXT,
	release_date         TEXT,
	runtime              INTEGER,
	poster_url           TEXT,
	backdrop_url         TEXT,
	homepage             TEXT,
	imdb_rating          DOUBLE PRECISION,
	imdb_votes           BIGINT,
	imdb_metascore       DOUBLE PRECISION,
	tmdb_vote_average    DOUBLE PRECISION,
	tmdb_vote_count      BIGINT,
	tmdb_popularity      DOUBLE PRECISION,
	genres               TEXT[] NOT NULL,
	overview             TEXT,
	tagline              TEXT,
	budget               BIGINT,
	revenue              BIGINT,
	adult                BOOLEAN NOT NULL DEFAULT FALSE,
	original_language    TEXT,
	status               TEXT,
	origin_country       TEXT[] NOT NULL,
	production_companies TEXT[] NOT NULL,
	production_countries TEXT[] NOT NULL,
	spoken_languages     TEXT[] NOT NULL,
	cast_names           TEXT[] NOT NULL,
	crew_names           TEXT[] NOT NULL,
	keywords             TEXT[] NOT NULL,
	trailer_url          TEXT,
	detail_url           TEXT,
	run_id               TEXT NOT NULL,
	scraped_at           TIMESTAMPTZ NOT NULL
)`, s.table)
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	summary     JSONB
)`, s.runsTable)
	for _, stmt := range []string{records, runs} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Write inserts record. A global_id already stored (from this or an
// earlier run) is left untouched.
func (s *Store) Write(ctx context.Context, record crawler.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if record.GlobalID == "" {
		return fmt.Errorf("record global_id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	global_id, tmdb_id, media_type, title, original_title, year, release_date,
	runtime, poster_url, backdrop_url, homepage, imdb_rating, imdb_votes,
	imdb_metascore, tmdb_vote_average, tmdb_vote_count, tmdb_popularity, genres,
	overview, tagline, budget, revenue, adult, original_language, status,
	origin_country, production_companies, production_countries, spoken_languages,
	cast_names, crew_names, keywords, trailer_url, detail_url, run_id, scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
	$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36
) ON CONFLICT (global_id) DO NOTHING`, s.table)

	if _, err := s.pool.Exec(ctx, query, recordArgs(record)...); err != nil {
		return fmt.Errorf("insert record %s: %w", record.GlobalID, err)
	}
	return nil
}

func recordArgs(r crawler.Record) []any {
	return []any{
		r.GlobalID, r.TMDBID, r.MediaType, r.Title, r.OriginalTitle, r.Year, r.ReleaseDate,
		r.Runtime, r.PosterURL, r.BackdropURL, r.Homepage, r.IMDbRating, r.IMDbVotes,
		r.IMDbMetascore, r.TMDBVoteAverage, r.TMDBVoteCount, r.TMDBPopularity, r.Genres,
		r.Overview, r.Tagline, r.Budget, r.Revenue, r.Adult, r.OriginalLanguage, r.Status,
		r.OriginCountry, r.ProductionCompanies, r.ProductionCountries, r.SpokenLanguages,
		r.Cast, r.Crew, r.Keywords, r.TrailerURL, r.DetailURL, r.RunID, r.ScrapedAt,
	}
}

// StartRun records the beginning of a harvest run.
func (s *Store) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at)
VALUES ($1, $2)
ON CONFLICT (run_id) DO NOTHING`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt); err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the final summary of a run.
func (s *Store) FinishRun(ctx context.Context, summary crawler.Summary, finishedAt time.Time) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET finished_at = $2, summary = $3
WHERE run_id = $1`, s.runsTable)
	tag, err := s.pool.Exec(ctx, query, summary.RunID, finishedAt, payload)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", summary.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("finish run: no run row for " + summary.RunID)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
