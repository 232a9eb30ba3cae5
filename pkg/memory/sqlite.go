package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iagenerativa/hlcs/pkg/config"
	"github.com/iagenerativa/hlcs/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id            TEXT PRIMARY KEY,
	ts            INTEGER NOT NULL,
	session_id    TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL DEFAULT '',
	query_text    TEXT NOT NULL,
	answer_text   TEXT NOT NULL,
	strategy_used TEXT NOT NULL DEFAULT '',
	quality       REAL NOT NULL DEFAULT 0,
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'completed',
	metadata      TEXT NOT NULL DEFAULT '{}',
	tier          TEXT NOT NULL DEFAULT 'stm'
);
CREATE INDEX IF NOT EXISTS idx_episodes_session_ts ON episodes(session_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_episodes_tier ON episodes(tier);
`

// SQLiteStore persists episodes in a single-file SQLite database under the
// configured persist directory.
type SQLiteStore struct {
	db  *sql.DB
	cfg config.MemoryConfig
}

// NewSQLite opens (creating if needed) the episode database.
func NewSQLite(cfg config.MemoryConfig) (*SQLiteStore, error) {
	if err := os.MkdirAll(cfg.PersistDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating memory dir: %w", err)
	}
	path := filepath.Join(cfg.PersistDir, "episodes.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening episode database: %w", err)
	}
	// The driver is in-process; one writer avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing episode schema: %w", err)
	}

	slog.Info("Episodic memory opened", "path", path,
		"stm_ttl_hours", cfg.STMTTLHours, "ltm_promotion_threshold", cfg.LTMPromotionThreshold)
	return &SQLiteStore{db: db, cfg: cfg}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, ep models.Episode) error {
	if ep.ID == "" {
		return models.E(models.KindInvalidInput, "episode id is empty")
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now()
	}
	meta, err := json.Marshal(ep.Metadata)
	if err != nil {
		return fmt.Errorf("encoding episode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes
			(id, ts, session_id, user_id, query_text, answer_text,
			 strategy_used, quality, latency_ms, status, metadata, tier)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'stm')`,
		ep.ID, ep.Timestamp.UnixMilli(), ep.SessionID, ep.UserID,
		ep.QueryText, ep.AnswerText, ep.StrategyUsed, ep.Quality,
		ep.LatencyMS, string(ep.Status), string(meta))
	if err != nil {
		return models.Wrap(models.KindBackendUnavailable, "appending episode", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]models.Episode, error) {
	if n < 1 {
		n = 10
	}
	query := `SELECT id, ts, session_id, user_id, query_text, answer_text,
			strategy_used, quality, latency_ms, status, metadata
		FROM episodes`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.Wrap(models.KindBackendUnavailable, "querying recent episodes", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

func (s *SQLiteStore) Search(ctx context.Context, queryText string, f Filters) ([]models.Episode, error) {
	limit := f.Limit
	if limit < 1 {
		limit = 20
	}

	var b strings.Builder
	b.WriteString(`SELECT id, ts, session_id, user_id, query_text, answer_text,
			strategy_used, quality, latency_ms, status, metadata
		FROM episodes WHERE query_text LIKE ?`)
	args := []any{"%" + queryText + "%"}
	if f.SessionID != "" {
		b.WriteString(" AND session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.UserID != "" {
		b.WriteString(" AND user_id = ?")
		args = append(args, f.UserID)
	}
	if f.MinQuality > 0 {
		b.WriteString(" AND quality >= ?")
		args = append(args, f.MinQuality)
	}
	b.WriteString(" ORDER BY ts DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, models.Wrap(models.KindBackendUnavailable, "searching episodes", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// Consolidate promotes short-term episodes whose quality clears the
// promotion threshold and deletes the rest once the TTL has elapsed.
func (s *SQLiteStore) Consolidate(ctx context.Context) (ConsolidateResult, error) {
	var res ConsolidateResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, models.Wrap(models.KindBackendUnavailable, "starting consolidation", err)
	}
	defer tx.Rollback()

	promoted, err := tx.ExecContext(ctx,
		`UPDATE episodes SET tier = 'ltm' WHERE tier = 'stm' AND quality >= ?`,
		s.cfg.LTMPromotionThreshold)
	if err != nil {
		return res, models.Wrap(models.KindBackendUnavailable, "promoting episodes", err)
	}

	cutoff := time.Now().Add(-time.Duration(s.cfg.STMTTLHours) * time.Hour).UnixMilli()
	expired, err := tx.ExecContext(ctx,
		`DELETE FROM episodes WHERE tier = 'stm' AND ts < ?`, cutoff)
	if err != nil {
		return res, models.Wrap(models.KindBackendUnavailable, "expiring episodes", err)
	}

	if err := tx.Commit(); err != nil {
		return res, models.Wrap(models.KindBackendUnavailable, "committing consolidation", err)
	}

	p, _ := promoted.RowsAffected()
	e, _ := expired.RowsAffected()
	res.Promoted = int(p)
	res.Expired = int(e)
	if res.Promoted > 0 || res.Expired > 0 {
		slog.Info("Memory consolidated", "promoted", res.Promoted, "expired", res.Expired)
	}
	return res, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEpisodes(rows *sql.Rows) ([]models.Episode, error) {
	var out []models.Episode
	for rows.Next() {
		var (
			ep     models.Episode
			ts     int64
			status string
			meta   string
		)
		if err := rows.Scan(&ep.ID, &ts, &ep.SessionID, &ep.UserID,
			&ep.QueryText, &ep.AnswerText, &ep.StrategyUsed,
			&ep.Quality, &ep.LatencyMS, &status, &meta); err != nil {
			return nil, fmt.Errorf("scanning episode row: %w", err)
		}
		ep.Timestamp = time.UnixMilli(ts)
		ep.Status = models.EpisodeStatus(status)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &ep.Metadata); err != nil {
				return nil, fmt.Errorf("decoding episode metadata: %w", err)
			}
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}
