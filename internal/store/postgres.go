package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriru-app/oriru-core/internal/alert"
)

// Postgres is the pgxpool-backed Store. Statements are prepared on every new
// connection; parse overhead is paid once per connection, not per query.
type Postgres struct {
	pool *pgxpool.Pool
}

// PostgresConfig bounds the connection pool.
type PostgresConfig struct {
	URL         string
	MinConns    int
	MaxConns    int
	MaxConnLife time.Duration
}

// NewPostgres creates and validates the pool and ensures the schema exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MaxConnLife > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLife
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := ensureSchema(ctx, cfg.URL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// ensureSchema applies the DDL on a plain connection, before the prepared
// statements (which reference the tables) are registered.
func ensureSchema(ctx context.Context, url string) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())
	_, err = conn.Exec(ctx, schemaPostgres)
	return err
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS stations (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	lines         TEXT NOT NULL DEFAULT '',
	favorite      BOOLEAN NOT NULL DEFAULT FALSE,
	last_used_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS alerts (
	id               UUID PRIMARY KEY,
	station_id       UUID NOT NULL REFERENCES stations(id),
	mode             TEXT NOT NULL,
	lead_minutes     INTEGER NOT NULL DEFAULT 0,
	target_arrival   TIMESTAMPTZ,
	threshold_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
	stop_count       INTEGER NOT NULL DEFAULT 0,
	snooze_seconds   BIGINT NOT NULL DEFAULT 0,
	snooze_ceiling   INTEGER NOT NULL DEFAULT 0,
	persona          TEXT NOT NULL,
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	repeating        BOOLEAN NOT NULL DEFAULT FALSE,
	pattern          TEXT NOT NULL DEFAULT 'none',
	weekdays         INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts (active);

CREATE TABLE IF NOT EXISTS history (
	id           UUID PRIMARY KEY,
	alert_id     UUID NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
	message      TEXT NOT NULL,
	delivered_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_alert ON history (alert_id, delivered_at DESC);
`

// alertColumns is the canonical column order shared by every alert query.
const alertColumns = `id, station_id, mode, lead_minutes, target_arrival,
	threshold_meters, stop_count, snooze_seconds, snooze_ceiling, persona,
	active, repeating, pattern, weekdays, created_at`

func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		"health_check": "SELECT 1",

		"load_active_alerts": "SELECT " + alertColumns + " FROM alerts WHERE active ORDER BY created_at",
		"get_alert":          "SELECT " + alertColumns + " FROM alerts WHERE id = $1",
		"list_alerts":        "SELECT " + alertColumns + " FROM alerts WHERE active OR $1 ORDER BY created_at",
		"delete_alert":       "DELETE FROM alerts WHERE id = $1",
		"save_alert": `INSERT INTO alerts (` + alertColumns + `)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (id) DO UPDATE SET
				station_id = EXCLUDED.station_id,
				mode = EXCLUDED.mode,
				lead_minutes = EXCLUDED.lead_minutes,
				target_arrival = EXCLUDED.target_arrival,
				threshold_meters = EXCLUDED.threshold_meters,
				stop_count = EXCLUDED.stop_count,
				snooze_seconds = EXCLUDED.snooze_seconds,
				snooze_ceiling = EXCLUDED.snooze_ceiling,
				persona = EXCLUDED.persona,
				active = EXCLUDED.active,
				repeating = EXCLUDED.repeating,
				pattern = EXCLUDED.pattern,
				weekdays = EXCLUDED.weekdays`,

		"get_station":   "SELECT id, name, latitude, longitude, lines, favorite, last_used_at FROM stations WHERE id = $1",
		"list_stations": "SELECT id, name, latitude, longitude, lines, favorite, last_used_at FROM stations ORDER BY name",
		"save_station": `INSERT INTO stations (id, name, latitude, longitude, lines, favorite, last_used_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				lines = EXCLUDED.lines,
				favorite = EXCLUDED.favorite,
				last_used_at = EXCLUDED.last_used_at`,
		"set_favorite":  "UPDATE stations SET favorite = $2 WHERE id = $1",
		"touch_station": "UPDATE stations SET last_used_at = $2 WHERE id = $1",

		"append_history": "INSERT INTO history (id, alert_id, message, delivered_at) VALUES ($1,$2,$3,$4)",
		"list_history":   "SELECT id, alert_id, message, delivered_at FROM history WHERE alert_id = $1 ORDER BY delivered_at DESC LIMIT $2",
		"prune_history":  "DELETE FROM history WHERE delivered_at < $1",
	}
	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Alerts
// --------------------------------------------------------------------------

func (p *Postgres) LoadActiveAlerts(ctx context.Context) ([]alert.Alert, error) {
	rows, err := p.pool.Query(ctx, "load_active_alerts")
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (p *Postgres) GetAlert(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	rows, err := p.pool.Query(ctx, "get_alert", id)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	defer rows.Close()
	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, ErrNotFound
	}
	return &alerts[0], nil
}

func (p *Postgres) ListAlerts(ctx context.Context, includeInactive bool) ([]alert.Alert, error) {
	rows, err := p.pool.Query(ctx, "list_alerts", includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (p *Postgres) SaveAlert(ctx context.Context, a *alert.Alert) error {
	var target *time.Time
	if !a.TargetArrival.IsZero() {
		target = &a.TargetArrival
	}
	_, err := p.pool.Exec(ctx, "save_alert",
		a.ID, a.StationID, string(a.Mode), a.LeadMinutes, target,
		a.ThresholdMeters, a.StopCount, int64(a.SnoozeInterval/time.Second),
		a.SnoozeCeiling, string(a.Persona), a.Active, a.Repeating,
		string(a.Pattern), int(a.Weekdays), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteAlert(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, "delete_alert", id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAlerts(rows pgx.Rows) ([]alert.Alert, error) {
	var out []alert.Alert
	for rows.Next() {
		var (
			a           alert.Alert
			mode        string
			target      *time.Time
			snoozeSecs  int64
			persona     string
			pattern     string
			weekdayMask int
		)
		if err := rows.Scan(&a.ID, &a.StationID, &mode, &a.LeadMinutes, &target,
			&a.ThresholdMeters, &a.StopCount, &snoozeSecs, &a.SnoozeCeiling,
			&persona, &a.Active, &a.Repeating, &pattern, &weekdayMask,
			&a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Mode = alert.TriggerMode(mode)
		if target != nil {
			a.TargetArrival = *target
		}
		a.SnoozeInterval = time.Duration(snoozeSecs) * time.Second
		a.Persona = alert.Persona(persona)
		a.Pattern = alert.RepeatPattern(pattern)
		a.Weekdays = alert.WeekdaySet(weekdayMask)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// Stations
// --------------------------------------------------------------------------

func (p *Postgres) GetStation(ctx context.Context, id uuid.UUID) (*alert.Station, error) {
	s, err := scanStation(p.pool.QueryRow(ctx, "get_station", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get station: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListStations(ctx context.Context) ([]alert.Station, error) {
	rows, err := p.pool.Query(ctx, "list_stations")
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var out []alert.Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveStation(ctx context.Context, s *alert.Station) error {
	var lastUsed *time.Time
	if !s.LastUsedAt.IsZero() {
		lastUsed = &s.LastUsedAt
	}
	_, err := p.pool.Exec(ctx, "save_station",
		s.ID, s.Name, s.Latitude, s.Longitude, joinLines(s.Lines), s.Favorite, lastUsed)
	if err != nil {
		return fmt.Errorf("save station: %w", err)
	}
	return nil
}

func (p *Postgres) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	tag, err := p.pool.Exec(ctx, "set_favorite", id, favorite)
	if err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchStation(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, "touch_station", id, usedAt)
	if err != nil {
		return fmt.Errorf("touch station: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (*alert.Station, error) {
	var (
		s        alert.Station
		lines    string
		lastUsed *time.Time
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Latitude, &s.Longitude, &lines,
		&s.Favorite, &lastUsed); err != nil {
		return nil, err
	}
	s.Lines = splitLines(lines)
	if lastUsed != nil {
		s.LastUsedAt = *lastUsed
	}
	return &s, nil
}

// --------------------------------------------------------------------------
// History
// --------------------------------------------------------------------------

func (p *Postgres) AppendHistory(ctx context.Context, h *alert.History) error {
	_, err := p.pool.Exec(ctx, "append_history", h.ID, h.AlertID, h.Message, h.DeliveredAt)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (p *Postgres) ListHistory(ctx context.Context, alertID uuid.UUID, limit int) ([]alert.History, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, "list_history", alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []alert.History
	for rows.Next() {
		var h alert.History
		if err := rows.Scan(&h.ID, &h.AlertID, &h.Message, &h.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *Postgres) PruneHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, "prune_history", olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	var n int
	return p.pool.QueryRow(ctx, "health_check").Scan(&n)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
