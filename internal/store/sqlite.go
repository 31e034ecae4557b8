package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/oriru-app/oriru-core/internal/alert"
)

// SQLite is the single-file Store for development and single-node hosts.
// Timestamps are stored as RFC 3339 text in UTC.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and ensures the
// schema exists. WAL keeps the monitoring loop's writes from blocking API
// reads.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schemaSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS stations (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	latitude     REAL NOT NULL,
	longitude    REAL NOT NULL,
	lines        TEXT NOT NULL DEFAULT '',
	favorite     INTEGER NOT NULL DEFAULT 0,
	last_used_at TEXT
);

CREATE TABLE IF NOT EXISTS alerts (
	id               TEXT PRIMARY KEY,
	station_id       TEXT NOT NULL REFERENCES stations(id),
	mode             TEXT NOT NULL,
	lead_minutes     INTEGER NOT NULL DEFAULT 0,
	target_arrival   TEXT,
	threshold_meters REAL NOT NULL DEFAULT 0,
	stop_count       INTEGER NOT NULL DEFAULT 0,
	snooze_seconds   INTEGER NOT NULL DEFAULT 0,
	snooze_ceiling   INTEGER NOT NULL DEFAULT 0,
	persona          TEXT NOT NULL,
	active           INTEGER NOT NULL DEFAULT 1,
	repeating        INTEGER NOT NULL DEFAULT 0,
	pattern          TEXT NOT NULL DEFAULT 'none',
	weekdays         INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts (active);

CREATE TABLE IF NOT EXISTS history (
	id           TEXT PRIMARY KEY,
	alert_id     TEXT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
	message      TEXT NOT NULL,
	delivered_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_alert ON history (alert_id, delivered_at DESC);
`

const sqliteAlertColumns = `id, station_id, mode, lead_minutes, target_arrival,
	threshold_meters, stop_count, snooze_seconds, snooze_ceiling, persona,
	active, repeating, pattern, weekdays, created_at`

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --------------------------------------------------------------------------
// Alerts
// --------------------------------------------------------------------------

func (s *SQLite) LoadActiveAlerts(ctx context.Context) ([]alert.Alert, error) {
	return s.queryAlerts(ctx,
		"SELECT "+sqliteAlertColumns+" FROM alerts WHERE active = 1 ORDER BY created_at")
}

func (s *SQLite) GetAlert(ctx context.Context, id uuid.UUID) (*alert.Alert, error) {
	alerts, err := s.queryAlerts(ctx,
		"SELECT "+sqliteAlertColumns+" FROM alerts WHERE id = ?", id.String())
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, ErrNotFound
	}
	return &alerts[0], nil
}

func (s *SQLite) ListAlerts(ctx context.Context, includeInactive bool) ([]alert.Alert, error) {
	if includeInactive {
		return s.queryAlerts(ctx,
			"SELECT "+sqliteAlertColumns+" FROM alerts ORDER BY created_at")
	}
	return s.LoadActiveAlerts(ctx)
}

func (s *SQLite) queryAlerts(ctx context.Context, query string, args ...any) ([]alert.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		var (
			a           alert.Alert
			id, station string
			mode        string
			target      sql.NullString
			snoozeSecs  int64
			persona     string
			pattern     string
			weekdayMask int
			createdAt   string
		)
		if err := rows.Scan(&id, &station, &mode, &a.LeadMinutes, &target,
			&a.ThresholdMeters, &a.StopCount, &snoozeSecs, &a.SnoozeCeiling,
			&persona, &a.Active, &a.Repeating, &pattern, &weekdayMask,
			&createdAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse alert id %q: %w", id, err)
		}
		a.StationID, err = uuid.Parse(station)
		if err != nil {
			return nil, fmt.Errorf("parse station id %q: %w", station, err)
		}
		a.Mode = alert.TriggerMode(mode)
		if target.Valid {
			a.TargetArrival = parseTime(target.String)
		}
		a.SnoozeInterval = time.Duration(snoozeSecs) * time.Second
		a.Persona = alert.Persona(persona)
		a.Pattern = alert.RepeatPattern(pattern)
		a.Weekdays = alert.WeekdaySet(weekdayMask)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveAlert(ctx context.Context, a *alert.Alert) error {
	var target any
	if !a.TargetArrival.IsZero() {
		target = fmtTime(a.TargetArrival)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+sqliteAlertColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			station_id = excluded.station_id,
			mode = excluded.mode,
			lead_minutes = excluded.lead_minutes,
			target_arrival = excluded.target_arrival,
			threshold_meters = excluded.threshold_meters,
			stop_count = excluded.stop_count,
			snooze_seconds = excluded.snooze_seconds,
			snooze_ceiling = excluded.snooze_ceiling,
			persona = excluded.persona,
			active = excluded.active,
			repeating = excluded.repeating,
			pattern = excluded.pattern,
			weekdays = excluded.weekdays`,
		a.ID.String(), a.StationID.String(), string(a.Mode), a.LeadMinutes, target,
		a.ThresholdMeters, a.StopCount, int64(a.SnoozeInterval/time.Second),
		a.SnoozeCeiling, string(a.Persona), a.Active, a.Repeating,
		string(a.Pattern), int(a.Weekdays), fmtTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteAlert(ctx context.Context, id uuid.UUID) error {
	// History cascade is explicit here: foreign_keys pragma support varies
	// by connection string, and the cascade must not silently no-op.
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM history WHERE alert_id = ?", id.String()); err != nil {
		return fmt.Errorf("delete alert history: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --------------------------------------------------------------------------
// Stations
// --------------------------------------------------------------------------

func (s *SQLite) GetStation(ctx context.Context, id uuid.UUID) (*alert.Station, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, latitude, longitude, lines, favorite, last_used_at FROM stations WHERE id = ?",
		id.String())
	st, err := scanSQLiteStation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get station: %w", err)
	}
	return st, nil
}

func (s *SQLite) ListStations(ctx context.Context) ([]alert.Station, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, latitude, longitude, lines, favorite, last_used_at FROM stations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var out []alert.Station
	for rows.Next() {
		st, err := scanSQLiteStation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func scanSQLiteStation(row rowScanner) (*alert.Station, error) {
	var (
		st       alert.Station
		id       string
		lines    string
		lastUsed sql.NullString
	)
	if err := row.Scan(&id, &st.Name, &st.Latitude, &st.Longitude, &lines,
		&st.Favorite, &lastUsed); err != nil {
		return nil, err
	}
	var err error
	st.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse station id %q: %w", id, err)
	}
	st.Lines = splitLines(lines)
	if lastUsed.Valid {
		st.LastUsedAt = parseTime(lastUsed.String)
	}
	return &st, nil
}

func (s *SQLite) SaveStation(ctx context.Context, st *alert.Station) error {
	var lastUsed any
	if !st.LastUsedAt.IsZero() {
		lastUsed = fmtTime(st.LastUsedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations (id, name, latitude, longitude, lines, favorite, last_used_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			lines = excluded.lines,
			favorite = excluded.favorite,
			last_used_at = excluded.last_used_at`,
		st.ID.String(), st.Name, st.Latitude, st.Longitude,
		joinLines(st.Lines), st.Favorite, lastUsed)
	if err != nil {
		return fmt.Errorf("save station: %w", err)
	}
	return nil
}

func (s *SQLite) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE stations SET favorite = ? WHERE id = ?", favorite, id.String())
	if err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) TouchStation(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE stations SET last_used_at = ? WHERE id = ?", fmtTime(usedAt), id.String())
	if err != nil {
		return fmt.Errorf("touch station: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --------------------------------------------------------------------------
// History
// --------------------------------------------------------------------------

func (s *SQLite) AppendHistory(ctx context.Context, h *alert.History) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO history (id, alert_id, message, delivered_at) VALUES (?,?,?,?)",
		h.ID.String(), h.AlertID.String(), h.Message, fmtTime(h.DeliveredAt))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *SQLite) ListHistory(ctx context.Context, alertID uuid.UUID, limit int) ([]alert.History, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, alert_id, message, delivered_at FROM history WHERE alert_id = ? ORDER BY delivered_at DESC LIMIT ?",
		alertID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []alert.History
	for rows.Next() {
		var (
			h           alert.History
			id, aid     string
			deliveredAt string
		)
		if err := rows.Scan(&id, &aid, &h.Message, &deliveredAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse history id %q: %w", id, err)
		}
		h.AlertID, err = uuid.Parse(aid)
		if err != nil {
			return nil, fmt.Errorf("parse history alert id %q: %w", aid, err)
		}
		h.DeliveredAt = parseTime(deliveredAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLite) PruneHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM history WHERE delivered_at < ?", fmtTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
