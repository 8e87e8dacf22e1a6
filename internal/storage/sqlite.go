package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/probe"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS health_checks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant      TEXT    NOT NULL,
    kind        TEXT    NOT NULL,
    status      TEXT    NOT NULL CHECK(status IN ('up', 'warning', 'down')),
    latency_ms  INTEGER,
    http_status INTEGER,
    error       TEXT    NOT NULL DEFAULT '',
    checked_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checks_target ON health_checks(tenant, kind, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON health_checks(checked_at DESC);

CREATE TABLE IF NOT EXISTS incidents (
    id          TEXT PRIMARY KEY,
    tenant      TEXT NOT NULL,
    kind        TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    ended_at    TEXT,
    duration_ms INTEGER,
    details     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_incidents_target ON incidents(tenant, kind, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_incidents_open ON incidents(tenant, kind) WHERE ended_at IS NULL;
`

// HealthCheck is a stored probe outcome.
type HealthCheck struct {
	ID         int64
	Tenant     string
	Kind       string
	Status     string
	LatencyMs  int64
	HTTPStatus int
	Error      string
	CheckedAt  time.Time
}

// Incident is a stored downtime record. EndedAt and DurationMs are nil
// while the incident is open.
type Incident struct {
	ID         string
	Tenant     string
	Kind       string
	StartedAt  time.Time
	EndedAt    *time.Time
	DurationMs *int64
	Details    string
}

// Descriptor returns the incident's target identity.
func (i Incident) Descriptor() probe.Descriptor {
	return probe.Descriptor{Tenant: i.Tenant, Kind: probe.Kind(i.Kind)}
}

// Buckets counts latency samples per satisfaction bucket.
type Buckets struct {
	Satisfied  int
	Tolerating int
	Frustrated int
	Total      int
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertHealthCheck persists one probe outcome.
func (d *DB) InsertHealthCheck(ctx context.Context, c HealthCheck) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO health_checks (tenant, kind, status, latency_ms, http_status, error, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Tenant, c.Kind, c.Status, c.LatencyMs, c.HTTPStatus, c.Error,
		c.CheckedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting check for %s/%s: %w", c.Tenant, c.Kind, err)
	}
	return nil
}

// LatestChecks returns the most recent stored check per (tenant, kind).
func (d *DB) LatestChecks(ctx context.Context) ([]HealthCheck, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, tenant, kind, status, latency_ms, http_status, error, checked_at
		FROM health_checks
		WHERE id IN (
			SELECT MAX(id) FROM health_checks GROUP BY tenant, kind
		)
		ORDER BY tenant, kind
	`)
	if err != nil {
		return nil, fmt.Errorf("querying latest checks: %w", err)
	}
	defer rows.Close()
	return scanChecks(rows)
}

// CheckHistory returns paginated check history for one descriptor plus the
// total row count.
func (d *DB) CheckHistory(ctx context.Context, tenant, kind string, limit, offset int) ([]HealthCheck, int, error) {
	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM health_checks WHERE tenant = ? AND kind = ?`,
		tenant, kind,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting checks for %s/%s: %w", tenant, kind, err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, tenant, kind, status, latency_ms, http_status, error, checked_at
		 FROM health_checks WHERE tenant = ? AND kind = ?
		 ORDER BY checked_at DESC LIMIT ? OFFSET ?`,
		tenant, kind, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history for %s/%s: %w", tenant, kind, err)
	}
	defer rows.Close()

	checks, err := scanChecks(rows)
	if err != nil {
		return nil, 0, err
	}
	return checks, total, nil
}

// UptimePercent returns the percentage of "up" checks for one descriptor
// since the given time.
func (d *DB) UptimePercent(ctx context.Context, tenant, kind string, since time.Time) (float64, error) {
	var total int
	var upCount sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN status = 'up' THEN 1 ELSE 0 END)
		FROM health_checks
		WHERE tenant = ? AND kind = ? AND checked_at >= ?
	`, tenant, kind, since.UTC().Format(time.RFC3339Nano)).Scan(&total, &upCount)
	if err != nil {
		return 0, fmt.Errorf("calculating uptime for %s/%s: %w", tenant, kind, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(upCount.Int64) / float64(total) * 100, nil
}

// LatencyBuckets counts successful samples per satisfaction bucket for one
// descriptor since the given time. Down checks carry no meaningful latency
// and are excluded.
func (d *DB) LatencyBuckets(ctx context.Context, tenant, kind string, since time.Time, satisfiedMs, toleratingMs int64) (Buckets, error) {
	var b Buckets
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN latency_ms <= ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN latency_ms > ? AND latency_ms <= ? THEN 1 ELSE 0 END)
		FROM health_checks
		WHERE tenant = ? AND kind = ? AND status != 'down' AND checked_at >= ?
	`, satisfiedMs, satisfiedMs, toleratingMs,
		tenant, kind, since.UTC().Format(time.RFC3339Nano),
	).Scan(&b.Total, newNullCount(&b.Satisfied), newNullCount(&b.Tolerating))
	if err != nil {
		return Buckets{}, fmt.Errorf("bucketing latencies for %s/%s: %w", tenant, kind, err)
	}
	b.Frustrated = b.Total - b.Satisfied - b.Tolerating
	return b, nil
}

// InsertIncident persists a newly opened incident.
func (d *DB) InsertIncident(ctx context.Context, inc Incident) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO incidents (id, tenant, kind, started_at, details) VALUES (?, ?, ?, ?, ?)`,
		inc.ID, inc.Tenant, inc.Kind,
		inc.StartedAt.UTC().Format(time.RFC3339Nano), inc.Details,
	)
	if err != nil {
		return fmt.Errorf("inserting incident %s: %w", inc.ID, err)
	}
	return nil
}

// CloseIncident stamps an incident's end time and duration. Closing an
// already-closed incident is a no-op.
func (d *DB) CloseIncident(ctx context.Context, id string, endedAt time.Time, durationMs int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE incidents SET ended_at = ?, duration_ms = ? WHERE id = ? AND ended_at IS NULL`,
		endedAt.UTC().Format(time.RFC3339Nano), durationMs, id,
	)
	if err != nil {
		return fmt.Errorf("closing incident %s: %w", id, err)
	}
	return nil
}

// OpenIncident returns the single open incident for one descriptor, or nil.
func (d *DB) OpenIncident(ctx context.Context, tenant, kind string) (*Incident, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, tenant, kind, started_at, ended_at, duration_ms, details
		 FROM incidents WHERE tenant = ? AND kind = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`,
		tenant, kind,
	)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying open incident for %s/%s: %w", tenant, kind, err)
	}
	return inc, nil
}

// OpenIncidents returns every open incident, optionally filtered by tenant
// (empty string matches all tenants).
func (d *DB) OpenIncidents(ctx context.Context, tenant string) ([]Incident, error) {
	query := `SELECT id, tenant, kind, started_at, ended_at, duration_ms, details
		FROM incidents WHERE ended_at IS NULL`
	args := []any{}
	if tenant != "" {
		query += ` AND tenant = ?`
		args = append(args, tenant)
	}
	query += ` ORDER BY started_at`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying open incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// IncidentHistory returns paginated incidents, newest first, optionally
// filtered by tenant.
func (d *DB) IncidentHistory(ctx context.Context, tenant string, limit, offset int) ([]Incident, int, error) {
	countQuery := `SELECT COUNT(*) FROM incidents`
	listQuery := `SELECT id, tenant, kind, started_at, ended_at, duration_ms, details FROM incidents`
	args := []any{}
	if tenant != "" {
		countQuery += ` WHERE tenant = ?`
		listQuery += ` WHERE tenant = ?`
		args = append(args, tenant)
	}

	var total int
	if err := d.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting incidents: %w", err)
	}

	listQuery += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := d.db.QueryContext(ctx, listQuery, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying incidents: %w", err)
	}
	defer rows.Close()

	incidents, err := scanIncidents(rows)
	if err != nil {
		return nil, 0, err
	}
	return incidents, total, nil
}

// PruneChecksBefore deletes stored checks older than cutoff and returns the
// number of rows removed.
func (d *DB) PruneChecksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM health_checks WHERE checked_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning checks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneClosedIncidentsBefore deletes closed incidents that ended before
// cutoff. Open incidents are never pruned.
func (d *DB) PruneClosedIncidentsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM incidents WHERE ended_at IS NOT NULL AND ended_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning incidents: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- scanning helpers ---

type scanner interface {
	Scan(dest ...any) error
}

// nullCount scans a nullable SUM() into an int, treating NULL as zero.
type nullCount struct {
	dst *int
}

func newNullCount(dst *int) *nullCount { return &nullCount{dst: dst} }

func (n *nullCount) Scan(src any) error {
	var v sql.NullInt64
	if err := v.Scan(src); err != nil {
		return err
	}
	*n.dst = int(v.Int64)
	return nil
}

func scanChecks(rows *sql.Rows) ([]HealthCheck, error) {
	var checks []HealthCheck
	for rows.Next() {
		var c HealthCheck
		var checkedAt string
		var latency, httpStatus sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Tenant, &c.Kind, &c.Status, &latency, &httpStatus, &c.Error, &checkedAt); err != nil {
			return nil, fmt.Errorf("scanning check row: %w", err)
		}
		c.LatencyMs = latency.Int64
		c.HTTPStatus = int(httpStatus.Int64)
		t, err := parseTime(checkedAt)
		if err != nil {
			return nil, err
		}
		c.CheckedAt = t
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating check rows: %w", err)
	}
	return checks, nil
}

func scanIncident(row scanner) (*Incident, error) {
	var inc Incident
	var startedAt string
	var endedAt sql.NullString
	var duration sql.NullInt64
	err := row.Scan(&inc.ID, &inc.Tenant, &inc.Kind, &startedAt, &endedAt, &duration, &inc.Details)
	if err != nil {
		return nil, err
	}
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	inc.StartedAt = t
	if endedAt.Valid {
		end, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		inc.EndedAt = &end
	}
	if duration.Valid {
		d := duration.Int64
		inc.DurationMs = &d
	}
	return &inc, nil
}

func scanIncidents(rows *sql.Rows) ([]Incident, error) {
	var incidents []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident row: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating incident rows: %w", err)
	}
	return incidents, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Fallback to RFC3339 without sub-second precision.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
		}
	}
	return t, nil
}
