package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLStore implements Store on database/sql. Queries are written with ?
// placeholders and rebound for postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the configured database. Call Migrate before use.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var sqlDriver string
	switch driver {
	case DriverPostgres:
		sqlDriver = "postgres"
	case DriverSQLite:
		sqlDriver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return NewSQLStore(db, driver), nil
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, now: time.Now}
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) q(query string) string { return rebind(s.driver, query) }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

const installationColumns = `id, platform, account_id, credentials, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstallation(row rowScanner) (*coreprocessor.Installation, error) {
	var (
		inst             coreprocessor.Installation
		creds            string
		created, updated int64
	)
	if err := row.Scan(&inst.ID, &inst.Platform, &inst.AccountID, &creds, &inst.Enabled, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coreprocessor.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(creds), &inst.Credentials); err != nil {
		return nil, fmt.Errorf("decode credentials for %s: %w", inst.ID, err)
	}
	inst.CreatedAt = fromMillis(created)
	inst.UpdatedAt = fromMillis(updated)
	return &inst, nil
}

func (s *SQLStore) InstallationByAccount(ctx context.Context, platform, accountID string) (*coreprocessor.Installation, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+installationColumns+` FROM installations WHERE platform = ? AND account_id = ?`), platform, accountID)
	inst, err := scanInstallation(row)
	if err != nil {
		return nil, fmt.Errorf("installation %s/%s: %w", platform, accountID, err)
	}
	return inst, nil
}

func (s *SQLStore) GetInstallation(ctx context.Context, id string) (*coreprocessor.Installation, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+installationColumns+` FROM installations WHERE id = ?`), id)
	inst, err := scanInstallation(row)
	if err != nil {
		return nil, fmt.Errorf("installation %s: %w", id, err)
	}
	return inst, nil
}

func (s *SQLStore) SaveInstallation(ctx context.Context, inst *coreprocessor.Installation) error {
	creds, err := json.Marshal(inst.Credentials)
	if err != nil {
		return err
	}
	now := s.now()
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, s.q(`
        INSERT INTO installations (id, platform, account_id, credentials, enabled, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            platform = excluded.platform,
            account_id = excluded.account_id,
            credentials = excluded.credentials,
            enabled = excluded.enabled,
            updated_at = excluded.updated_at
    `), inst.ID, inst.Platform, inst.AccountID, string(creds), inst.Enabled, millis(inst.CreatedAt), millis(inst.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save installation %s/%s: %w", inst.Platform, inst.AccountID, err)
	}
	return nil
}

func (s *SQLStore) ListInstallations(ctx context.Context) ([]coreprocessor.Installation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+installationColumns+` FROM installations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []coreprocessor.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetCursor(ctx context.Context, installationID, target string) (*coreprocessor.RevisionCursor, error) {
	c := coreprocessor.RevisionCursor{InstallationID: installationID, Target: target}
	var updated int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT revision_id, updated_at FROM revision_cursors WHERE installation_id = ? AND target = ?`),
		installationID, target).Scan(&c.RevisionID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coreprocessor.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", target, err)
	}
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func (s *SQLStore) CompareAndSetCursor(ctx context.Context, installationID, target, expected, next string) error {
	now := millis(s.now())
	var (
		res sql.Result
		err error
	)
	if expected == "" {
		res, err = s.db.ExecContext(ctx, s.q(`
            INSERT INTO revision_cursors (installation_id, target, revision_id, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT (installation_id, target) DO NOTHING
        `), installationID, target, next, now)
	} else {
		res, err = s.db.ExecContext(ctx, s.q(`
            UPDATE revision_cursors SET revision_id = ?, updated_at = ?
            WHERE installation_id = ? AND target = ? AND revision_id = ?
        `), next, now, installationID, target, expected)
	}
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", target, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: expected %q: %w", target, expected, coreprocessor.ErrCursorConflict)
	}
	return nil
}

func (s *SQLStore) CreateRun(ctx context.Context, run *coreprocessor.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.RequestedAt.IsZero() {
		run.RequestedAt = s.now()
	}
	run.Status = coreprocessor.RunPending
	revs, err := json.Marshal(nonNil(run.RevisionsAnalyzed))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
        INSERT INTO runs (id, installation_id, target, requested_by, requested_at, revisions, status)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `), run.ID, run.InstallationID, run.Target, run.RequestedBy, millis(run.RequestedAt), string(revs), run.Status)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLStore) CompleteRun(ctx context.Context, id string, result RunResult) error {
	revs, err := json.Marshal(nonNil(result.RevisionsAnalyzed))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`
        UPDATE runs SET status = ?, result_ref = ?, provenance = ?, revisions = ?, finished_at = ?
        WHERE id = ? AND status = ?
    `), coreprocessor.RunCompleted, result.ResultRef, result.Provenance, string(revs), millis(s.now()), id, coreprocessor.RunPending)
	return s.checkTransition(ctx, id, res, err)
}

func (s *SQLStore) FailRun(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
        UPDATE runs SET status = ?, error = ?, finished_at = ?
        WHERE id = ? AND status = ?
    `), coreprocessor.RunFailed, reason, millis(s.now()), id, coreprocessor.RunPending)
	return s.checkTransition(ctx, id, res, err)
}

func (s *SQLStore) checkTransition(ctx context.Context, id string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("run %s: %w", id, coreprocessor.ErrInvalidTransition)
}

const runColumns = `id, installation_id, target, requested_by, requested_at, revisions, status, result_ref, provenance, error, finished_at`

func scanRun(row rowScanner) (*coreprocessor.RunRecord, error) {
	var (
		r         coreprocessor.RunRecord
		requested int64
		revs      string
		finished  sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.InstallationID, &r.Target, &r.RequestedBy, &requested, &revs, &r.Status, &r.ResultRef, &r.Provenance, &r.Error, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, coreprocessor.ErrNotFound
		}
		return nil, err
	}
	r.RequestedAt = fromMillis(requested)
	if err := json.Unmarshal([]byte(revs), &r.RevisionsAnalyzed); err != nil {
		return nil, fmt.Errorf("decode revisions for run %s: %w", r.ID, err)
	}
	if finished.Valid {
		t := fromMillis(finished.Int64)
		r.FinishedAt = &t
	}
	return &r, nil
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (*coreprocessor.RunRecord, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, s.q(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLStore) ListRuns(ctx context.Context, target string, limit int) ([]coreprocessor.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY requested_at DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []coreprocessor.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
