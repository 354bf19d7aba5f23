package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mailcadence/internal/job"
	logx "mailcadence/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	loc *time.Location
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &sqliteStore{db: db, log: log, loc: loc}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

const jobColumns = `id, owner, recipients, subject, body, schedule_option, start_at, attachments, token, refresh_token, created_at`

func (s *sqliteStore) ListJobs(ctx context.Context, owner string) ([]job.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	var args []any
	if owner != "" {
		q += ` WHERE owner = ?`
		args = append(args, owner)
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows, s.loc)
		if err != nil {
			// A single unreadable row must not hide the rest.
			s.log.Warn("skipping unreadable job row", logx.String("job_id", j.ID), logx.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	j, err := scanJob(row, s.loc)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (s *sqliteStore) PutJob(ctx context.Context, j job.Job) error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	recipients, err := json.Marshal(j.Recipients)
	if err != nil {
		return err
	}
	var attachments any
	if len(j.Attachments) > 0 {
		b, err := json.Marshal(j.Attachments)
		if err != nil {
			return err
		}
		attachments = string(b)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner=excluded.owner, recipients=excluded.recipients, subject=excluded.subject,
		   body=excluded.body, schedule_option=excluded.schedule_option, start_at=excluded.start_at,
		   attachments=excluded.attachments, token=excluded.token, refresh_token=excluded.refresh_token`,
		j.ID, j.Owner, string(recipients), j.Subject, j.Body, nullStr(j.ScheduleOption),
		j.StartAt.Format(time.RFC3339Nano), attachments, nullStr(j.Token), nullStr(j.RefreshToken),
		j.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendFiring(ctx context.Context, f Firing) error {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO firings(job_id, owner, seq, outcome, at, duration_ms, reason) VALUES(?,?,?,?,?,?,?)`,
		f.JobID, nullStr(f.Owner), f.Seq, f.Outcome, f.At.UnixMilli(), f.DurationMS, nullStr(f.Reason),
	)
	return err
}

func (s *sqliteStore) ListFirings(ctx context.Context, jobID string, limit int) ([]Firing, error) {
	q := `SELECT id, job_id, owner, seq, outcome, at, duration_ms, reason FROM firings`
	var args []any
	if jobID != "" {
		q += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	q += ` ORDER BY at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Firing
	for rows.Next() {
		var (
			f             Firing
			owner, reason sql.NullString
			at            int64
		)
		if err := rows.Scan(&f.ID, &f.JobID, &owner, &f.Seq, &f.Outcome, &at, &f.DurationMS, &reason); err != nil {
			return nil, err
		}
		f.Owner, f.Reason = owner.String, reason.String
		f.At = time.UnixMilli(at)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneFirings(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM firings WHERE at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// dateOnly is accepted for start_at written by hand or by older tools;
// it means midnight in the store's location.
const dateOnly = "2006-01-02"

// scanJob returns the id it read even on error so callers can report it.
func scanJob(r rowScanner, loc *time.Location) (job.Job, error) {
	var (
		j                   job.Job
		recipients, startAt string
		option, attachments sql.NullString
		token, refreshToken sql.NullString
		createdAt           int64
	)
	err := r.Scan(&j.ID, &j.Owner, &recipients, &j.Subject, &j.Body, &option, &startAt,
		&attachments, &token, &refreshToken, &createdAt)
	if err != nil {
		return job.Job{}, err
	}
	failed := job.Job{ID: j.ID}
	if err := json.Unmarshal([]byte(recipients), &j.Recipients); err != nil {
		return failed, fmt.Errorf("job %s: recipients: %w", j.ID, err)
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &j.Attachments); err != nil {
			return failed, fmt.Errorf("job %s: attachments: %w", j.ID, err)
		}
	}
	if j.StartAt, err = parseStartAt(startAt, loc); err != nil {
		return failed, fmt.Errorf("job %s: start_at: %w", j.ID, err)
	}
	j.ScheduleOption = option.String
	j.Token, j.RefreshToken = token.String, refreshToken.String
	j.CreatedAt = time.UnixMilli(createdAt)
	return j, nil
}

func parseStartAt(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(dateOnly, v, loc)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
