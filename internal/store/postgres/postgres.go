// Package postgres implements store.Store on PostgreSQL.
//
// Queries are built with squirrel using dollar placeholders and executed
// through database/sql on the pgx driver. The single-running-audit rule is
// enforced by a partial unique index on audits(account_id), so concurrent
// processes racing to start an audit for the same account see
// store.ErrAuditInProgress rather than two running rows.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Options tunes the connection attempt made by Open.
type Options struct {
	MaxOpenConns   int
	ConnectTimeout time.Duration
}

// Open connects to dsn, retrying with exponential backoff until the server
// answers a ping or ConnectTimeout elapses.
func Open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = opts.ConnectTimeout
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}

	log := zerolog.Ctx(ctx)
	err = backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("postgres not ready")
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// New wraps db in a store.Store. Close on the returned store closes db.
func New(db *sql.DB) *store.Store {
	b := &base{db: db, qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
	return &store.Store{
		Accounts:      &accounts{b},
		Audits:        &audits{b},
		Phases:        &phases{b},
		Findings:      &findings{b},
		ScanLogs:      &scanLogs{b},
		Notifications: &notifications{b},
		Close:         db.Close,
	}
}

type base struct {
	db *sql.DB
	qb sq.StatementBuilderType
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *base) exec(ctx context.Context, e execer, q sq.Sqlizer) (sql.Result, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return e.ExecContext(ctx, query, args...)
}

// execOne runs q and maps zero affected rows to store.ErrNotFound.
func (b *base) execOne(ctx context.Context, q sq.Sqlizer) error {
	res, err := b.exec(ctx, b.db, q)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *base) query(ctx context.Context, q sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return b.db.QueryContext(ctx, query, args...)
}

func (b *base) queryRow(ctx context.Context, q sq.Sqlizer) (*sql.Row, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return b.db.QueryRowContext(ctx, query, args...), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

func intPtr(n sql.NullInt32) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int32)
	return &v
}

// ── accounts ─────────────────────────────────────────────────────────────────

var accountColumns = []string{
	"id", "provider", "external_id", "name", "region", "encrypted_secret",
	"schedule_frequency", "schedule_hour", "schedule_day_of_week", "schedule_day_of_month",
	"next_scheduled_scan", "last_scan_at", "owner_id", "created_at",
}

type accounts struct{ *base }

func (s *accounts) Create(ctx context.Context, a *models.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	freq, hour, dow, dom := scheduleColumns(a.Schedule)
	q := s.qb.Insert("accounts").Columns(accountColumns...).Values(
		a.ID, string(a.Provider), a.ExternalID, a.Name, a.Region, a.EncryptedSecret,
		freq, hour, dow, dom,
		nullTime(a.NextScheduledScan), nullTime(a.LastScanAt), a.OwnerID, a.CreatedAt,
	)
	if _, err := s.exec(ctx, s.db, q); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *accounts) Get(ctx context.Context, provider models.Provider, id string) (*models.Account, error) {
	row, err := s.queryRow(ctx, s.qb.Select(accountColumns...).From("accounts").
		Where(sq.Eq{"provider": string(provider), "id": id}))
	if err != nil {
		return nil, err
	}
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *accounts) List(ctx context.Context) ([]models.Account, error) {
	return s.list(ctx, s.qb.Select(accountColumns...).From("accounts").OrderBy("provider", "id"))
}

func (s *accounts) ListDue(ctx context.Context, now time.Time) ([]models.Account, error) {
	return s.list(ctx, s.qb.Select(accountColumns...).From("accounts").
		Where(sq.NotEq{"schedule_frequency": nil}).
		Where(sq.LtOrEq{"next_scheduled_scan": now}).
		OrderBy("provider", "id"))
}

func (s *accounts) list(ctx context.Context, q sq.SelectBuilder) ([]models.Account, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *accounts) UpdateSchedule(ctx context.Context, provider models.Provider, id string, cfg *models.ScheduleConfig, next *time.Time) error {
	freq, hour, dow, dom := scheduleColumns(cfg)
	if cfg == nil {
		next = nil
	}
	return s.execOne(ctx, s.qb.Update("accounts").
		Set("schedule_frequency", freq).
		Set("schedule_hour", hour).
		Set("schedule_day_of_week", dow).
		Set("schedule_day_of_month", dom).
		Set("next_scheduled_scan", nullTime(next)).
		Where(sq.Eq{"provider": string(provider), "id": id}))
}

func (s *accounts) SetNextScheduledScan(ctx context.Context, provider models.Provider, id string, next time.Time) error {
	return s.execOne(ctx, s.qb.Update("accounts").
		Set("next_scheduled_scan", next).
		Where(sq.Eq{"provider": string(provider), "id": id}))
}

func (s *accounts) MarkScanned(ctx context.Context, provider models.Provider, id string, at time.Time) error {
	return s.execOne(ctx, s.qb.Update("accounts").
		Set("last_scan_at", at).
		Where(sq.Eq{"provider": string(provider), "id": id}))
}

func scheduleColumns(cfg *models.ScheduleConfig) (sql.NullString, sql.NullInt32, sql.NullInt32, sql.NullInt32) {
	if cfg == nil {
		return sql.NullString{}, sql.NullInt32{}, sql.NullInt32{}, sql.NullInt32{}
	}
	hour := cfg.Hour
	return sql.NullString{String: string(cfg.Frequency), Valid: true},
		nullInt(&hour), nullInt(cfg.DayOfWeek), nullInt(cfg.DayOfMonth)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(r scanner) (*models.Account, error) {
	var (
		a                 models.Account
		provider          string
		freq              sql.NullString
		hour, dow, dom    sql.NullInt32
		next, lastScanned sql.NullTime
	)
	err := r.Scan(&a.ID, &provider, &a.ExternalID, &a.Name, &a.Region, &a.EncryptedSecret,
		&freq, &hour, &dow, &dom, &next, &lastScanned, &a.OwnerID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Provider = models.Provider(provider)
	if freq.Valid {
		a.Schedule = &models.ScheduleConfig{
			Frequency:  models.Frequency(freq.String),
			Hour:       int(hour.Int32),
			DayOfWeek:  intPtr(dow),
			DayOfMonth: intPtr(dom),
		}
		a.NextScheduledScan = timePtr(next)
	}
	a.LastScanAt = timePtr(lastScanned)
	return &a, nil
}

// ── audits ───────────────────────────────────────────────────────────────────

var auditColumns = []string{
	"id", "account_id", "provider", "status", "trigger",
	"total_findings", "critical_findings", "high_findings", "medium_findings", "low_findings",
	"risk_score", "error", "started_at", "completed_at",
}

type audits struct{ *base }

// Create inserts the audit and its phases in one transaction.
func (s *audits) Create(ctx context.Context, a *models.Audit, ps []models.Phase) (err error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	sm := a.Summary
	ins := s.qb.Insert("audits").Columns(auditColumns...).Values(
		a.ID, a.AccountID, string(a.Provider), string(a.Status), string(a.Trigger),
		sm.TotalFindings, sm.CriticalFindings, sm.HighFindings, sm.MediumFindings, sm.LowFindings,
		sm.RiskScore, a.Error, a.StartedAt, nullTime(a.CompletedAt),
	)
	if _, err = s.exec(ctx, tx, ins); err != nil {
		if isUniqueViolation(err) {
			return store.ErrAuditInProgress
		}
		return fmt.Errorf("insert audit: %w", err)
	}

	if len(ps) > 0 {
		pins := s.qb.Insert("audit_phases").Columns(phaseColumns...)
		for i := range ps {
			ps[i].AuditID = a.ID
			var vals []any
			if vals, err = phaseValues(&ps[i]); err != nil {
				return err
			}
			pins = pins.Values(vals...)
		}
		if _, err = s.exec(ctx, tx, pins); err != nil {
			return fmt.Errorf("insert phases: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *audits) Get(ctx context.Context, id string) (*models.Audit, error) {
	row, err := s.queryRow(ctx, s.qb.Select(auditColumns...).From("audits").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	a, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit: %w", err)
	}
	return a, nil
}

func (s *audits) Update(ctx context.Context, a *models.Audit) error {
	sm := a.Summary
	return s.execOne(ctx, s.qb.Update("audits").
		Set("status", string(a.Status)).
		Set("total_findings", sm.TotalFindings).
		Set("critical_findings", sm.CriticalFindings).
		Set("high_findings", sm.HighFindings).
		Set("medium_findings", sm.MediumFindings).
		Set("low_findings", sm.LowFindings).
		Set("risk_score", sm.RiskScore).
		Set("error", a.Error).
		Set("completed_at", nullTime(a.CompletedAt)).
		Where(sq.Eq{"id": a.ID}))
}

func (s *audits) HasRunning(ctx context.Context, accountID string) (bool, error) {
	row, err := s.queryRow(ctx, s.qb.Select("count(*)").From("audits").
		Where(sq.Eq{"account_id": accountID, "status": string(models.AuditRunning)}))
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("count running audits: %w", err)
	}
	return n > 0, nil
}

// FailStale fails the stale audits and their running phases in one transaction.
func (s *audits) FailStale(ctx context.Context, startedBefore, at time.Time, reason string) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stale := sq.Eq{"status": string(models.AuditRunning)}
	phasesQ := s.qb.Update("audit_phases").
		Set("status", string(models.PhaseFailed)).
		Where(sq.Eq{"status": string(models.PhaseRunning)}).
		Where(sq.Expr("audit_id IN (SELECT id FROM audits WHERE status = ? AND started_at < ?)",
			string(models.AuditRunning), startedBefore))
	if _, err = s.exec(ctx, tx, phasesQ); err != nil {
		return 0, fmt.Errorf("fail stale phases: %w", err)
	}

	res, err := s.exec(ctx, tx, s.qb.Update("audits").
		Set("status", string(models.AuditFailed)).
		Set("error", reason).
		Set("total_findings", 0).
		Set("critical_findings", 0).
		Set("high_findings", 0).
		Set("medium_findings", 0).
		Set("low_findings", 0).
		Set("risk_score", 0).
		Set("completed_at", at).
		Where(stale).
		Where(sq.Lt{"started_at": startedBefore}))
	if err != nil {
		return 0, fmt.Errorf("fail stale audits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(affected), nil
}

func (s *audits) ListByAccount(ctx context.Context, accountID string) ([]models.Audit, error) {
	rows, err := s.query(ctx, s.qb.Select(auditColumns...).From("audits").
		Where(sq.Eq{"account_id": accountID}).OrderBy("started_at DESC"))
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()
	var out []models.Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Delete relies on ON DELETE CASCADE for phases and findings.
func (s *audits) Delete(ctx context.Context, id string) error {
	return s.execOne(ctx, s.qb.Delete("audits").Where(sq.Eq{"id": id}))
}

func scanAudit(r scanner) (*models.Audit, error) {
	var (
		a                         models.Audit
		provider, status, trigger string
		completed                 sql.NullTime
	)
	sm := &a.Summary
	err := r.Scan(&a.ID, &a.AccountID, &provider, &status, &trigger,
		&sm.TotalFindings, &sm.CriticalFindings, &sm.HighFindings, &sm.MediumFindings, &sm.LowFindings,
		&sm.RiskScore, &a.Error, &a.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	a.Provider = models.Provider(provider)
	a.Status = models.AuditStatus(status)
	a.Trigger = models.TriggerSource(trigger)
	a.CompletedAt = timePtr(completed)
	return &a, nil
}

// ── phases ───────────────────────────────────────────────────────────────────

var phaseColumns = []string{
	"audit_id", "number", "name", "status",
	"total_findings", "critical_findings", "high_findings", "medium_findings", "low_findings",
	"errors", "started_at", "completed_at",
}

type phases struct{ *base }

func (s *phases) Update(ctx context.Context, p *models.Phase) error {
	errs, err := json.Marshal(nonNil(p.Errors))
	if err != nil {
		return fmt.Errorf("encode phase errors: %w", err)
	}
	sm := p.Summary
	return s.execOne(ctx, s.qb.Update("audit_phases").
		Set("status", string(p.Status)).
		Set("total_findings", sm.TotalFindings).
		Set("critical_findings", sm.CriticalFindings).
		Set("high_findings", sm.HighFindings).
		Set("medium_findings", sm.MediumFindings).
		Set("low_findings", sm.LowFindings).
		Set("errors", errs).
		Set("started_at", nullTime(p.StartedAt)).
		Set("completed_at", nullTime(p.CompletedAt)).
		Where(sq.Eq{"audit_id": p.AuditID, "number": p.Number}))
}

func (s *phases) ListByAudit(ctx context.Context, auditID string) ([]models.Phase, error) {
	rows, err := s.query(ctx, s.qb.Select(phaseColumns...).From("audit_phases").
		Where(sq.Eq{"audit_id": auditID}).OrderBy("number"))
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()
	var out []models.Phase
	for rows.Next() {
		var (
			p                  models.Phase
			status             string
			errs               []byte
			started, completed sql.NullTime
		)
		sm := &p.Summary
		if err := rows.Scan(&p.AuditID, &p.Number, &p.Name, &status,
			&sm.TotalFindings, &sm.CriticalFindings, &sm.HighFindings, &sm.MediumFindings, &sm.LowFindings,
			&errs, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &p.Errors); err != nil {
				return nil, fmt.Errorf("decode phase errors: %w", err)
			}
		}
		p.Status = models.PhaseStatus(status)
		p.StartedAt = timePtr(started)
		p.CompletedAt = timePtr(completed)
		out = append(out, p)
	}
	return out, rows.Err()
}

func phaseValues(p *models.Phase) ([]any, error) {
	errs, err := json.Marshal(nonNil(p.Errors))
	if err != nil {
		return nil, fmt.Errorf("encode phase errors: %w", err)
	}
	sm := p.Summary
	return []any{
		p.AuditID, p.Number, p.Name, string(p.Status),
		sm.TotalFindings, sm.CriticalFindings, sm.HighFindings, sm.MediumFindings, sm.LowFindings,
		errs, nullTime(p.StartedAt), nullTime(p.CompletedAt),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ── findings ─────────────────────────────────────────────────────────────────

var findingColumns = []string{
	"id", "audit_id", "phase_number", "finding_id", "severity", "title", "description",
	"recommendation", "resource_id", "resource_type", "region", "status", "detected_at", "metadata",
}

type findings struct{ *base }

// findingBatchSize keeps one INSERT well below the 65535 bind-parameter
// limit of the postgres protocol.
const findingBatchSize = 1000

// Append writes fs in batches of findingBatchSize rows inside one
// transaction, so a phase's findings land all together or not at all.
func (s *findings) Append(ctx context.Context, fs []models.Finding) (err error) {
	if len(fs) == 0 {
		return nil
	}
	rows := make([][]any, len(fs))
	for i := range fs {
		f := &fs[i]
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.Status == "" {
			f.Status = models.FindingOpen
		}
		meta := []byte("{}")
		if len(f.Metadata) > 0 {
			if meta, err = json.Marshal(f.Metadata); err != nil {
				return fmt.Errorf("encode finding metadata: %w", err)
			}
		}
		rows[i] = []any{f.ID, f.AuditID, f.PhaseNumber, f.FindingID, string(f.Severity), f.Title,
			f.Description, f.Recommendation, f.ResourceID, f.ResourceType, f.Region,
			string(f.Status), f.DetectedAt, meta}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	for start := 0; start < len(rows); start += findingBatchSize {
		end := min(start+findingBatchSize, len(rows))
		q := s.qb.Insert("findings").Columns(findingColumns...)
		for _, vals := range rows[start:end] {
			q = q.Values(vals...)
		}
		if _, err = s.exec(ctx, tx, q); err != nil {
			return fmt.Errorf("insert findings: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *findings) ListByAudit(ctx context.Context, auditID string) ([]models.Finding, error) {
	rows, err := s.query(ctx, s.qb.Select(findingColumns...).From("findings").
		Where(sq.Eq{"audit_id": auditID}).OrderBy("phase_number", "detected_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()
	var out []models.Finding
	for rows.Next() {
		var (
			f              models.Finding
			severity, stat string
			meta           []byte
		)
		if err := rows.Scan(&f.ID, &f.AuditID, &f.PhaseNumber, &f.FindingID, &severity, &f.Title,
			&f.Description, &f.Recommendation, &f.ResourceID, &f.ResourceType, &f.Region,
			&stat, &f.DetectedAt, &meta); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		if len(meta) > 0 && string(meta) != "{}" {
			if err := json.Unmarshal(meta, &f.Metadata); err != nil {
				return nil, fmt.Errorf("decode finding metadata: %w", err)
			}
		}
		f.Severity = models.Severity(severity)
		f.Status = models.FindingStatus(stat)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *findings) UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error {
	return s.execOne(ctx, s.qb.Update("findings").Set("status", string(status)).Where(sq.Eq{"id": id}))
}

// ── scan logs ────────────────────────────────────────────────────────────────

type scanLogs struct{ *base }

func (s *scanLogs) Append(ctx context.Context, l *models.ScheduledScanLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	q := s.qb.Insert("scheduled_scan_logs").
		Columns("id", "account_id", "provider", "audit_id", "outcome", "error", "created_at").
		Values(l.ID, l.AccountID, string(l.Provider), l.AuditID, string(l.Outcome), l.Error, l.CreatedAt)
	if _, err := s.exec(ctx, s.db, q); err != nil {
		return fmt.Errorf("insert scan log: %w", err)
	}
	return nil
}

func (s *scanLogs) ListByAccount(ctx context.Context, accountID string) ([]models.ScheduledScanLog, error) {
	rows, err := s.query(ctx, s.qb.
		Select("id", "account_id", "provider", "audit_id", "outcome", "error", "created_at").
		From("scheduled_scan_logs").Where(sq.Eq{"account_id": accountID}).OrderBy("created_at"))
	if err != nil {
		return nil, fmt.Errorf("list scan logs: %w", err)
	}
	defer rows.Close()
	var out []models.ScheduledScanLog
	for rows.Next() {
		var (
			l                 models.ScheduledScanLog
			provider, outcome string
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &provider, &l.AuditID, &outcome, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scan log: %w", err)
		}
		l.Provider = models.Provider(provider)
		l.Outcome = models.ScanOutcome(outcome)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ── notifications ────────────────────────────────────────────────────────────

type notifications struct{ *base }

func (s *notifications) Get(ctx context.Context, userID string) (*models.NotificationConfig, error) {
	row, err := s.queryRow(ctx, s.qb.Select("channels").From("notification_configs").
		Where(sq.Eq{"user_id": userID}))
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get notification config: %w", err)
	}
	cfg := &models.NotificationConfig{UserID: userID}
	if err := json.Unmarshal(raw, &cfg.Channels); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return cfg, nil
}

func (s *notifications) Put(ctx context.Context, cfg *models.NotificationConfig) error {
	raw, err := json.Marshal(cfg.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	q := s.qb.Insert("notification_configs").Columns("user_id", "channels").
		Values(cfg.UserID, raw).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET channels = EXCLUDED.channels")
	if _, err := s.exec(ctx, s.db, q); err != nil {
		return fmt.Errorf("upsert notification config: %w", err)
	}
	return nil
}
