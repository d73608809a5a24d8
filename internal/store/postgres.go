package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/db"
	"github.com/sells-group/leadtrace/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const leadColumns = `id, owner_id, first_name, last_name, street_address, city, state, postal_code,
	phone_number, status, error, ai_analysis, ai_analysis_error, analyzed_at, uploaded_at, updated_at`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_lead": `INSERT INTO leads (` + leadColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
	"get_lead":    `SELECT ` + leadColumns + ` FROM leads WHERE owner_id = $1 AND id = $2`,
	"lock_lead":   `SELECT ` + leadColumns + ` FROM leads WHERE owner_id = $1 AND id = $2 FOR UPDATE`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	first_name        TEXT NOT NULL,
	last_name         TEXT NOT NULL,
	street_address    TEXT NOT NULL,
	city              TEXT NOT NULL,
	state             TEXT NOT NULL,
	postal_code       TEXT NOT NULL,
	phone_number      TEXT,
	status            TEXT NOT NULL DEFAULT 'Processing',
	error             TEXT,
	ai_analysis       TEXT,
	ai_analysis_error TEXT,
	analyzed_at       TIMESTAMPTZ,
	uploaded_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_owner_uploaded ON leads(owner_id, uploaded_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_owner_status ON leads(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_status_updated ON leads(status, updated_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateLeads inserts each lead as an independent row. The batch is best
// effort, not atomic: rows that fail do not roll back rows already written.
// The returned slice holds only the leads actually persisted.
func (s *PostgresStore) CreateLeads(ctx context.Context, leads []model.Lead) ([]model.Lead, error) {
	now := time.Now().UTC()
	created := make([]model.Lead, 0, len(leads))

	var firstErr error
	failed := 0
	for i := range leads {
		l := leads[i]
		l.UploadedAt = now
		l.UpdatedAt = now

		_, err := s.pool.Exec(ctx,
			`INSERT INTO leads (`+leadColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			l.ID, l.OwnerID, l.FirstName, l.LastName, l.StreetAddress, l.City, l.State, l.PostalCode,
			l.PhoneNumber, string(l.Status), nullable(l.Error), nullable(l.AIAnalysis), nullable(l.AIAnalysisError),
			l.AnalyzedAt, l.UploadedAt, l.UpdatedAt,
		)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			zap.L().Error("postgres: insert lead failed",
				zap.String("owner_id", l.OwnerID),
				zap.String("lead_id", l.ID),
				zap.Error(err),
			)
			continue
		}
		created = append(created, l)
	}

	if firstErr != nil {
		return created, eris.Wrapf(firstErr, "postgres: insert leads (%d of %d failed)", failed, len(leads))
	}
	return created, nil
}

// GetLead returns the lead or nil when no such lead exists for the owner.
func (s *PostgresStore) GetLead(ctx context.Context, ownerID, leadID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = $1 AND id = $2`,
		ownerID, leadID,
	)
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", leadID)
	}
	return l, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	if filter.OwnerID == "" {
		return nil, eris.New("postgres: list leads requires an owner id")
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE owner_id = $1`
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY uploaded_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) CompleteSkiptrace(ctx context.Context, ownerID, leadID, phone string) (*Mutation, error) {
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool { return before.Status == model.StatusProcessing },
		func(tx pgx.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.Exec(ctx,
				`UPDATE leads SET phone_number = $1, status = $2, error = NULL, updated_at = $3
				 WHERE owner_id = $4 AND id = $5`,
				phone, string(model.StatusCompleted), now, ownerID, leadID,
			)
			if err != nil {
				return nil, err
			}
			after := *before
			after.PhoneNumber = &phone
			after.Status = model.StatusCompleted
			after.Error = ""
			after.UpdatedAt = now
			return &after, nil
		})
}

func (s *PostgresStore) FailSkiptrace(ctx context.Context, ownerID, leadID string, status model.Status, errMsg string) (*Mutation, error) {
	if status != model.StatusSkiptraceFailed && status != model.StatusMalformedData {
		return nil, eris.Errorf("postgres: invalid skiptrace failure status %q", status)
	}
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool { return before.Status == model.StatusProcessing },
		func(tx pgx.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.Exec(ctx,
				`UPDATE leads SET phone_number = NULL, status = $1, error = $2, updated_at = $3
				 WHERE owner_id = $4 AND id = $5`,
				string(status), errMsg, now, ownerID, leadID,
			)
			if err != nil {
				return nil, err
			}
			after := *before
			after.PhoneNumber = nil
			after.Status = status
			after.Error = errMsg
			after.UpdatedAt = now
			return &after, nil
		})
}

func (s *PostgresStore) MarkAnalyzed(ctx context.Context, ownerID, leadID, analysis string) (*Mutation, error) {
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool { return before.Status == model.StatusCompleted },
		func(tx pgx.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.Exec(ctx,
				`UPDATE leads SET ai_analysis = $1, analyzed_at = $2, status = $3, ai_analysis_error = NULL, updated_at = $4
				 WHERE owner_id = $5 AND id = $6`,
				analysis, now, string(model.StatusAnalyzed), now, ownerID, leadID,
			)
			if err != nil {
				return nil, err
			}
			after := *before
			after.AIAnalysis = analysis
			after.AIAnalysisError = ""
			after.AnalyzedAt = &now
			after.Status = model.StatusAnalyzed
			after.UpdatedAt = now
			return &after, nil
		})
}

// SetAnalysisError records a non-fatal analysis failure. The lead's status
// is never regressed: enrichment already succeeded.
func (s *PostgresStore) SetAnalysisError(ctx context.Context, ownerID, leadID, msg string) (*Mutation, error) {
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool { return true },
		func(tx pgx.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.Exec(ctx,
				`UPDATE leads SET ai_analysis_error = $1, updated_at = $2 WHERE owner_id = $3 AND id = $4`,
				msg, now, ownerID, leadID,
			)
			if err != nil {
				return nil, err
			}
			after := *before
			after.AIAnalysisError = msg
			after.UpdatedAt = now
			return &after, nil
		})
}

// ResetForEnrichment is the explicit re-skiptrace entry point. Only a lead
// in a terminal skiptrace failure state can be reset; enrichment output is
// cleared and the lead returns to Processing.
func (s *PostgresStore) ResetForEnrichment(ctx context.Context, ownerID, leadID string) (*Mutation, error) {
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool {
			return before.Status == model.StatusSkiptraceFailed || before.Status == model.StatusMalformedData
		},
		func(tx pgx.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.Exec(ctx,
				`UPDATE leads SET phone_number = NULL, status = $1, error = NULL,
				        ai_analysis = NULL, ai_analysis_error = NULL, analyzed_at = NULL, updated_at = $2
				 WHERE owner_id = $3 AND id = $4`,
				string(model.StatusProcessing), now, ownerID, leadID,
			)
			if err != nil {
				return nil, err
			}
			after := *before
			after.PhoneNumber = nil
			after.Status = model.StatusProcessing
			after.Error = ""
			after.AIAnalysis = ""
			after.AIAnalysisError = ""
			after.AnalyzedAt = nil
			after.UpdatedAt = now
			return &after, nil
		})
}

func (s *PostgresStore) CountByStatus(ctx context.Context, since time.Time) (StatusCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM leads WHERE uploaded_at >= $1 GROUP BY status`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(StatusCounts)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

func (s *PostgresStore) CountStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads WHERE status = $1 AND updated_at < $2`,
		string(model.StatusProcessing), olderThan,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count stuck processing")
}

// transition runs a conditional status transition inside a transaction.
// The lead row is locked, the precondition re-checked against current
// persisted state, and the update applied only when it still holds.
func (s *PostgresStore) transition(
	ctx context.Context,
	ownerID, leadID string,
	precondition func(before *model.Lead) bool,
	apply func(tx pgx.Tx, before *model.Lead, now time.Time) (*model.Lead, error),
) (*Mutation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin transition")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = $1 AND id = $2 FOR UPDATE`,
		ownerID, leadID,
	)
	before, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Mutation{Claimed: false}, nil
		}
		return nil, eris.Wrapf(err, "postgres: lock lead %s", leadID)
	}

	if !precondition(before) {
		return &Mutation{Claimed: false, Before: before, After: before}, nil
	}

	after, err := apply(tx, before, time.Now().UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: transition lead %s", leadID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgres: commit transition %s", leadID)
	}

	return &Mutation{Claimed: true, Before: before, After: after}, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var l model.Lead
	var phone, errMsg, aiAnalysis, aiErr *string
	var analyzedAt *time.Time
	var status string

	if err := row.Scan(
		&l.ID, &l.OwnerID, &l.FirstName, &l.LastName, &l.StreetAddress, &l.City, &l.State, &l.PostalCode,
		&phone, &status, &errMsg, &aiAnalysis, &aiErr, &analyzedAt, &l.UploadedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}

	l.PhoneNumber = phone
	l.Status = model.Status(status)
	if errMsg != nil {
		l.Error = *errMsg
	}
	if aiAnalysis != nil {
		l.AIAnalysis = *aiAnalysis
	}
	if aiErr != nil {
		l.AIAnalysisError = *aiErr
	}
	l.AnalyzedAt = analyzedAt
	return &l, nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
