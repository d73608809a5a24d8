package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadtrace/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// local development and tests; semantics match PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
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
	analyzed_at       DATETIME,
	uploaded_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_owner_uploaded ON leads(owner_id, uploaded_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_owner_status ON leads(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_status_updated ON leads(status, updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLeads(ctx context.Context, leads []model.Lead) ([]model.Lead, error) {
	now := time.Now().UTC()
	created := make([]model.Lead, 0, len(leads))

	var firstErr error
	failed := 0
	for i := range leads {
		l := leads[i]
		l.UploadedAt = now
		l.UpdatedAt = now

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.OwnerID, l.FirstName, l.LastName, l.StreetAddress, l.City, l.State, l.PostalCode,
			l.PhoneNumber, string(l.Status), nullable(l.Error), nullable(l.AIAnalysis), nullable(l.AIAnalysisError),
			l.AnalyzedAt, l.UploadedAt, l.UpdatedAt,
		)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			zap.L().Error("sqlite: insert lead failed",
				zap.String("owner_id", l.OwnerID),
				zap.String("lead_id", l.ID),
				zap.Error(err),
			)
			continue
		}
		created = append(created, l)
	}

	if firstErr != nil {
		return created, eris.Wrapf(firstErr, "sqlite: insert leads (%d of %d failed)", failed, len(leads))
	}
	return created, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, ownerID, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = ? AND id = ?`,
		ownerID, leadID,
	)
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %s", leadID)
	}
	return l, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	if filter.OwnerID == "" {
		return nil, eris.New("sqlite: list leads requires an owner id")
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE owner_id = ?`
	args := []any{filter.OwnerID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY uploaded_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) CompleteSkiptrace(ctx context.Context, ownerID, leadID, phone string) (*Mutation, error) {
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool { return before.Status == model.StatusProcessing },
		func(tx *sql.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.ExecContext(ctx,
				`UPDATE leads SET phone_number = ?, status = ?, error = NULL, updated_at = ?
				 WHERE owner_id = ? AND id = ?`,
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

func (s *SQLiteStore) FailSkiptrace(ctx context.Context, ownerID, leadID string, status model.Status, errMsg string) (*Mutation, error) {
	if status != model.StatusSkiptraceFailed && status != model.StatusMalformedData {
		return nil, eris.Errorf("sqlite: invalid skiptrace failure status %q", status)
	}
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool { return before.Status == model.StatusProcessing },
		func(tx *sql.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.ExecContext(ctx,
				`UPDATE leads SET phone_number = NULL, status = ?, error = ?, updated_at = ?
				 WHERE owner_id = ? AND id = ?`,
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

func (s *SQLiteStore) MarkAnalyzed(ctx context.Context, ownerID, leadID, analysis string) (*Mutation, error) {
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool { return before.Status == model.StatusCompleted },
		func(tx *sql.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.ExecContext(ctx,
				`UPDATE leads SET ai_analysis = ?, analyzed_at = ?, status = ?, ai_analysis_error = NULL, updated_at = ?
				 WHERE owner_id = ? AND id = ?`,
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

func (s *SQLiteStore) SetAnalysisError(ctx context.Context, ownerID, leadID, msg string) (*Mutation, error) {
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool { return true },
		func(tx *sql.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.ExecContext(ctx,
				`UPDATE leads SET ai_analysis_error = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
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

func (s *SQLiteStore) ResetForEnrichment(ctx context.Context, ownerID, leadID string) (*Mutation, error) {
	return s.transition(ctx, ownerID, leadID,
		func(before *model.Lead) bool {
			return before.Status == model.StatusSkiptraceFailed || before.Status == model.StatusMalformedData
		},
		func(tx *sql.Tx, before *model.Lead, now time.Time) (*model.Lead, error) {
			_, err := tx.ExecContext(ctx,
				`UPDATE leads SET phone_number = NULL, status = ?, error = NULL,
				        ai_analysis = NULL, ai_analysis_error = NULL, analyzed_at = NULL, updated_at = ?
				 WHERE owner_id = ? AND id = ?`,
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

func (s *SQLiteStore) CountByStatus(ctx context.Context, since time.Time) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM leads WHERE uploaded_at >= ? GROUP BY status`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(StatusCounts)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

func (s *SQLiteStore) CountStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE status = ? AND updated_at < ?`,
		string(model.StatusProcessing), olderThan,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count stuck processing")
}

// transition mirrors PostgresStore.transition. SQLite's single-writer
// model makes the enclosing transaction sufficient; no row lock needed.
func (s *SQLiteStore) transition(
	ctx context.Context,
	ownerID, leadID string,
	precondition func(before *model.Lead) bool,
	apply func(tx *sql.Tx, before *model.Lead, now time.Time) (*model.Lead, error),
) (*Mutation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = ? AND id = ?`,
		ownerID, leadID,
	)
	before, err := scanLead(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Mutation{Claimed: false}, nil
		}
		return nil, eris.Wrapf(err, "sqlite: read lead %s", leadID)
	}

	if !precondition(before) {
		return &Mutation{Claimed: false, Before: before, After: before}, nil
	}

	after, err := apply(tx, before, time.Now().UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: transition lead %s", leadID)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: commit transition %s", leadID)
	}

	return &Mutation{Claimed: true, Before: before, After: after}, nil
}
