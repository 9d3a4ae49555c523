package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx used by Queries, satisfied by both *pgxpool.Pool
// and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// --- Sync runs ---

type CreateSyncRunParams struct {
	Trigger string
}

func (q *Queries) CreateSyncRun(ctx context.Context, arg CreateSyncRunParams) (SyncRun, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO sync_runs (id, status, trigger, started_at)
		 VALUES (gen_random_uuid(), 'pending', $1, now())
		 RETURNING id, status, trigger, emails_fetched, companies_extracted,
		           new_companies, total_mentions, error_message, started_at, completed_at`,
		arg.Trigger)
	return scanSyncRun(row)
}

type UpdateSyncRunStatusParams struct {
	ID           uuid.UUID
	Status       string
	ErrorMessage *string
}

func (q *Queries) UpdateSyncRunStatus(ctx context.Context, arg UpdateSyncRunStatusParams) error {
	_, err := q.db.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $2,
		     error_message = $3,
		     completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE completed_at END
		 WHERE id = $1`,
		arg.ID, arg.Status, arg.ErrorMessage)
	return err
}

type UpdateSyncRunStatsParams struct {
	ID                 uuid.UUID
	EmailsFetched      int32
	CompaniesExtracted int32
	NewCompanies       int32
	TotalMentions      int32
}

func (q *Queries) UpdateSyncRunStats(ctx context.Context, arg UpdateSyncRunStatsParams) error {
	_, err := q.db.Exec(ctx,
		`UPDATE sync_runs
		 SET emails_fetched = $2, companies_extracted = $3,
		     new_companies = $4, total_mentions = $5
		 WHERE id = $1`,
		arg.ID, arg.EmailsFetched, arg.CompaniesExtracted, arg.NewCompanies, arg.TotalMentions)
	return err
}

func (q *Queries) GetSyncRun(ctx context.Context, id uuid.UUID) (SyncRun, error) {
	row := q.db.QueryRow(ctx,
		`SELECT id, status, trigger, emails_fetched, companies_extracted,
		        new_companies, total_mentions, error_message, started_at, completed_at
		 FROM sync_runs WHERE id = $1`, id)
	return scanSyncRun(row)
}

// GetLatestCompletedSyncRun returns the most recent successful run, used for
// the freshness short-circuit and the status endpoint.
func (q *Queries) GetLatestCompletedSyncRun(ctx context.Context) (SyncRun, error) {
	row := q.db.QueryRow(ctx,
		`SELECT id, status, trigger, emails_fetched, companies_extracted,
		        new_companies, total_mentions, error_message, started_at, completed_at
		 FROM sync_runs
		 WHERE status = 'completed'
		 ORDER BY completed_at DESC
		 LIMIT 1`)
	return scanSyncRun(row)
}

// GetActiveSyncRun returns a pending or running run if one exists.
func (q *Queries) GetActiveSyncRun(ctx context.Context) (SyncRun, error) {
	row := q.db.QueryRow(ctx,
		`SELECT id, status, trigger, emails_fetched, companies_extracted,
		        new_companies, total_mentions, error_message, started_at, completed_at
		 FROM sync_runs
		 WHERE status IN ('pending', 'running')
		 ORDER BY started_at DESC
		 LIMIT 1`)
	return scanSyncRun(row)
}

type ListSyncRunsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListSyncRuns(ctx context.Context, arg ListSyncRunsParams) ([]SyncRun, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, status, trigger, emails_fetched, companies_extracted,
		        new_companies, total_mentions, error_message, started_at, completed_at
		 FROM sync_runs
		 ORDER BY started_at DESC
		 LIMIT $1 OFFSET $2`,
		arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, run)
	}
	return items, rows.Err()
}

// --- Emails ---

func (q *Queries) ListUnprocessedEmails(ctx context.Context, limit int32) ([]Email, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, newsletter, subject, sender, body_html, received_at, processed_at
		 FROM emails
		 WHERE processed_at IS NULL
		 ORDER BY received_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Email
	for rows.Next() {
		var e Email
		if err := rows.Scan(&e.ID, &e.Newsletter, &e.Subject, &e.Sender,
			&e.BodyHTML, &e.ReceivedAt, &e.ProcessedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (q *Queries) MarkEmailProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx,
		`UPDATE emails SET processed_at = now() WHERE id = $1`, id)
	return err
}

// --- Companies & mentions ---

type UpsertCompanyParams struct {
	Name        string
	Description string
}

// UpsertCompany inserts or refreshes a company by name. The returned isNew
// flag distinguishes a first sighting from a repeat mention (xmax = 0 only
// for freshly inserted rows).
func (q *Queries) UpsertCompany(ctx context.Context, arg UpsertCompanyParams) (Company, bool, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO companies (id, name, description, mention_count, first_seen_at, updated_at)
		 VALUES (gen_random_uuid(), $1, $2, 1, now(), now())
		 ON CONFLICT (name) DO UPDATE
		 SET description = CASE WHEN companies.description = '' THEN EXCLUDED.description ELSE companies.description END,
		     mention_count = companies.mention_count + 1,
		     updated_at = now()
		 RETURNING id, name, description, mention_count, first_seen_at, updated_at, (xmax = 0)`,
		arg.Name, arg.Description)

	var c Company
	var isNew bool
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.MentionCount,
		&c.FirstSeenAt, &c.UpdatedAt, &isNew); err != nil {
		return Company{}, false, err
	}
	return c, isNew, nil
}

type CreateMentionParams struct {
	CompanyID  uuid.UUID
	EmailID    uuid.UUID
	Context    string
	Sentiment  string
	Confidence float64
}

func (q *Queries) CreateMention(ctx context.Context, arg CreateMentionParams) (Mention, error) {
	row := q.db.QueryRow(ctx,
		`INSERT INTO company_mentions (id, company_id, email_id, context, sentiment, confidence, created_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, now())
		 RETURNING id, company_id, email_id, context, sentiment, confidence, created_at`,
		arg.CompanyID, arg.EmailID, arg.Context, arg.Sentiment, arg.Confidence)

	var m Mention
	if err := row.Scan(&m.ID, &m.CompanyID, &m.EmailID, &m.Context,
		&m.Sentiment, &m.Confidence, &m.CreatedAt); err != nil {
		return Mention{}, err
	}
	return m, nil
}

// GetPipelineStats returns whole-database totals for the status endpoint.
func (q *Queries) GetPipelineStats(ctx context.Context) (PipelineStats, error) {
	row := q.db.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM emails),
		        (SELECT count(*) FROM companies),
		        (SELECT count(*) FROM company_mentions)`)

	var s PipelineStats
	if err := row.Scan(&s.TotalEmails, &s.TotalCompanies, &s.TotalMentions); err != nil {
		return PipelineStats{}, err
	}
	return s, nil
}

func scanSyncRun(row pgx.Row) (SyncRun, error) {
	var r SyncRun
	err := row.Scan(&r.ID, &r.Status, &r.Trigger, &r.EmailsFetched,
		&r.CompaniesExtracted, &r.NewCompanies, &r.TotalMentions,
		&r.ErrorMessage, &r.StartedAt, &r.CompletedAt)
	return r, err
}
