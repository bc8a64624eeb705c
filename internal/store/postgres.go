package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/leadgen/internal/db"
	"github.com/sells-group/leadgen/internal/model"
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

// preparedStatements lists hot-path queries prepared on each new
// connection. Claims and usage increments run once per pipeline stage
// per company.
var preparedStatements = map[string]string{
	"get_company": `SELECT id, data, lead_score, enrichment_status, crm_sync_status, created_at, updated_at FROM companies WHERE id = $1`,
	"claim_enrichment": `UPDATE companies SET enrichment_status = $1, updated_at = now() WHERE id = $2 AND enrichment_status = $3`,
	"finish_enrichment": `UPDATE companies SET enrichment_status = $1, data = jsonb_set(data, '{last_enriched_at}', to_jsonb(now())), updated_at = now() WHERE id = $2`,
	"update_lead_score": `UPDATE companies SET lead_score = $1, data = jsonb_set(data, '{lead_score}', to_jsonb($1::int)), updated_at = now() WHERE id = $2`,
	"list_contacts":     `SELECT id, data FROM contacts WHERE company_id = $1 ORDER BY created_at`,
	"insert_score":      `INSERT INTO score_records (id, company_id, total_score, data, computed_at) VALUES ($1, $2, $3, $4, $5)`,
	"latest_score":      `SELECT data FROM score_records WHERE company_id = $1 ORDER BY computed_at DESC LIMIT 1`,
	"increment_usage": `INSERT INTO provider_usage (provider, day, month, request_count, success_count, error_count, cost)
		VALUES ($1, $2, $3, 1, $4, $5, $6)
		ON CONFLICT (provider, day) DO UPDATE SET
			request_count = provider_usage.request_count + 1,
			success_count = provider_usage.success_count + $4,
			error_count   = provider_usage.error_count + $5,
			cost          = provider_usage.cost + $6`,
	"month_usage": `SELECT COALESCE(SUM(request_count), 0), COALESCE(SUM(cost), 0) FROM provider_usage WHERE provider = $1 AND month = $2`,
	"day_usage":   `SELECT COALESCE(SUM(request_count), 0) FROM provider_usage WHERE provider = $1 AND day = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

// NewPostgresWithPool wraps an existing pool, for tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

// Pool exposes the underlying pool for bulk import paths.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	state             TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	source_id         TEXT NOT NULL DEFAULT '',
	data              JSONB NOT NULL,
	lead_score        INT NOT NULL DEFAULT 0,
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	crm_sync_status   TEXT NOT NULL DEFAULT 'pending',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_source
	ON companies(source, source_id) WHERE source_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_name_state
	ON companies(lower(name), state) WHERE source_id = '';
CREATE INDEX IF NOT EXISTS idx_companies_enrichment_status ON companies(enrichment_status);
CREATE INDEX IF NOT EXISTS idx_companies_sync_status ON companies(crm_sync_status);
CREATE INDEX IF NOT EXISTS idx_companies_lead_score ON companies(lead_score DESC);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contacts_company_id ON contacts(company_id);

CREATE TABLE IF NOT EXISTS score_records (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	total_score INT NOT NULL,
	data        JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_score_records_company ON score_records(company_id, computed_at DESC);

CREATE TABLE IF NOT EXISTS provider_usage (
	provider      TEXT NOT NULL,
	day           TEXT NOT NULL,
	month         TEXT NOT NULL,
	request_count INT NOT NULL DEFAULT 0,
	success_count INT NOT NULL DEFAULT 0,
	error_count   INT NOT NULL DEFAULT 0,
	cost          NUMERIC(12,4) NOT NULL DEFAULT 0,
	PRIMARY KEY (provider, day)
);

CREATE INDEX IF NOT EXISTS idx_provider_usage_month ON provider_usage(provider, month);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) UpsertCompany(ctx context.Context, c *model.Company) (bool, error) {
	now := time.Now().UTC()

	var existingID string
	var err error
	if c.SourceID != "" {
		err = s.pool.QueryRow(ctx,
			`SELECT id FROM companies WHERE source = $1 AND source_id = $2`,
			c.Source, c.SourceID,
		).Scan(&existingID)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT id FROM companies WHERE lower(name) = lower($1) AND state = $2 AND source_id = ''`,
			c.Name, c.State,
		).Scan(&existingID)
	}

	switch {
	case err == nil:
		// Re-import refreshes firmographics but never resets pipeline
		// state; the stored statuses and score win.
		c.ID = existingID
		existing, getErr := s.GetCompany(ctx, existingID)
		if getErr != nil {
			return false, getErr
		}
		c.EnrichmentStatus = existing.EnrichmentStatus
		c.CRMSyncStatus = existing.CRMSyncStatus
		c.LeadScore = existing.LeadScore
		c.CRMOrgID = existing.CRMOrgID
		c.SyncError = existing.SyncError
		c.LastEnrichedAt = existing.LastEnrichedAt
		c.LastSyncAttemptAt = existing.LastSyncAttemptAt
		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = now

		data, mErr := json.Marshal(c)
		if mErr != nil {
			return false, eris.Wrap(mErr, "postgres: marshal company")
		}
		if _, uErr := s.pool.Exec(ctx,
			`UPDATE companies SET name = $1, state = $2, data = $3, updated_at = $4 WHERE id = $5`,
			c.Name, c.State, data, now, existingID,
		); uErr != nil {
			return false, eris.Wrap(uErr, "postgres: update company")
		}
		return false, nil

	case errors.Is(err, pgx.ErrNoRows):
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.EnrichmentStatus == "" {
			c.EnrichmentStatus = model.EnrichmentPending
		}
		if c.CRMSyncStatus == "" {
			c.CRMSyncStatus = model.SyncPending
		}
		c.CreatedAt = now
		c.UpdatedAt = now

		data, mErr := json.Marshal(c)
		if mErr != nil {
			return false, eris.Wrap(mErr, "postgres: marshal company")
		}
		if _, iErr := s.pool.Exec(ctx,
			`INSERT INTO companies (id, name, state, source, source_id, data, lead_score, enrichment_status, crm_sync_status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, c.Name, c.State, c.Source, c.SourceID, data,
			c.LeadScore, string(c.EnrichmentStatus), string(c.CRMSyncStatus), now, now,
		); iErr != nil {
			return false, eris.Wrap(iErr, "postgres: insert company")
		}
		return true, nil

	default:
		return false, eris.Wrap(err, "postgres: find company")
	}
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	var (
		data                 []byte
		leadScore            int
		enrichStatus, syncSt string
		createdAt, updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, "get_company", id).Scan(
		&id, &data, &leadScore, &enrichStatus, &syncSt, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get company")
	}

	var c model.Company
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal company")
	}
	// Mirrored columns are authoritative over the JSON snapshot.
	c.ID = id
	c.LeadScore = leadScore
	c.EnrichmentStatus = model.EnrichmentStatus(enrichStatus)
	c.CRMSyncStatus = model.SyncStatus(syncSt)
	c.CreatedAt = createdAt
	c.UpdatedAt = updatedAt
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error) {
	sql := `SELECT id, data, lead_score, enrichment_status, crm_sync_status, created_at, updated_at FROM companies WHERE 1=1`
	args := []any{}
	n := 0
	if filter.EnrichmentStatus != "" {
		n++
		sql += ` AND enrichment_status = $` + itoa(n)
		args = append(args, string(filter.EnrichmentStatus))
	}
	if filter.SyncStatus != "" {
		n++
		sql += ` AND crm_sync_status = $` + itoa(n)
		args = append(args, string(filter.SyncStatus))
	}
	if filter.MinScore > 0 {
		n++
		sql += ` AND lead_score >= $` + itoa(n)
		args = append(args, filter.MinScore)
	}
	sql += ` ORDER BY updated_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	sql += ` LIMIT $` + itoa(n)
	args = append(args, limit)
	if filter.Offset > 0 {
		n++
		sql += ` OFFSET $` + itoa(n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var (
			id                   string
			data                 []byte
			leadScore            int
			enrichStatus, syncSt string
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &data, &leadScore, &enrichStatus, &syncSt, &createdAt, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		var c model.Company
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal company")
		}
		c.ID = id
		c.LeadScore = leadScore
		c.EnrichmentStatus = model.EnrichmentStatus(enrichStatus)
		c.CRMSyncStatus = model.SyncStatus(syncSt)
		c.CreatedAt = createdAt
		c.UpdatedAt = updatedAt
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClaimEnrichment(ctx context.Context, id string, expected, next model.EnrichmentStatus) (bool, error) {
	if !expected.CanTransition(next) {
		return false, eris.Errorf("postgres: invalid transition %s -> %s", expected, next)
	}
	tag, err := s.pool.Exec(ctx, "claim_enrichment", string(next), id, string(expected))
	if err != nil {
		return false, eris.Wrap(err, "postgres: claim enrichment")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) FinishEnrichment(ctx context.Context, id string, status model.EnrichmentStatus) error {
	tag, err := s.pool.Exec(ctx, "finish_enrichment", string(status), id)
	if err != nil {
		return eris.Wrap(err, "postgres: finish enrichment")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateLeadScore(ctx context.Context, id string, score int) error {
	tag, err := s.pool.Exec(ctx, "update_lead_score", score, id)
	if err != nil {
		return eris.Wrap(err, "postgres: update lead score")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FinishSync(ctx context.Context, id string, status model.SyncStatus, crmOrgID, syncErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET crm_sync_status = $1,
			data = data || jsonb_build_object('crm_org_id', $2::text, 'sync_error', $3::text, 'last_sync_attempt_at', now()),
			updated_at = now()
		 WHERE id = $4`,
		string(status), crmOrgID, syncErr, id,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: finish sync")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReplaceContacts(ctx context.Context, companyID string, contacts []model.Contact) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace contacts")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM contacts WHERE company_id = $1`, companyID); err != nil {
		return eris.Wrap(err, "postgres: delete contacts")
	}
	now := time.Now().UTC()
	for i := range contacts {
		c := &contacts[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CompanyID = companyID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		data, mErr := json.Marshal(c)
		if mErr != nil {
			return eris.Wrap(mErr, "postgres: marshal contact")
		}
		if _, iErr := tx.Exec(ctx,
			`INSERT INTO contacts (id, company_id, data, created_at) VALUES ($1, $2, $3, $4)`,
			c.ID, companyID, data, c.CreatedAt,
		); iErr != nil {
			return eris.Wrap(iErr, "postgres: insert contact")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit replace contacts")
	}
	return nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, companyID string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx, "list_contacts", companyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		var c model.Contact
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal contact")
		}
		c.ID = id
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetContactCRM(ctx context.Context, contactID, crmPersonID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET data = data || jsonb_build_object('crm_person_id', $1::text, 'crm_sync_status', 'synced') WHERE id = $2`,
		crmPersonID, contactID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set contact crm")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertScore(ctx context.Context, rec *model.ScoreRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score")
	}
	if _, err := s.pool.Exec(ctx, "insert_score",
		rec.ID, rec.CompanyID, rec.TotalScore, data, rec.ComputedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert score")
	}
	return nil
}

func (s *PostgresStore) LatestScore(ctx context.Context, companyID string) (*model.ScoreRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, "latest_score", companyID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest score")
	}
	var rec model.ScoreRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal score")
	}
	return &rec, nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, provider, day, month string, success bool, callCost decimal.Decimal) error {
	successInc, errorInc := 0, 1
	if success {
		successInc, errorInc = 1, 0
	}
	if _, err := s.pool.Exec(ctx, "increment_usage",
		provider, day, month, successInc, errorInc, callCost,
	); err != nil {
		return eris.Wrap(err, "postgres: increment usage")
	}
	return nil
}

func (s *PostgresStore) MonthUsage(ctx context.Context, provider, month string) (int, decimal.Decimal, error) {
	var requests int
	var spent decimal.Decimal
	err := s.pool.QueryRow(ctx, "month_usage", provider, month).Scan(&requests, &spent)
	if err != nil {
		return 0, decimal.Zero, eris.Wrap(err, "postgres: month usage")
	}
	return requests, spent, nil
}

func (s *PostgresStore) DayUsage(ctx context.Context, provider, day string) (int, error) {
	var requests int
	if err := s.pool.QueryRow(ctx, "day_usage", provider, day).Scan(&requests); err != nil {
		return 0, eris.Wrap(err, "postgres: day usage")
	}
	return requests, nil
}

func (s *PostgresStore) UsageByMonth(ctx context.Context, month string) ([]model.ProviderUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, month, SUM(request_count), SUM(success_count), SUM(error_count), SUM(cost)
		 FROM provider_usage WHERE month = $1 GROUP BY provider, month ORDER BY provider`,
		month,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: usage by month")
	}
	defer rows.Close()

	var out []model.ProviderUsage
	for rows.Next() {
		var u model.ProviderUsage
		if err := rows.Scan(&u.Provider, &u.Month, &u.RequestCount, &u.SuccessCount, &u.ErrorCount, &u.Cost); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EnrichmentCounts(ctx context.Context) (map[model.EnrichmentStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT enrichment_status, COUNT(*) FROM companies GROUP BY enrichment_status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enrichment counts")
	}
	defer rows.Close()

	out := make(map[model.EnrichmentStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan counts")
		}
		out[model.EnrichmentStatus(status)] = count
	}
	return out, rows.Err()
}

func (s *PostgresStore) SyncCounts(ctx context.Context) (map[model.SyncStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT crm_sync_status, COUNT(*) FROM companies GROUP BY crm_sync_status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: sync counts")
	}
	defer rows.Close()

	out := make(map[model.SyncStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan counts")
		}
		out[model.SyncStatus(status)] = count
	}
	return out, rows.Err()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
