package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgen/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local
// development and tests. Production runs use Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	state             TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT '',
	source_id         TEXT NOT NULL DEFAULT '',
	data              TEXT NOT NULL,
	lead_score        INTEGER NOT NULL DEFAULT 0,
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	crm_sync_status   TEXT NOT NULL DEFAULT 'pending',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_source
	ON companies(source, source_id) WHERE source_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_name_state
	ON companies(lower(name), state) WHERE source_id = '';
CREATE INDEX IF NOT EXISTS idx_companies_enrichment_status ON companies(enrichment_status);
CREATE INDEX IF NOT EXISTS idx_companies_sync_status ON companies(crm_sync_status);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_company_id ON contacts(company_id);

CREATE TABLE IF NOT EXISTS score_records (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	total_score INTEGER NOT NULL,
	data        TEXT NOT NULL,
	computed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_records_company ON score_records(company_id, computed_at DESC);

CREATE TABLE IF NOT EXISTS provider_usage (
	provider      TEXT NOT NULL,
	day           TEXT NOT NULL,
	month         TEXT NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0,
	cost          TEXT NOT NULL DEFAULT '0',
	PRIMARY KEY (provider, day)
);

CREATE INDEX IF NOT EXISTS idx_provider_usage_month ON provider_usage(provider, month);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertCompany(ctx context.Context, c *model.Company) (bool, error) {
	now := time.Now().UTC()

	var existingID string
	var err error
	if c.SourceID != "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM companies WHERE source = ? AND source_id = ?`,
			c.Source, c.SourceID,
		).Scan(&existingID)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM companies WHERE lower(name) = lower(?) AND state = ? AND source_id = ''`,
			c.Name, c.State,
		).Scan(&existingID)
	}

	switch {
	case err == nil:
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
			return false, eris.Wrap(mErr, "sqlite: marshal company")
		}
		_, uErr := s.db.ExecContext(ctx,
			`UPDATE companies SET name = ?, state = ?, data = ?, updated_at = ? WHERE id = ?`,
			c.Name, c.State, string(data), now, existingID,
		)
		if uErr != nil {
			return false, eris.Wrap(uErr, "sqlite: update company")
		}
		return false, nil

	case errors.Is(err, sql.ErrNoRows):
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
			return false, eris.Wrap(mErr, "sqlite: marshal company")
		}
		_, iErr := s.db.ExecContext(ctx,
			`INSERT INTO companies (id, name, state, source, source_id, data, lead_score, enrichment_status, crm_sync_status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.State, c.Source, c.SourceID, string(data),
			c.LeadScore, string(c.EnrichmentStatus), string(c.CRMSyncStatus), now, now,
		)
		if iErr != nil {
			return false, eris.Wrap(iErr, "sqlite: insert company")
		}
		return true, nil

	default:
		return false, eris.Wrap(err, "sqlite: find company")
	}
}

func (s *SQLiteStore) scanCompany(row interface{ Scan(...any) error }) (*model.Company, error) {
	var (
		id, data             string
		leadScore            int
		enrichStatus, syncSt string
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&id, &data, &leadScore, &enrichStatus, &syncSt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan company")
	}
	var c model.Company
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal company")
	}
	c.ID = id
	c.LeadScore = leadScore
	c.EnrichmentStatus = model.EnrichmentStatus(enrichStatus)
	c.CRMSyncStatus = model.SyncStatus(syncSt)
	c.CreatedAt = createdAt
	c.UpdatedAt = updatedAt
	return &c, nil
}

const companyColumns = `id, data, lead_score, enrichment_status, crm_sync_status, created_at, updated_at`

func (s *SQLiteStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = ?`, id)
	return s.scanCompany(row)
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, filter CompanyFilter) ([]model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE 1=1`
	var args []any
	if filter.EnrichmentStatus != "" {
		query += ` AND enrichment_status = ?`
		args = append(args, string(filter.EnrichmentStatus))
	}
	if filter.SyncStatus != "" {
		query += ` AND crm_sync_status = ?`
		args = append(args, string(filter.SyncStatus))
	}
	if filter.MinScore > 0 {
		query += ` AND lead_score >= ?`
		args = append(args, filter.MinScore)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		c, err := s.scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClaimEnrichment(ctx context.Context, id string, expected, next model.EnrichmentStatus) (bool, error) {
	if !expected.CanTransition(next) {
		return false, eris.Errorf("sqlite: invalid transition %s -> %s", expected, next)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET enrichment_status = ?, updated_at = ? WHERE id = ? AND enrichment_status = ?`,
		string(next), time.Now().UTC(), id, string(expected),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim enrichment")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim enrichment rows")
	}
	return n == 1, nil
}

func (s *SQLiteStore) FinishEnrichment(ctx context.Context, id string, status model.EnrichmentStatus) error {
	company, err := s.GetCompany(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	company.EnrichmentStatus = status
	company.LastEnrichedAt = &now
	company.UpdatedAt = now

	data, err := json.Marshal(company)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal company")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE companies SET enrichment_status = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(status), string(data), now, id,
	)
	return eris.Wrap(err, "sqlite: finish enrichment")
}

func (s *SQLiteStore) UpdateLeadScore(ctx context.Context, id string, score int) error {
	company, err := s.GetCompany(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	company.LeadScore = score
	company.UpdatedAt = now
	data, err := json.Marshal(company)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal company")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE companies SET lead_score = ?, data = ?, updated_at = ? WHERE id = ?`,
		score, string(data), now, id,
	)
	return eris.Wrap(err, "sqlite: update lead score")
}

func (s *SQLiteStore) FinishSync(ctx context.Context, id string, status model.SyncStatus, crmOrgID, syncErr string) error {
	company, err := s.GetCompany(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	company.CRMSyncStatus = status
	company.CRMOrgID = crmOrgID
	company.SyncError = syncErr
	company.LastSyncAttemptAt = &now
	company.UpdatedAt = now

	data, err := json.Marshal(company)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal company")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE companies SET crm_sync_status = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(status), string(data), now, id,
	)
	return eris.Wrap(err, "sqlite: finish sync")
}

func (s *SQLiteStore) ReplaceContacts(ctx context.Context, companyID string, contacts []model.Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace contacts")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE company_id = ?`, companyID); err != nil {
		return eris.Wrap(err, "sqlite: delete contacts")
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
			return eris.Wrap(mErr, "sqlite: marshal contact")
		}
		if _, iErr := tx.ExecContext(ctx,
			`INSERT INTO contacts (id, company_id, data, created_at) VALUES (?, ?, ?, ?)`,
			c.ID, companyID, string(data), c.CreatedAt,
		); iErr != nil {
			return eris.Wrap(iErr, "sqlite: insert contact")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace contacts")
}

func (s *SQLiteStore) ListContacts(ctx context.Context, companyID string) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM contacts WHERE company_id = ? ORDER BY created_at`, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		var c model.Contact
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal contact")
		}
		c.ID = id
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetContactCRM(ctx context.Context, contactID, crmPersonID string) error {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM contacts WHERE id = ?`, contactID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: get contact")
	}
	var c model.Contact
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal contact")
	}
	c.CRMPersonID = crmPersonID
	c.CRMSyncStatus = model.SyncSynced
	updated, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact")
	}
	_, err = s.db.ExecContext(ctx, `UPDATE contacts SET data = ? WHERE id = ?`, string(updated), contactID)
	return eris.Wrap(err, "sqlite: set contact crm")
}

func (s *SQLiteStore) InsertScore(ctx context.Context, rec *model.ScoreRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO score_records (id, company_id, total_score, data, computed_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.CompanyID, rec.TotalScore, string(data), rec.ComputedAt,
	)
	return eris.Wrap(err, "sqlite: insert score")
}

func (s *SQLiteStore) LatestScore(ctx context.Context, companyID string) (*model.ScoreRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM score_records WHERE company_id = ? ORDER BY computed_at DESC LIMIT 1`,
		companyID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest score")
	}
	var rec model.ScoreRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal score")
	}
	return &rec, nil
}

func (s *SQLiteStore) IncrementUsage(ctx context.Context, provider, day, month string, success bool, callCost decimal.Decimal) error {
	successInc, errorInc := 0, 1
	if success {
		successInc, errorInc = 1, 0
	}
	// Cost is stored as text and summed in Go; SQLite has no decimal type.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin usage")
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT cost FROM provider_usage WHERE provider = ? AND day = ?`, provider, day,
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider_usage (provider, day, month, request_count, success_count, error_count, cost)
			 VALUES (?, ?, ?, 1, ?, ?, ?)`,
			provider, day, month, successInc, errorInc, callCost.String(),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert usage")
		}
	case err != nil:
		return eris.Wrap(err, "sqlite: read usage")
	default:
		spent, pErr := decimal.NewFromString(current)
		if pErr != nil {
			return eris.Wrap(pErr, "sqlite: parse usage cost")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE provider_usage SET request_count = request_count + 1,
				success_count = success_count + ?, error_count = error_count + ?, cost = ?
			 WHERE provider = ? AND day = ?`,
			successInc, errorInc, spent.Add(callCost).String(), provider, day,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: update usage")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit usage")
}

func (s *SQLiteStore) MonthUsage(ctx context.Context, provider, month string) (int, decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_count, cost FROM provider_usage WHERE provider = ? AND month = ?`,
		provider, month,
	)
	if err != nil {
		return 0, decimal.Zero, eris.Wrap(err, "sqlite: month usage")
	}
	defer rows.Close()

	requests := 0
	spent := decimal.Zero
	for rows.Next() {
		var count int
		var cost string
		if err := rows.Scan(&count, &cost); err != nil {
			return 0, decimal.Zero, eris.Wrap(err, "sqlite: scan usage")
		}
		c, pErr := decimal.NewFromString(cost)
		if pErr != nil {
			return 0, decimal.Zero, eris.Wrap(pErr, "sqlite: parse usage cost")
		}
		requests += count
		spent = spent.Add(c)
	}
	return requests, spent, rows.Err()
}

func (s *SQLiteStore) DayUsage(ctx context.Context, provider, day string) (int, error) {
	var requests int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(request_count), 0) FROM provider_usage WHERE provider = ? AND day = ?`,
		provider, day,
	).Scan(&requests)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: day usage")
	}
	return requests, nil
}

func (s *SQLiteStore) UsageByMonth(ctx context.Context, month string) ([]model.ProviderUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, month, request_count, success_count, error_count, cost
		 FROM provider_usage WHERE month = ? ORDER BY provider, day`,
		month,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: usage by month")
	}
	defer rows.Close()

	byProvider := make(map[string]*model.ProviderUsage)
	var order []string
	for rows.Next() {
		var u model.ProviderUsage
		var cost string
		if err := rows.Scan(&u.Provider, &u.Month, &u.RequestCount, &u.SuccessCount, &u.ErrorCount, &cost); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		c, pErr := decimal.NewFromString(cost)
		if pErr != nil {
			return nil, eris.Wrap(pErr, "sqlite: parse usage cost")
		}
		agg, ok := byProvider[u.Provider]
		if !ok {
			u.Cost = c
			byProvider[u.Provider] = &u
			order = append(order, u.Provider)
			continue
		}
		agg.RequestCount += u.RequestCount
		agg.SuccessCount += u.SuccessCount
		agg.ErrorCount += u.ErrorCount
		agg.Cost = agg.Cost.Add(c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: usage rows")
	}

	out := make([]model.ProviderUsage, 0, len(order))
	for _, p := range order {
		out = append(out, *byProvider[p])
	}
	return out, nil
}

func (s *SQLiteStore) statusCounts(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM companies GROUP BY `+column)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: counts by %s", column)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan counts")
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (s *SQLiteStore) EnrichmentCounts(ctx context.Context) (map[model.EnrichmentStatus]int, error) {
	raw, err := s.statusCounts(ctx, "enrichment_status")
	if err != nil {
		return nil, err
	}
	out := make(map[model.EnrichmentStatus]int, len(raw))
	for k, v := range raw {
		out[model.EnrichmentStatus(k)] = v
	}
	return out, nil
}

func (s *SQLiteStore) SyncCounts(ctx context.Context) (map[model.SyncStatus]int, error) {
	raw, err := s.statusCounts(ctx, "crm_sync_status")
	if err != nil {
		return nil, err
	}
	out := make(map[model.SyncStatus]int, len(raw))
	for k, v := range raw {
		out[model.SyncStatus(k)] = v
	}
	return out, nil
}
