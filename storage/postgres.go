package storage

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"adsync/models"
)

//go:embed schema.sql
var schema string

// PostgresStore is the domain store shared with the dashboard.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// =============================================================================
// Runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	query := `
		INSERT INTO runs (id, kind, customer_id, trigger, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at`

	return s.pool.QueryRow(ctx, query,
		run.ID, run.Kind, run.CustomerID, run.Trigger, run.Status,
	).Scan(&run.CreatedAt)
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `
		SELECT id, kind, customer_id, trigger, status, started_at, finished_at,
			COALESCE(error_message, ''), metadata, created_at
		FROM runs WHERE id = $1`

	var r models.Run
	var metadata []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.Kind, &r.CustomerID, &r.Trigger, &r.Status, &r.StartedAt, &r.FinishedAt,
		&r.ErrorMessage, &metadata, &r.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Metadata = metadata
	return &r, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE runs SET
			status = $2, started_at = $3, finished_at = $4,
			error_message = NULLIF($5, ''), metadata = COALESCE($6, metadata)
		WHERE id = $1`

	var metadata []byte
	if len(run.Metadata) > 0 {
		metadata = run.Metadata
	}
	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Status, run.StartedAt, run.FinishedAt, run.ErrorMessage, metadata,
	)
	return err
}

// =============================================================================
// Inventory Sources
// =============================================================================

const sourceColumns = `id, customer_id, site_id, root_url, active, last_crawled_at, created_at`

func scanSource(row pgx.Row) (*models.InventorySource, error) {
	var src models.InventorySource
	err := row.Scan(&src.ID, &src.CustomerID, &src.SiteID, &src.RootURL, &src.Active, &src.LastCrawledAt, &src.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// GetActiveSource returns the customer's most recently added active
// source, or nil if there is none.
func (s *PostgresStore) GetActiveSource(ctx context.Context, customerID uuid.UUID) (*models.InventorySource, error) {
	query := `SELECT ` + sourceColumns + `
		FROM inventory_sources
		WHERE customer_id = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1`

	src, err := scanSource(s.pool.QueryRow(ctx, query, customerID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return src, err
}

func (s *PostgresStore) ListActiveSources(ctx context.Context) ([]models.InventorySource, error) {
	query := `SELECT DISTINCT ON (customer_id) ` + sourceColumns + `
		FROM inventory_sources
		WHERE active
		ORDER BY customer_id, created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.InventorySource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

func (s *PostgresStore) MarkSourceCrawled(ctx context.Context, sourceID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE inventory_sources SET last_crawled_at = $2 WHERE id = $1`, sourceID, at)
	return err
}

// =============================================================================
// Inventory Items
// =============================================================================

const itemColumns = `id, customer_id, source_id, external_id, title, url, price, status,
	first_seen_at, last_seen_at, last_checked_at, details`

func scanItem(row pgx.Row) (*models.InventoryItem, error) {
	var it models.InventoryItem
	var details []byte
	err := row.Scan(
		&it.ID, &it.CustomerID, &it.SourceID, &it.ExternalID, &it.Title, &it.URL, &it.Price, &it.Status,
		&it.FirstSeenAt, &it.LastSeenAt, &it.LastCheckedAt, &details,
	)
	if err != nil {
		return nil, err
	}
	it.Details = details
	return &it, nil
}

func (s *PostgresStore) GetInventoryItem(ctx context.Context, customerID, sourceID uuid.UUID, externalID string) (*models.InventoryItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM inventory_items
		WHERE customer_id = $1 AND source_id = $2 AND external_id = $3`

	it, err := scanItem(s.pool.QueryRow(ctx, query, customerID, sourceID, externalID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return it, err
}

// UpsertInventoryItem inserts or refreshes an item by its natural key.
// first_seen_at is only written on insert.
func (s *PostgresStore) UpsertInventoryItem(ctx context.Context, it *models.InventoryItem) error {
	query := `
		INSERT INTO inventory_items (
			id, customer_id, source_id, external_id, title, url, price, status,
			first_seen_at, last_seen_at, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (customer_id, source_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			url = EXCLUDED.url,
			price = EXCLUDED.price,
			status = EXCLUDED.status,
			last_seen_at = EXCLUDED.last_seen_at,
			details = COALESCE(EXCLUDED.details, inventory_items.details)
		RETURNING id, first_seen_at`

	return s.pool.QueryRow(ctx, query,
		it.ID, it.CustomerID, it.SourceID, it.ExternalID, it.Title, it.URL, it.Price, it.Status,
		it.FirstSeenAt, it.LastSeenAt, []byte(it.Details),
	).Scan(&it.ID, &it.FirstSeenAt)
}

// RecentItemsWithDetails returns the customer's most recently seen active
// items that carry extraction details.
func (s *PostgresStore) RecentItemsWithDetails(ctx context.Context, customerID uuid.UUID, limit int) ([]models.InventoryItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM inventory_items
		WHERE customer_id = $1 AND status = 'active' AND details IS NOT NULL
		ORDER BY last_seen_at DESC
		LIMIT $2`

	return s.queryItems(ctx, query, customerID, limit)
}

// GetStaleActiveItems returns active items that no crawl has seen and no
// sweep has checked within staleAfter.
func (s *PostgresStore) GetStaleActiveItems(ctx context.Context, staleAfter time.Duration, limit int) ([]models.InventoryItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM inventory_items
		WHERE status = 'active' AND last_seen_at < $1
			AND (last_checked_at IS NULL OR last_checked_at < $1)
		ORDER BY GREATEST(last_seen_at, last_checked_at)
		LIMIT $2`

	return s.queryItems(ctx, query, time.Now().Add(-staleAfter), limit)
}

func (s *PostgresStore) SetItemStatus(ctx context.Context, id uuid.UUID, status models.ItemStatus, checkedAt time.Time) error {
	query := `UPDATE inventory_items SET status = $2, last_checked_at = $3 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, status, checkedAt)
	return err
}

func (s *PostgresStore) queryItems(ctx context.Context, query string, args ...any) ([]models.InventoryItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.InventoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// =============================================================================
// Budget
// =============================================================================

func (s *PostgresStore) GetBudgetPlan(ctx context.Context, customerID uuid.UUID) (*models.BudgetPlan, error) {
	query := `
		SELECT customer_id, monthly_price, monthly_spend_cap, margin_percent, currency,
			pacing_mode, status, created_at, updated_at
		FROM budget_plans WHERE customer_id = $1`

	var p models.BudgetPlan
	err := s.pool.QueryRow(ctx, query, customerID).Scan(
		&p.CustomerID, &p.MonthlyPrice, &p.MonthlySpendCap, &p.MarginPercent, &p.Currency,
		&p.PacingMode, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateBudgetPlan(ctx context.Context, p *models.BudgetPlan) error {
	query := `
		INSERT INTO budget_plans (
			customer_id, monthly_price, monthly_spend_cap, margin_percent, currency,
			pacing_mode, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (customer_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		p.CustomerID, p.MonthlyPrice, p.MonthlySpendCap, p.MarginPercent, p.Currency,
		p.PacingMode, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetOnboardingBudget(ctx context.Context, customerID uuid.UUID) (*models.OnboardingBudget, error) {
	query := `SELECT customer_id, monthly_price, currency FROM onboarding_budgets WHERE customer_id = $1`

	var b models.OnboardingBudget
	err := s.pool.QueryRow(ctx, query, customerID).Scan(&b.CustomerID, &b.MonthlyPrice, &b.Currency)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// =============================================================================
// Ad Settings, Connections, Approvals
// =============================================================================

func (s *PostgresStore) GetAdSettings(ctx context.Context, customerID uuid.UUID) (*models.AdSettings, error) {
	query := `
		SELECT customer_id, status, country, geo, formats, published_at,
			COALESCE(last_error, ''), updated_at
		FROM ad_settings WHERE customer_id = $1`

	var a models.AdSettings
	err := s.pool.QueryRow(ctx, query, customerID).Scan(
		&a.CustomerID, &a.Status, &a.Country, &a.Geo, &a.Formats, &a.PublishedAt,
		&a.LastError, &a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) MarkAdSettingsPublished(ctx context.Context, customerID uuid.UUID, at time.Time) error {
	query := `
		UPDATE ad_settings SET status = $2, published_at = $3, last_error = NULL, updated_at = $3
		WHERE customer_id = $1`
	_, err := s.pool.Exec(ctx, query, customerID, models.AdSettingsActive, at)
	return err
}

func (s *PostgresStore) MarkAdSettingsError(ctx context.Context, customerID uuid.UUID, message string) error {
	query := `
		UPDATE ad_settings SET status = $2, last_error = $3, updated_at = NOW()
		WHERE customer_id = $1`
	_, err := s.pool.Exec(ctx, query, customerID, models.AdSettingsError, message)
	return err
}

func (s *PostgresStore) GetPlatformConnection(ctx context.Context, customerID uuid.UUID) (*models.PlatformConnection, error) {
	query := `
		SELECT customer_id, status, ad_account_id, access_token, updated_at
		FROM platform_connections WHERE customer_id = $1`

	var c models.PlatformConnection
	err := s.pool.QueryRow(ctx, query, customerID).Scan(
		&c.CustomerID, &c.Status, &c.AdAccountID, &c.AccessToken, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) HasApprovedTemplate(ctx context.Context, customerID uuid.UUID) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM template_approvals WHERE customer_id = $1)`, customerID)
}

func (s *PostgresStore) HasPreview(ctx context.Context, customerID uuid.UUID) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM ad_previews WHERE customer_id = $1)`, customerID)
}

func (s *PostgresStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, query, args...).Scan(&ok)
	return ok, err
}

// =============================================================================
// External Ad Objects
// =============================================================================

func (s *PostgresStore) GetExternalAdObjects(ctx context.Context, customerID uuid.UUID) (*models.ExternalAdObjects, error) {
	query := `
		SELECT customer_id, catalog_id, campaign_id, adset_id, creative_id, ad_id, status,
			COALESCE(last_publish_step, ''), COALESCE(last_publish_error, ''), last_synced_at
		FROM external_ad_objects WHERE customer_id = $1`

	var o models.ExternalAdObjects
	err := s.pool.QueryRow(ctx, query, customerID).Scan(
		&o.CustomerID, &o.CatalogID, &o.CampaignID, &o.AdSetID, &o.CreativeID, &o.AdID, &o.Status,
		&o.LastPublishStep, &o.LastPublishError, &o.LastSyncedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpsertExternalAdObjects writes the full checkpoint row.
func (s *PostgresStore) UpsertExternalAdObjects(ctx context.Context, o *models.ExternalAdObjects) error {
	query := `
		INSERT INTO external_ad_objects (
			customer_id, catalog_id, campaign_id, adset_id, creative_id, ad_id, status,
			last_publish_step, last_publish_error, last_synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10)
		ON CONFLICT (customer_id) DO UPDATE SET
			catalog_id = EXCLUDED.catalog_id,
			campaign_id = EXCLUDED.campaign_id,
			adset_id = EXCLUDED.adset_id,
			creative_id = EXCLUDED.creative_id,
			ad_id = EXCLUDED.ad_id,
			status = EXCLUDED.status,
			last_publish_step = COALESCE(EXCLUDED.last_publish_step, external_ad_objects.last_publish_step),
			last_publish_error = EXCLUDED.last_publish_error,
			last_synced_at = EXCLUDED.last_synced_at`

	status := o.Status
	if status == "" {
		status = "pending"
	}
	_, err := s.pool.Exec(ctx, query,
		o.CustomerID, o.CatalogID, o.CampaignID, o.AdSetID, o.CreativeID, o.AdID, status,
		o.LastPublishStep, o.LastPublishError, o.LastSyncedAt,
	)
	return err
}
