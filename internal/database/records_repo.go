package database

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/brandlens/backend/internal/models"
	"github.com/brandlens/backend/internal/store"
)

const (
	brandsTable    = "brands"
	promptsTable   = "prompts"
	responsesTable = "responses"
	campaignsTable = "campaigns"
	trafficTable   = "ga4_daily_traffic"
	dimensionTable = "ga4_dimension_rows"
	rankingTable   = "aa_rankings"
	snapshotTable  = "kpi_snapshots"

	// insertChunk keeps multi-row inserts well under the 65535 parameter cap.
	insertChunk = 500
)

// RecordRepository is the PostgreSQL record store. Every write runs in one
// transaction, so a batch lands completely or not at all.
type RecordRepository struct {
	db  *DB
	now func() time.Time
}

var _ store.Store = (*RecordRepository)(nil)

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db, now: time.Now}
}

// idTable describes a table keyed by an external numeric id.
type idTable[T any] struct {
	name    string
	columns []string
	id      func(T) int64
	values  func(T) []any
}

var (
	brandRows = idTable[models.Brand]{
		name:    brandsTable,
		columns: []string{"name", "website"},
		id:      func(b models.Brand) int64 { return b.ID },
		values:  func(b models.Brand) []any { return []any{b.Name, b.Website} },
	}
	promptRows = idTable[models.Prompt]{
		name:    promptsTable,
		columns: []string{"brand_id", "text", "stage", "persona"},
		id:      func(p models.Prompt) int64 { return p.ID },
		values:  func(p models.Prompt) []any { return []any{p.BrandID, p.Text, p.Stage, p.Persona} },
	}
	responseRows = idTable[models.Response]{
		name: responsesTable,
		columns: []string{
			"brand_id", "prompt_id", "platform", "brand_present", "sentiment",
			"position", "response_text", "collected_at",
		},
		id: func(r models.Response) int64 { return r.ID },
		values: func(r models.Response) []any {
			return []any{
				r.BrandID, r.PromptID, r.Platform, r.BrandPresent, r.Sentiment,
				r.Position, r.Text, nullTime(r.CollectedAt),
			}
		},
	}
	campaignRows = idTable[models.Campaign]{
		name:    campaignsTable,
		columns: []string{"name", "url", "status"},
		id:      func(c models.Campaign) int64 { return c.ID },
		values:  func(c models.Campaign) []any { return []any{c.Name, c.URL, c.Status} },
	}
)

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// upsertByID looks up which ids already exist in one query, then inserts the
// new records and updates the known ones inside a single transaction.
func upsertByID[T any](ctx context.Context, db *DB, t idTable[T], items []T, now time.Time) (int, error) {
	items = store.DedupeLast(items, t.id)
	if len(items) == 0 {
		return 0, nil
	}
	// Writers lock rows in id order so overlapping batches cannot deadlock.
	slices.SortFunc(items, func(a, b T) int { return cmp.Compare(t.id(a), t.id(b)) })

	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		existing, err := existingIDs(ctx, tx, t.name, store.Keys(items, t.id))
		if err != nil {
			return err
		}
		inserts, updates := store.Partition(items, t.id, existing)

		// A concurrent job may insert the same new id between the lookup and
		// this insert; the conflict clause turns that into last-write-wins.
		columns := append(append([]string{"id"}, t.columns...), "updated_at")
		for _, chunk := range chunks(inserts, insertChunk) {
			builder := psql.Insert(t.name).Columns(columns...).Suffix(onConflict([]string{"id"}, columns))
			for _, it := range chunk {
				row := append(append([]any{t.id(it)}, t.values(it)...), now)
				builder = builder.Values(row...)
			}
			query, args, err := builder.ToSql()
			if err != nil {
				return fmt.Errorf("failed to build %s insert: %w", t.name, err)
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to insert %s: %w", t.name, err)
			}
		}

		if len(updates) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, it := range updates {
			set := map[string]any{"updated_at": now}
			for i, v := range t.values(it) {
				set[t.columns[i]] = v
			}
			query, args, err := psql.Update(t.name).SetMap(set).Where(sq.Eq{"id": t.id(it)}).ToSql()
			if err != nil {
				return fmt.Errorf("failed to build %s update: %w", t.name, err)
			}
			batch.Queue(query, args...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to update %s: %w", t.name, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func existingIDs(ctx context.Context, tx pgx.Tx, table string, ids []int64) (map[int64]bool, error) {
	query, args, err := psql.Select("id").From(table).Where("id = ANY(?)", ids).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s lookup: %w", table, err)
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", table, err)
	}
	defer rows.Close()

	existing := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

func (r *RecordRepository) UpsertBrands(ctx context.Context, brands []models.Brand) (int, error) {
	return upsertByID(ctx, r.db, brandRows, brands, r.now().UTC())
}

func (r *RecordRepository) UpsertPrompts(ctx context.Context, prompts []models.Prompt) (int, error) {
	return upsertByID(ctx, r.db, promptRows, prompts, r.now().UTC())
}

func (r *RecordRepository) UpsertResponses(ctx context.Context, responses []models.Response) (int, error) {
	return upsertByID(ctx, r.db, responseRows, responses, r.now().UTC())
}

func (r *RecordRepository) UpsertCampaigns(ctx context.Context, campaigns []models.Campaign) (int, error) {
	return upsertByID(ctx, r.db, campaignRows, campaigns, r.now().UTC())
}

// Daily rows

var (
	trafficColumns = []string{
		"brand_id", "client_id", "property_id", "date",
		"sessions", "users", "new_users", "pageviews", "conversions",
		"bounce_rate", "avg_session_duration", "engagement_rate", "updated_at",
	}
	dimensionColumns = []string{
		"brand_id", "client_id", "property_id", "date", "dimension", "value",
		"sessions", "users", "pageviews", "bounce_rate", "engagement_rate", "updated_at",
	}
	rankingColumns = []string{
		"brand_id", "client_id", "property_id", "date", "keyword", "search_engine",
		"position", "search_volume", "ranking_url", "updated_at",
	}
)

// unitOf matches every row stored under the batch's brand and property.
func unitOf(scope models.TenantScope) sq.Sqlizer {
	return sq.And{
		sq.Expr("brand_id IS NOT DISTINCT FROM ?", scope.BrandID),
		sq.Eq{"property_id": scope.PropertyID},
	}
}

// onConflict turns a duplicate natural key into an overwrite of every
// non-key column.
func onConflict(key []string, columns []string) string {
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	var sets []string
	for _, c := range columns {
		if !isKey[c] {
			sets = append(sets, c+" = EXCLUDED."+c)
		}
	}
	return "ON CONFLICT (" + strings.Join(key, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// replaceDaily deletes the replace units of a batch and inserts its rows in
// one transaction.
func replaceDaily[T any](ctx context.Context, db *DB, table string, del sq.DeleteBuilder, columns, key []string, rows []T, values func(T) []any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		query, args, err := del.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build %s delete: %w", table, err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}

		for _, chunk := range chunks(rows, insertChunk) {
			builder := psql.Insert(table).Columns(columns...).Suffix(onConflict(key, columns))
			for _, row := range chunk {
				builder = builder.Values(values(row)...)
			}
			query, args, err := builder.ToSql()
			if err != nil {
				return fmt.Errorf("failed to build %s insert: %w", table, err)
			}
			if _, err := tx.Exec(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to insert %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (r *RecordRepository) ReplaceTrafficRows(ctx context.Context, batch models.TrafficBatch) (int, error) {
	rows, err := store.PrepareTraffic(batch)
	if err != nil {
		return 0, err
	}
	now := r.now().UTC()
	dates := models.Dates(rows, func(t models.TrafficRow) time.Time { return t.Date })
	del := psql.Delete(trafficTable).Where(unitOf(batch.Scope)).Where("date = ANY(?)", dates)

	return replaceDaily(ctx, r.db, trafficTable, del, trafficColumns,
		[]string{"brand_id", "property_id", "date"}, rows,
		func(t models.TrafficRow) []any {
			return []any{
				t.BrandID, t.ClientID, t.PropertyID, t.Date,
				t.Sessions, t.Users, t.NewUsers, t.Pageviews, t.Conversions,
				t.BounceRate, t.AvgSessionDuration, t.EngagementRate, now,
			}
		})
}

func (r *RecordRepository) ReplaceDimensionRows(ctx context.Context, batch models.DimensionBatch) (int, error) {
	rows, err := store.PrepareDimensions(batch)
	if err != nil {
		return 0, err
	}
	now := r.now().UTC()
	days := store.DimensionDays(rows)
	dates := make([]time.Time, len(days))
	dims := make([]string, len(days))
	for i, d := range days {
		dates[i], dims[i] = d.Date, d.Dimension
	}
	del := psql.Delete(dimensionTable).
		Where(unitOf(batch.Scope)).
		Where("(date, dimension) IN (SELECT * FROM unnest(?::date[], ?::text[]))", dates, dims)

	return replaceDaily(ctx, r.db, dimensionTable, del, dimensionColumns,
		[]string{"brand_id", "property_id", "date", "dimension", "value"}, rows,
		func(d models.DimensionRow) []any {
			return []any{
				d.BrandID, d.ClientID, d.PropertyID, d.Date, d.Dimension, d.Value,
				d.Sessions, d.Users, d.Pageviews, d.BounceRate, d.EngagementRate, now,
			}
		})
}

func (r *RecordRepository) ReplaceRankingRows(ctx context.Context, batch models.RankingBatch) (int, error) {
	rows, err := store.PrepareRankings(batch)
	if err != nil {
		return 0, err
	}
	now := r.now().UTC()
	dates := models.Dates(rows, func(k models.RankingRow) time.Time { return k.Date })
	del := psql.Delete(rankingTable).Where(unitOf(batch.Scope)).Where("date = ANY(?)", dates)

	return replaceDaily(ctx, r.db, rankingTable, del, rankingColumns,
		[]string{"brand_id", "property_id", "date", "search_engine", "keyword"}, rows,
		func(k models.RankingRow) []any {
			return []any{
				k.BrandID, k.ClientID, k.PropertyID, k.Date, k.Keyword, k.SearchEngine,
				k.Position, k.SearchVolume, k.RankingURL, now,
			}
		})
}

// Reads

func (r *RecordRepository) ListBrands(ctx context.Context) ([]models.Brand, error) {
	query, args, err := psql.Select("id", "name", "website", "updated_at").From(brandsTable).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.db, query, args, func(row rowScanner) (models.Brand, error) {
		var b models.Brand
		err := row.Scan(&b.ID, &b.Name, &b.Website, &b.UpdatedAt)
		return b, err
	})
}

func (r *RecordRepository) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	query, args, err := psql.Select("id", "name", "url", "status", "updated_at").From(campaignsTable).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.db, query, args, func(row rowScanner) (models.Campaign, error) {
		var c models.Campaign
		err := row.Scan(&c.ID, &c.Name, &c.URL, &c.Status, &c.UpdatedAt)
		return c, err
	})
}

// ListPropertyBindings reads the analytics bindings off the clients table.
func (r *RecordRepository) ListPropertyBindings(ctx context.Context, clientID *int64) ([]models.PropertyBinding, error) {
	builder := psql.Select("id", "name", "brand_id", "ga4_property_id", "aa_campaign_id").From("clients").OrderBy("id")
	if clientID != nil {
		builder = builder.Where(sq.Eq{"id": *clientID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.db, query, args, func(row rowScanner) (models.PropertyBinding, error) {
		var (
			b        models.PropertyBinding
			property *string
		)
		if err := row.Scan(&b.ClientID, &b.Name, &b.BrandID, &property, &b.AACampaignID); err != nil {
			return b, err
		}
		if property != nil {
			b.GA4PropertyID = *property
		}
		return b, nil
	})
}

func rowFilter(q store.RowQuery) sq.And {
	where := sq.And{}
	if q.BrandID != nil {
		where = append(where, sq.Eq{"brand_id": *q.BrandID})
	}
	if q.ClientID != nil {
		where = append(where, sq.Eq{"client_id": *q.ClientID})
	}
	if q.PropertyID != "" {
		where = append(where, sq.Eq{"property_id": q.PropertyID})
	}
	if !q.Start.IsZero() {
		where = append(where, sq.GtOrEq{"date": models.Day(q.Start)})
	}
	if !q.End.IsZero() {
		where = append(where, sq.LtOrEq{"date": models.Day(q.End)})
	}
	return where
}

func (r *RecordRepository) CountTrafficRows(ctx context.Context, q store.RowQuery) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From(trafficTable).Where(rowFilter(q)).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.Pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count traffic rows: %w", err)
	}
	return n, nil
}

func (r *RecordRepository) ListTrafficRows(ctx context.Context, q store.RowQuery) ([]models.TrafficRow, error) {
	query, args, err := psql.Select(trafficColumns...).From(trafficTable).Where(rowFilter(q)).OrderBy("date").ToSql()
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.db, query, args, func(row rowScanner) (models.TrafficRow, error) {
		var t models.TrafficRow
		err := row.Scan(
			&t.BrandID, &t.ClientID, &t.PropertyID, &t.Date,
			&t.Sessions, &t.Users, &t.NewUsers, &t.Pageviews, &t.Conversions,
			&t.BounceRate, &t.AvgSessionDuration, &t.EngagementRate, &t.UpdatedAt,
		)
		return t, err
	})
}

func (r *RecordRepository) ListDimensionRows(ctx context.Context, q store.RowQuery, dimension string) ([]models.DimensionRow, error) {
	query, args, err := psql.Select(dimensionColumns...).
		From(dimensionTable).
		Where(rowFilter(q)).
		Where(sq.Eq{"dimension": dimension}).
		OrderBy("date", "value").
		ToSql()
	if err != nil {
		return nil, err
	}
	return collect(ctx, r.db, query, args, func(row rowScanner) (models.DimensionRow, error) {
		var d models.DimensionRow
		err := row.Scan(
			&d.BrandID, &d.ClientID, &d.PropertyID, &d.Date, &d.Dimension, &d.Value,
			&d.Sessions, &d.Users, &d.Pageviews, &d.BounceRate, &d.EngagementRate, &d.UpdatedAt,
		)
		return d, err
	})
}

func collect[T any](ctx context.Context, db *DB, query string, args []any, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Snapshots

func (r *RecordRepository) SaveKPISnapshot(ctx context.Context, snap models.KPISnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode kpi snapshot: %w", err)
	}
	query, args, err := psql.Insert(snapshotTable).
		Columns("brand_id", "client_id", "property_id", "period_end_date", "mode", "payload", "computed_at").
		Values(snap.BrandID, snap.ClientID, snap.PropertyID, models.Day(snap.PeriodEnd), string(snap.Mode), payload, snap.ComputedAt).
		Suffix("ON CONFLICT (brand_id, property_id, period_end_date) DO UPDATE SET " +
			"client_id = EXCLUDED.client_id, mode = EXCLUDED.mode, payload = EXCLUDED.payload, computed_at = EXCLUDED.computed_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save kpi snapshot: %w", err)
	}
	return nil
}

func (r *RecordRepository) GetKPISnapshot(ctx context.Context, brandID *int64, propertyID string, periodEnd time.Time) (*models.KPISnapshot, error) {
	query, args, err := psql.Select("payload").
		From(snapshotTable).
		Where(sq.Expr("brand_id IS NOT DISTINCT FROM ?", brandID)).
		Where(sq.Eq{"property_id": propertyID, "period_end_date": models.Day(periodEnd)}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var payload []byte
	err = r.db.Pool.QueryRow(ctx, query, args...).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read kpi snapshot: %w", err)
	}
	var snap models.KPISnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode kpi snapshot: %w", err)
	}
	return &snap, nil
}
