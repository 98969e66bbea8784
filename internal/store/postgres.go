package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"pharmacy-finder/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPharmacies inserts or refreshes pharmacy rows keyed by HPID.
// Returns the number of rows written.
func (s *Store) UpsertPharmacies(ctx context.Context, pharmacies []models.Pharmacy) (int, error) {
	written := 0
	for _, p := range pharmacies {
		if p.HPID == "" {
			continue
		}
		hoursJSON, err := json.Marshal(p.Hours)
		if err != nil {
			return written, fmt.Errorf("marshal hours for %s: %w", p.HPID, err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO pharmacies (hpid, name, address, sido, gugun, phone, lat, lng, hours, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
			ON CONFLICT (hpid) DO UPDATE
			SET name = EXCLUDED.name,
			    address = EXCLUDED.address,
			    sido = EXCLUDED.sido,
			    gugun = EXCLUDED.gugun,
			    phone = EXCLUDED.phone,
			    lat = EXCLUDED.lat,
			    lng = EXCLUDED.lng,
			    hours = EXCLUDED.hours,
			    updated_at = NOW()
		`, p.HPID, p.Name, p.Address, p.Sido, p.Gugun, p.Phone, p.Lat, p.Lng, hoursJSON)
		if err != nil {
			return written, fmt.Errorf("upsert pharmacy %s: %w", p.HPID, err)
		}
		written++
	}
	return written, nil
}

// GetPharmacy fetches one pharmacy by HPID.
func (s *Store) GetPharmacy(ctx context.Context, hpid string) (models.Pharmacy, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT hpid, name, address, sido, gugun, phone, lat, lng, hours, created_at, updated_at
		FROM pharmacies WHERE hpid = $1
	`, hpid)
	p, err := scanPharmacy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Pharmacy{}, ErrNotFound
	}
	return p, err
}

// PharmacyFilter narrows a pharmacy search. Zero values mean "no filter".
type PharmacyFilter struct {
	Sido   string
	Gugun  string
	Query  string // substring match on name or address
	Limit  int
	Offset int
}

// SearchPharmacies runs a filtered, paginated pharmacy query.
func (s *Store) SearchPharmacies(ctx context.Context, f PharmacyFilter) ([]models.Pharmacy, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}

	q := psql.Select("hpid", "name", "address", "sido", "gugun", "phone", "lat", "lng", "hours", "created_at", "updated_at").
		From("pharmacies").
		OrderBy("name ASC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset))
	if f.Sido != "" {
		q = q.Where(sq.Eq{"sido": f.Sido})
	}
	if f.Gugun != "" {
		q = q.Where(sq.Eq{"gugun": f.Gugun})
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		q = q.Where(sq.Or{sq.ILike{"name": like}, sq.ILike{"address": like}})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search pharmacies: %w", err)
	}
	defer rows.Close()

	var out []models.Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pharmacies: %w", err)
	}
	return out, nil
}

// GenerationCandidates returns pharmacies that have no complete content item
// yet, in stable HPID order. This is the selection half of the completeness
// gate; the pipeline re-checks per item before writing.
func (s *Store) GenerationCandidates(ctx context.Context, limit int) ([]models.Pharmacy, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.hpid, p.name, p.address, p.sido, p.gugun, p.phone, p.lat, p.lng, p.hours, p.created_at, p.updated_at
		FROM pharmacies p
		LEFT JOIN content_items c
		  ON c.hpid = p.hpid
		 AND c.status IN ('pending', 'published')
		 AND c.ai_summary IS NOT NULL
		 AND c.ai_faq IS NOT NULL
		WHERE c.slug IS NULL
		ORDER BY p.hpid
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query generation candidates: %w", err)
	}
	defer rows.Close()

	var out []models.Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// GetContent fetches a content item by slug.
func (s *Store) GetContent(ctx context.Context, slug string) (models.ContentItem, error) {
	row := s.pool.QueryRow(ctx, contentSelect+` WHERE slug = $1`, slug)
	item, err := scanContent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentItem{}, ErrNotFound
	}
	return item, err
}

// GetContentByHPID fetches the newest content item for a pharmacy, if any.
func (s *Store) GetContentByHPID(ctx context.Context, hpid string) (models.ContentItem, error) {
	row := s.pool.QueryRow(ctx, contentSelect+` WHERE hpid = $1 ORDER BY created_at DESC LIMIT 1`, hpid)
	item, err := scanContent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentItem{}, ErrNotFound
	}
	return item, err
}

// UpsertContent writes a content item by slug, overwriting content fields,
// status and publish_at. Used for both create and regeneration; callers run
// the completeness gate first.
func (s *Store) UpsertContent(ctx context.Context, item models.ContentItem) error {
	bullets, faq, sections, err := marshalAIFields(item)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO content_items (slug, hpid, title, content_html, ai_summary, ai_bullets, ai_faq, ai_cta, extra_sections, status, publish_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (slug) DO UPDATE
		SET title = EXCLUDED.title,
		    content_html = EXCLUDED.content_html,
		    ai_summary = EXCLUDED.ai_summary,
		    ai_bullets = EXCLUDED.ai_bullets,
		    ai_faq = EXCLUDED.ai_faq,
		    ai_cta = EXCLUDED.ai_cta,
		    extra_sections = EXCLUDED.extra_sections,
		    status = EXCLUDED.status,
		    publish_at = EXCLUDED.publish_at,
		    updated_at = NOW()
	`, item.Slug, item.HPID, item.Title, item.ContentHTML, item.AISummary, bullets, faq, item.AICTA, sections, item.Status, item.PublishAt)
	if err != nil {
		return fmt.Errorf("upsert content %s: %w", item.Slug, err)
	}
	return nil
}

// DuePending returns pending items whose publish_at has passed.
func (s *Store) DuePending(ctx context.Context, now time.Time, limit int) ([]models.ContentItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, contentSelect+`
		WHERE status = $1 AND publish_at <= $2
		ORDER BY publish_at
		LIMIT $3
	`, models.StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due pending: %w", err)
	}
	defer rows.Close()

	var out []models.ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due pending: %w", err)
	}
	return out, nil
}

// MarkPublished transitions an item to published and stamps published_at.
func (s *Store) MarkPublished(ctx context.Context, slug string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE content_items SET status = $2, published_at = $3, updated_at = NOW() WHERE slug = $1
	`, slug, models.StatusPublished, at)
	if err != nil {
		return fmt.Errorf("mark published %s: %w", slug, err)
	}
	return nil
}

// BackfillAIFields fills missing AI fields on an already-created item. This
// is a separate, independently idempotent update from MarkPublished; the two
// are never assumed atomic together.
func (s *Store) BackfillAIFields(ctx context.Context, item models.ContentItem) error {
	bullets, faq, sections, err := marshalAIFields(item)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE content_items
		SET ai_summary = COALESCE(ai_summary, $2),
		    ai_bullets = COALESCE(ai_bullets, $3),
		    ai_faq = COALESCE(ai_faq, $4),
		    ai_cta = COALESCE(ai_cta, $5),
		    extra_sections = COALESCE(extra_sections, $6),
		    updated_at = NOW()
		WHERE slug = $1
	`, item.Slug, item.AISummary, bullets, faq, item.AICTA, sections)
	if err != nil {
		return fmt.Errorf("backfill ai fields %s: %w", item.Slug, err)
	}
	return nil
}

// MarkContentFailed best-effort transitions an item to failed. A missing row
// is not an error: failures before the item was ever created have nothing to
// transition.
func (s *Store) MarkContentFailed(ctx context.Context, slug string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE content_items SET status = $2, updated_at = NOW() WHERE slug = $1
	`, slug, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", slug, err)
	}
	return nil
}

// DeleteContent removes an item. Reachable only from explicit admin action.
func (s *Store) DeleteContent(ctx context.Context, slug string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM content_items WHERE slug = $1`, slug)
	if err != nil {
		return fmt.Errorf("delete content %s: %w", slug, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentSummaries returns the latest non-null AI summaries, newest first.
// Used as the dedup corpus for new generations.
func (s *Store) RecentSummaries(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ai_summary FROM content_items
		WHERE ai_summary IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent summaries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}

const contentSelect = `
	SELECT slug, hpid, title, content_html, ai_summary, ai_bullets, ai_faq, ai_cta, extra_sections, status, publish_at, published_at, created_at, updated_at
	FROM content_items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPharmacy(row rowScanner) (models.Pharmacy, error) {
	var p models.Pharmacy
	var hoursJSON []byte
	if err := row.Scan(&p.HPID, &p.Name, &p.Address, &p.Sido, &p.Gugun, &p.Phone, &p.Lat, &p.Lng, &hoursJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Pharmacy{}, err
		}
		return models.Pharmacy{}, fmt.Errorf("scan pharmacy: %w", err)
	}
	if len(hoursJSON) > 0 {
		if err := json.Unmarshal(hoursJSON, &p.Hours); err != nil {
			// Malformed hours degrade to unknown status downstream.
			p.Hours = nil
		}
	}
	return p, nil
}

func scanContent(row rowScanner) (models.ContentItem, error) {
	var item models.ContentItem
	var hpid, summary, cta pgtype.Text
	var bullets, faq, sections []byte
	var publishedAt pgtype.Timestamptz

	err := row.Scan(&item.Slug, &hpid, &item.Title, &item.ContentHTML, &summary, &bullets, &faq, &cta, &sections, &item.Status, &item.PublishAt, &publishedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ContentItem{}, err
		}
		return models.ContentItem{}, fmt.Errorf("scan content: %w", err)
	}

	item.HPID = textPtr(hpid)
	item.AISummary = textPtr(summary)
	item.AICTA = textPtr(cta)
	if publishedAt.Valid {
		t := publishedAt.Time
		item.PublishedAt = &t
	}
	if len(bullets) > 0 {
		_ = json.Unmarshal(bullets, &item.AIBullets)
	}
	if len(faq) > 0 {
		_ = json.Unmarshal(faq, &item.AIFAQ)
	}
	if len(sections) > 0 {
		_ = json.Unmarshal(sections, &item.ExtraSections)
	}
	return item, nil
}

// marshalAIFields encodes the JSONB columns, keeping NULL for absent values
// so COALESCE-based backfills and the completeness gate work in SQL.
func marshalAIFields(item models.ContentItem) (bullets, faq, sections []byte, err error) {
	if len(item.AIBullets) > 0 {
		if bullets, err = json.Marshal(item.AIBullets); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal bullets: %w", err)
		}
	}
	if len(item.AIFAQ) > 0 {
		if faq, err = json.Marshal(item.AIFAQ); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal faq: %w", err)
		}
	}
	if len(item.ExtraSections) > 0 {
		if sections, err = json.Marshal(item.ExtraSections); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal sections: %w", err)
		}
	}
	return bullets, faq, sections, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
