package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baikov/metalsync/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("not found")

// DB is the subset of pgx shared by a pool and a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CatalogTx is the mutation surface available inside one per-category
// transaction. Any error aborts and rolls back the whole category.
type CatalogTx interface {
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	ListPrimaryProducts(ctx context.Context, categoryID int64) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product *domain.Product) error
	UpdateProduct(ctx context.Context, product *domain.Product) error
	UpsertCategoryLink(ctx context.Context, productID, categoryID int64, isPrimary, isDisplay bool) error
	GetAttributeByCode(ctx context.Context, code string) (*domain.Attribute, error)
	UpsertAttributeValue(ctx context.Context, productID, attributeID int64, value string) error
	GetAttributeValueByCode(ctx context.Context, productID int64, code string) (string, error)
	MarkOutOfStock(ctx context.Context, productIDs []int64) error
	UpdateCategoryParseResult(ctx context.Context, categoryID int64, successful bool, at time.Time) error
	BackfillCategorySEO(ctx context.Context, categoryID int64, title, description, h1 string) error
}

// CatalogStore is the relational store for products, attributes and category
// parse state.
type CatalogStore interface {
	InTx(ctx context.Context, fn func(tx CatalogTx) error) error
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	ListEligibleCategoryIDs(ctx context.Context, ids []int64, staleAfter time.Duration) ([]int64, error)
}

type catalogStore struct {
	pool *pgxpool.Pool
}

func NewCatalogStore(pool *pgxpool.Pool) CatalogStore {
	return &catalogStore{pool: pool}
}

func (s *catalogStore) InTx(ctx context.Context, fn func(tx CatalogTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&catalogTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *catalogStore) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	return (&catalogTx{q: s.pool}).GetCategory(ctx, id)
}

// ListEligibleCategoryIDs keeps only leaf categories that failed their last
// parse, were never parsed, or were last parsed longer than staleAfter ago.
func (s *catalogStore) ListEligibleCategoryIDs(ctx context.Context, ids []int64, staleAfter time.Duration) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM categories
		WHERE id = ANY($1)
		  AND numchild = 0
		  AND (is_parsing_successful = false
		       OR last_parsed_at IS NULL
		       OR last_parsed_at < $2)
		ORDER BY path`,
		ids, time.Now().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible categories: %w", err)
	}
	defer rows.Close()

	var eligible []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan category id: %w", err)
		}
		eligible = append(eligible, id)
	}
	return eligible, rows.Err()
}

type catalogTx struct {
	q DB
}

const categoryColumns = `id, name, parsed_name, parse_url, slug, path, depth, numchild,
	weight_coefficient, price_coefficient, last_parsed_at, is_parsing_successful,
	is_published, COALESCE(seo_title, ''), COALESCE(seo_description, ''), COALESCE(h1, '')`

func scanCategory(row pgx.Row) (*domain.Category, error) {
	var c domain.Category
	err := row.Scan(&c.ID, &c.Name, &c.ParsedName, &c.ParseURL, &c.Slug, &c.Path,
		&c.Depth, &c.NumChild, &c.WeightCoefficient, &c.PriceCoefficient,
		&c.LastParsedAt, &c.IsParsingSuccessful, &c.IsPublished,
		&c.SEOTitle, &c.SEODescription, &c.H1)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	return &c, nil
}

func (t *catalogTx) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	return scanCategory(t.q.QueryRow(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
}

func (t *catalogTx) ListPrimaryProducts(ctx context.Context, categoryID int64) ([]domain.Product, error) {
	rows, err := t.q.Query(ctx, `
		SELECT p.id, p.name, p.slug, p.parse_url, p.ton_price, p.custom_ton_price,
		       p.meter_price, p.unit_price, p.in_stock, p.is_published,
		       p.idt, p.idf, p.idb
		FROM products p
		JOIN product_categories pc ON pc.product_id = p.id
		WHERE pc.category_id = $1 AND pc.is_primary = true`,
		categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list category products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.ParseURL, &p.TonPrice,
			&p.CustomTonPrice, &p.MeterPrice, &p.UnitPrice, &p.InStock,
			&p.IsPublished, &p.IDT, &p.IDF, &p.IDB); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (t *catalogTx) CreateProduct(ctx context.Context, product *domain.Product) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO products (name, slug, parse_url, ton_price, custom_ton_price,
		                      meter_price, unit_price, in_stock, is_published,
		                      idt, idf, idb)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		product.Name, product.Slug, product.ParseURL, product.TonPrice,
		product.CustomTonPrice, product.MeterPrice, product.UnitPrice,
		product.InStock, product.IsPublished,
		product.IDT, product.IDF, product.IDB).Scan(&product.ID)
	if err != nil {
		return fmt.Errorf("failed to create product %q: %w", product.Name, err)
	}
	return nil
}

func (t *catalogTx) UpdateProduct(ctx context.Context, product *domain.Product) error {
	_, err := t.q.Exec(ctx, `
		UPDATE products
		SET name = $2, slug = $3, ton_price = $4, custom_ton_price = $5,
		    meter_price = $6, unit_price = $7, in_stock = $8, is_published = $9,
		    idt = $10, idf = $11, idb = $12
		WHERE id = $1`,
		product.ID, product.Name, product.Slug, product.TonPrice,
		product.CustomTonPrice, product.MeterPrice, product.UnitPrice,
		product.InStock, product.IsPublished,
		product.IDT, product.IDF, product.IDB)
	if err != nil {
		return fmt.Errorf("failed to update product %d: %w", product.ID, err)
	}
	return nil
}

func (t *catalogTx) UpsertCategoryLink(ctx context.Context, productID, categoryID int64, isPrimary, isDisplay bool) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO product_categories (product_id, category_id, is_primary, is_display)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, category_id)
		DO UPDATE SET is_primary = $3, is_display = $4`,
		productID, categoryID, isPrimary, isDisplay)
	if err != nil {
		return fmt.Errorf("failed to upsert category link: %w", err)
	}
	return nil
}

func (t *catalogTx) GetAttributeByCode(ctx context.Context, code string) (*domain.Attribute, error) {
	var a domain.Attribute
	err := t.q.QueryRow(ctx, `
		SELECT id, name, code, ordering, display_in_list
		FROM attributes WHERE code = $1`, code).
		Scan(&a.ID, &a.Name, &a.Code, &a.Ordering, &a.DisplayInList)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attribute %q: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute %q: %w", code, err)
	}
	return &a, nil
}

func (t *catalogTx) UpsertAttributeValue(ctx context.Context, productID, attributeID int64, value string) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO attribute_values (product_id, attribute_id, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, attribute_id)
		DO UPDATE SET value = $3`,
		productID, attributeID, value)
	if err != nil {
		return fmt.Errorf("failed to upsert attribute value: %w", err)
	}
	return nil
}

func (t *catalogTx) GetAttributeValueByCode(ctx context.Context, productID int64, code string) (string, error) {
	var value string
	err := t.q.QueryRow(ctx, `
		SELECT av.value
		FROM attribute_values av
		JOIN attributes a ON a.id = av.attribute_id
		WHERE av.product_id = $1 AND a.code = $2`,
		productID, code).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get attribute value %q: %w", code, err)
	}
	return value, nil
}

func (t *catalogTx) MarkOutOfStock(ctx context.Context, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx,
		`UPDATE products SET in_stock = false WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return fmt.Errorf("failed to mark products out of stock: %w", err)
	}
	return nil
}

func (t *catalogTx) UpdateCategoryParseResult(ctx context.Context, categoryID int64, successful bool, at time.Time) error {
	_, err := t.q.Exec(ctx, `
		UPDATE categories
		SET is_parsing_successful = $2, last_parsed_at = $3
		WHERE id = $1`,
		categoryID, successful, at)
	if err != nil {
		return fmt.Errorf("failed to update category parse result: %w", err)
	}
	return nil
}

// BackfillCategorySEO fills the SEO fields from scraped page text, but only
// the ones that are currently empty. Curated content is never overwritten.
func (t *catalogTx) BackfillCategorySEO(ctx context.Context, categoryID int64, title, description, h1 string) error {
	_, err := t.q.Exec(ctx, `
		UPDATE categories
		SET seo_title       = CASE WHEN COALESCE(seo_title, '') = '' THEN $2 ELSE seo_title END,
		    seo_description = CASE WHEN COALESCE(seo_description, '') = '' THEN $3 ELSE seo_description END,
		    h1              = CASE WHEN COALESCE(h1, '') = '' THEN $4 ELSE h1 END
		WHERE id = $1`,
		categoryID, title, description, h1)
	if err != nil {
		return fmt.Errorf("failed to backfill category SEO fields: %w", err)
	}
	return nil
}
