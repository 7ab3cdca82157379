package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/baikov/metalsync/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// stepLen is the width of one materialized-path segment. A node's path is
// its parent's path plus one zero-padded segment, so descendants of a node
// are exactly the rows whose path has its path as a prefix.
const stepLen = 4

// CategoryAttrs are the fields set when inserting a tree node. The sitemap
// importer stores only the scraped name and URL; the curated name stays
// empty for the operators to fill in.
type CategoryAttrs struct {
	ParsedName string
	ParseURL   string
	Slug       string
}

// CategoryTreeStore is the hierarchical store for the category tree.
type CategoryTreeStore interface {
	AddRoot(ctx context.Context, attrs CategoryAttrs) (*domain.Category, error)
	AddChild(ctx context.Context, parent *domain.Category, attrs CategoryAttrs) (*domain.Category, error)
	GetChildren(ctx context.Context, node *domain.Category) ([]domain.Category, error)
	GetDescendants(ctx context.Context, node *domain.Category) ([]domain.Category, error)
	GetAncestors(ctx context.Context, node *domain.Category) ([]domain.Category, error)
	IsLeaf(ctx context.Context, node *domain.Category) (bool, error)
	Depth(node *domain.Category) int
	ListLeafIDs(ctx context.Context) ([]int64, error)
	Clear(ctx context.Context) error
	InTx(ctx context.Context, fn func(tx CategoryTreeStore) error) error
}

type categoryTreeStore struct {
	pool *pgxpool.Pool
	q    DB
}

func NewCategoryTreeStore(pool *pgxpool.Pool) CategoryTreeStore {
	return &categoryTreeStore{pool: pool, q: pool}
}

// InTx runs fn against a tree store bound to one transaction. The sitemap
// import persists the whole forest atomically through it.
func (s *categoryTreeStore) InTx(ctx context.Context, fn func(tx CategoryTreeStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&categoryTreeStore{pool: s.pool, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *categoryTreeStore) AddRoot(ctx context.Context, attrs CategoryAttrs) (*domain.Category, error) {
	path, err := s.nextChildPath(ctx, "")
	if err != nil {
		return nil, err
	}
	return s.insert(ctx, path, 1, attrs)
}

func (s *categoryTreeStore) AddChild(ctx context.Context, parent *domain.Category, attrs CategoryAttrs) (*domain.Category, error) {
	path, err := s.nextChildPath(ctx, parent.Path)
	if err != nil {
		return nil, err
	}
	node, err := s.insert(ctx, path, parent.Depth+1, attrs)
	if err != nil {
		return nil, err
	}

	_, err = s.q.Exec(ctx,
		`UPDATE categories SET numchild = numchild + 1 WHERE id = $1`, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to bump child count for category %d: %w", parent.ID, err)
	}
	parent.NumChild++

	return node, nil
}

// nextChildPath allocates the path segment after the last existing sibling
// under parentPath ("" for roots).
func (s *categoryTreeStore) nextChildPath(ctx context.Context, parentPath string) (string, error) {
	var lastPath *string
	err := s.q.QueryRow(ctx, `
		SELECT MAX(path) FROM categories
		WHERE path LIKE $1 AND char_length(path) = $2`,
		parentPath+"%", len(parentPath)+stepLen).Scan(&lastPath)
	if err != nil {
		return "", fmt.Errorf("failed to find last sibling path: %w", err)
	}

	step := 1
	if lastPath != nil {
		if _, err := fmt.Sscanf((*lastPath)[len(parentPath):], "%d", &step); err != nil {
			return "", fmt.Errorf("malformed sibling path %q: %w", *lastPath, err)
		}
		step++
	}

	return fmt.Sprintf("%s%0*d", parentPath, stepLen, step), nil
}

func (s *categoryTreeStore) insert(ctx context.Context, path string, depth int, attrs CategoryAttrs) (*domain.Category, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO categories (parsed_name, parse_url, slug, path, depth)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		attrs.ParsedName, attrs.ParseURL, attrs.Slug, path, depth).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert category %q: %w", attrs.ParsedName, err)
	}

	return &domain.Category{
		ID:                id,
		ParsedName:        attrs.ParsedName,
		ParseURL:          attrs.ParseURL,
		Slug:              attrs.Slug,
		Path:              path,
		Depth:             depth,
		WeightCoefficient: 1.0,
		PriceCoefficient:  1.0,
		IsPublished:       true,
	}, nil
}

func (s *categoryTreeStore) GetChildren(ctx context.Context, node *domain.Category) ([]domain.Category, error) {
	return s.selectNodes(ctx, `
		SELECT `+categoryColumns+` FROM categories
		WHERE path LIKE $1 AND depth = $2
		ORDER BY path`,
		node.Path+"%", node.Depth+1)
}

func (s *categoryTreeStore) GetDescendants(ctx context.Context, node *domain.Category) ([]domain.Category, error) {
	return s.selectNodes(ctx, `
		SELECT `+categoryColumns+` FROM categories
		WHERE path LIKE $1 AND id != $2
		ORDER BY path`,
		node.Path+"%", node.ID)
}

func (s *categoryTreeStore) GetAncestors(ctx context.Context, node *domain.Category) ([]domain.Category, error) {
	paths := make([]string, 0, node.Depth-1)
	for l := stepLen; l < len(node.Path); l += stepLen {
		paths = append(paths, node.Path[:l])
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return s.selectNodes(ctx, `
		SELECT `+categoryColumns+` FROM categories
		WHERE path = ANY($1)
		ORDER BY path`, paths)
}

func (s *categoryTreeStore) IsLeaf(ctx context.Context, node *domain.Category) (bool, error) {
	var numchild int
	err := s.q.QueryRow(ctx,
		`SELECT numchild FROM categories WHERE id = $1`, node.ID).Scan(&numchild)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to get child count for category %d: %w", node.ID, err)
	}
	return numchild == 0, nil
}

func (s *categoryTreeStore) Depth(node *domain.Category) int {
	return node.Depth
}

func (s *categoryTreeStore) ListLeafIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id FROM categories WHERE numchild = 0 ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaf categories: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan category id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Clear removes the whole tree. The sitemap import is additive and
// non-idempotent, so a clean re-import truncates first.
func (s *categoryTreeStore) Clear(ctx context.Context) error {
	_, err := s.q.Exec(ctx, `TRUNCATE categories, product_categories, category_attributes`)
	if err != nil {
		return fmt.Errorf("failed to clear category tree: %w", err)
	}
	return nil
}

func (s *categoryTreeStore) selectNodes(ctx context.Context, query string, args ...any) ([]domain.Category, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var nodes []domain.Category
	for rows.Next() {
		node, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}
