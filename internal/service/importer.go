package service

import (
	"context"
	"fmt"

	"github.com/baikov/metalsync/internal/domain"
	"github.com/baikov/metalsync/internal/repository"

	log "github.com/sirupsen/logrus"
)

// ImportCategoryTree fetches the sitemap, parses the allow-listed category
// forest and persists it atomically, roots first, preserving level order.
//
// The import is additive: re-running it creates duplicate subtrees. Set
// parser.clear_tree_on_import for a clean re-import.
func (s *Service) ImportCategoryTree(ctx context.Context) ([]*domain.CategoryNode, error) {
	url := s.site.BaseURL + s.site.SitemapPath

	html, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap: %w", err)
	}

	forest, err := s.sitemap.Parse(html)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sitemap: %w", err)
	}

	err = s.tree.InTx(ctx, func(tx repository.CategoryTreeStore) error {
		if s.parserCfg.ClearTreeOnImport {
			log.Warn("Clearing category tree before import")
			if err := tx.Clear(ctx); err != nil {
				return err
			}
		}

		for _, rootNode := range forest {
			root, err := tx.AddRoot(ctx, nodeAttrs(rootNode))
			if err != nil {
				return err
			}

			for _, childNode := range rootNode.Children {
				child, err := tx.AddChild(ctx, root, nodeAttrs(childNode))
				if err != nil {
					return err
				}

				for _, leafNode := range childNode.Children {
					if _, err := tx.AddChild(ctx, child, nodeAttrs(leafNode)); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist category tree: %w", err)
	}

	log.Infof("Imported category tree: %d root categories", len(forest))
	return forest, nil
}

func nodeAttrs(node *domain.CategoryNode) repository.CategoryAttrs {
	return repository.CategoryAttrs{
		ParsedName: node.Name,
		ParseURL:   node.Href,
		Slug:       node.Slug,
	}
}
