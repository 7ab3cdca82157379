package service

import (
	"github.com/baikov/metalsync/internal/client"
	"github.com/baikov/metalsync/internal/config"
	"github.com/baikov/metalsync/internal/queue"
	"github.com/baikov/metalsync/internal/repository"
	"github.com/baikov/metalsync/internal/state"
)

// Service orchestrates the synchronization pipeline: sitemap import,
// per-category fetch-parse-reconcile, derived pricing and the retry shell.
type Service struct {
	catalog repository.CatalogStore
	tree    repository.CategoryTreeStore
	fetcher client.Fetcher
	sitemap *client.SitemapParser
	listing *client.ListingParser
	queue   queue.Queue
	state   state.StateManager

	site      config.SiteConfig
	parserCfg config.ParserConfig
	groupName string
}

func NewService(
	catalog repository.CatalogStore,
	tree repository.CategoryTreeStore,
	fetcher client.Fetcher,
	queue queue.Queue,
	stateManager state.StateManager,
	site config.SiteConfig,
	parserCfg config.ParserConfig,
	groupName string,
) *Service {
	return &Service{
		catalog:   catalog,
		tree:      tree,
		fetcher:   fetcher,
		sitemap:   client.NewSitemapParser(site.BaseURL, site.CategoryAllowList),
		listing:   client.NewListingParser(site.BaseURL, site.BrandReplacements),
		queue:     queue,
		state:     stateManager,
		site:      site,
		parserCfg: parserCfg,
		groupName: groupName,
	}
}
