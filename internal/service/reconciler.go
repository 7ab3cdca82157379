package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/baikov/metalsync/internal/classify"
	"github.com/baikov/metalsync/internal/client"
	"github.com/baikov/metalsync/internal/domain"
	"github.com/baikov/metalsync/internal/pricing"
	"github.com/baikov/metalsync/internal/repository"

	"github.com/gosimple/slug"
	log "github.com/sirupsen/logrus"
)

// lockTTL guards against a worker dying mid-category. It must exceed the
// longest plausible single-category reconciliation.
const lockTTL = 15 * time.Minute

// ReconcileCategory brings the stored products of one leaf category in line
// with the latest parse of its listing page. All writes happen in a single
// transaction: either the whole category applies or none of it does.
// Failures that should be retried satisfy domain.IsRetryable.
func (s *Service) ReconcileCategory(ctx context.Context, categoryID int64) (domain.ReconcileSummary, error) {
	summary := domain.ReconcileSummary{CategoryID: categoryID}

	category, err := s.catalog.GetCategory(ctx, categoryID)
	if err != nil {
		return summary, fmt.Errorf("failed to load category %d: %w", categoryID, err)
	}
	if !category.IsLeaf() {
		return summary, fmt.Errorf("category %d (%s): %w", categoryID, category.DisplayName(), domain.ErrNotLeaf)
	}

	locked, err := s.state.AcquireCategoryLock(ctx, categoryID, lockTTL)
	if err != nil {
		return summary, err
	}
	if !locked {
		return summary, fmt.Errorf("category %d: %w", categoryID, domain.ErrCategoryLocked)
	}
	defer func() {
		if err := s.state.ReleaseCategoryLock(context.WithoutCancel(ctx), categoryID); err != nil {
			log.Errorf("Failed to release lock for category %d: %v", categoryID, err)
		}
	}()

	html, err := s.fetcher.Fetch(ctx, s.listingURL(category))
	if err != nil {
		s.markParseFailed(ctx, categoryID)
		return summary, fmt.Errorf("failed to fetch listing for %q: %w", category.DisplayName(), err)
	}

	page, err := s.listing.Parse(html)
	if err != nil {
		s.markParseFailed(ctx, categoryID)
		return summary, fmt.Errorf("failed to parse listing for %q: %w", category.DisplayName(), err)
	}

	if page.Empty {
		log.Infof("Category %q is empty", category.DisplayName())
		err = s.catalog.InTx(ctx, func(tx repository.CatalogTx) error {
			return tx.UpdateCategoryParseResult(ctx, categoryID, true, time.Now())
		})
		return summary, err
	}

	var created []*domain.Product
	err = s.catalog.InTx(ctx, func(tx repository.CatalogTx) error {
		result, fresh, err := s.reconcileListing(ctx, tx, category, page)
		if err != nil {
			return err
		}
		summary, created = result, fresh
		return nil
	})
	if err != nil {
		s.markParseFailed(ctx, categoryID)
		return domain.ReconcileSummary{CategoryID: categoryID}, fmt.Errorf("reconciliation of %q rolled back: %w", category.DisplayName(), err)
	}

	if s.parserCfg.FetchWeight {
		s.fetchWeights(ctx, created)
	}

	log.Infof("Category %q: parsed %d, updated %d, created %d, retired %d",
		category.DisplayName(), summary.Parsed, summary.Updated, summary.Created, summary.Retired)
	return summary, nil
}

// fetchWeights pulls meter weights for freshly created products. Failures
// are logged and skipped; the reconciliation itself already committed.
func (s *Service) fetchWeights(ctx context.Context, products []*domain.Product) {
	for _, product := range products {
		weight, err := s.FetchMeterWeight(ctx, product)
		if err != nil {
			log.Warnf("Skipping weight for product %d: %v", product.ID, err)
			continue
		}
		if err := s.ApplyMeterWeight(ctx, product, weight); err != nil {
			log.Errorf("Failed to apply weight for product %d: %v", product.ID, err)
		}
	}
}

func (s *Service) reconcileListing(ctx context.Context, tx repository.CatalogTx, category *domain.Category, page *client.ListingPage) (domain.ReconcileSummary, []*domain.Product, error) {
	summary := domain.ReconcileSummary{
		CategoryID: category.ID,
		Parsed:     len(page.Products),
	}
	var fresh []*domain.Product

	existing, err := tx.ListPrimaryProducts(ctx, category.ID)
	if err != nil {
		return summary, nil, err
	}
	byURL := make(map[string]*domain.Product, len(existing))
	for i := range existing {
		byURL[existing[i].ParseURL] = &existing[i]
	}

	codes := classify.Classify(category.ParsedName)
	attrs, err := s.resolveAttributes(ctx, tx, codes)
	if err != nil {
		return summary, nil, err
	}

	touched := make(map[int64]struct{}, len(page.Products))
	for _, record := range page.Products {
		product, created, err := s.applyRecord(ctx, tx, byURL[record.ParseURL], record)
		if err != nil {
			return summary, nil, err
		}
		if created {
			summary.Created++
			fresh = append(fresh, product)
		} else {
			summary.Updated++
		}
		touched[product.ID] = struct{}{}

		if err := tx.UpsertCategoryLink(ctx, product.ID, category.ID, true, true); err != nil {
			return summary, nil, err
		}
		if err := s.writeAttributes(ctx, tx, product.ID, codes, attrs, record); err != nil {
			return summary, nil, err
		}
	}

	// Staleness sweep: absence from the latest parse is the sole signal of
	// going out of stock.
	var stale []int64
	for _, p := range existing {
		if _, ok := touched[p.ID]; !ok {
			stale = append(stale, p.ID)
		}
	}
	if err := tx.MarkOutOfStock(ctx, stale); err != nil {
		return summary, nil, err
	}
	summary.Retired = len(stale)

	if err := tx.BackfillCategorySEO(ctx, category.ID, page.Title, page.Description, page.H1); err != nil {
		return summary, nil, err
	}

	successful := summary.Parsed > 0
	if err := tx.UpdateCategoryParseResult(ctx, category.ID, successful, time.Now()); err != nil {
		return summary, nil, err
	}

	return summary, fresh, nil
}

// applyRecord updates the matched product or creates a new one. Matching is
// by exact parse_url only; the name is just the dedup key of the parse pass.
func (s *Service) applyRecord(ctx context.Context, tx repository.CatalogTx, match *domain.Product, record domain.ParsedProduct) (*domain.Product, bool, error) {
	if match != nil {
		match.InStock = record.InStock
		match.TonPrice = record.Price
		match.IDT, match.IDF, match.IDB = record.IDT, record.IDF, record.IDB
		s.recomputePrices(ctx, tx, match, record.Length)
		if err := tx.UpdateProduct(ctx, match); err != nil {
			return nil, false, err
		}
		return match, false, nil
	}

	product := &domain.Product{
		Name:        record.Name,
		Slug:        slug.Make(record.Name),
		ParseURL:    record.ParseURL,
		TonPrice:    record.Price,
		InStock:     record.InStock,
		IsPublished: true,
		IDT:         record.IDT,
		IDF:         record.IDF,
		IDB:         record.IDB,
	}
	if err := tx.CreateProduct(ctx, product); err != nil {
		return nil, false, err
	}
	return product, true, nil
}

// recomputePrices rederives meter and unit prices from the current ton
// price, the stored meter-weight attribute and the parsed length. Called
// right after any of the inputs is written, never as an implicit hook.
func (s *Service) recomputePrices(ctx context.Context, tx repository.CatalogTx, product *domain.Product, length string) {
	meterWeight, err := tx.GetAttributeValueByCode(ctx, product.ID, domain.CodeMeterWeight)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Errorf("Failed to read meter weight for product %d: %v", product.ID, err)
		return
	}

	prices := pricing.Recompute(pricing.Inputs{
		TonPrice:    product.EffectiveTonPrice(),
		MeterWeight: meterWeight,
		Length:      length,
	})
	if prices.MeterPrice > 0 {
		product.MeterPrice = prices.MeterPrice
	}
	if prices.UnitPrice > 0 {
		product.UnitPrice = prices.UnitPrice
	}
}

// resolveAttributes loads the attribute rows for the category's codes once
// per reconciliation.
func (s *Service) resolveAttributes(ctx context.Context, tx repository.CatalogTx, codes classify.Codes) (map[string]*domain.Attribute, error) {
	attrs := make(map[string]*domain.Attribute, 3)
	wanted := []string{codes.Size, codes.Length}
	if codes.Mark != "" {
		wanted = append(wanted, codes.Mark)
	}
	for _, code := range wanted {
		if _, ok := attrs[code]; ok {
			continue
		}
		attr, err := tx.GetAttributeByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		attrs[code] = attr
	}
	return attrs, nil
}

// writeAttributes upserts one value per classified code: length always, mark
// only when a mark code applies, size always.
func (s *Service) writeAttributes(ctx context.Context, tx repository.CatalogTx, productID int64, codes classify.Codes, attrs map[string]*domain.Attribute, record domain.ParsedProduct) error {
	if err := tx.UpsertAttributeValue(ctx, productID, attrs[codes.Length].ID, record.Length); err != nil {
		return err
	}
	if codes.Mark != "" {
		if err := tx.UpsertAttributeValue(ctx, productID, attrs[codes.Mark].ID, record.Mark); err != nil {
			return err
		}
	}
	return tx.UpsertAttributeValue(ctx, productID, attrs[codes.Size].ID, record.Size)
}

// listingURL builds the regional "all items on one page" listing URL.
func (s *Service) listingURL(category *domain.Category) string {
	url := strings.Replace(category.ParseURL, s.site.BaseURL, s.site.BaseURL+s.site.RegionPrefix, 1)
	return url + "/PageAll/1"
}

// markParseFailed flags the category for the next run. Runs outside the
// reconciliation transaction so the flag survives the rollback.
func (s *Service) markParseFailed(ctx context.Context, categoryID int64) {
	bg := context.WithoutCancel(ctx)
	err := s.catalog.InTx(bg, func(tx repository.CatalogTx) error {
		return tx.UpdateCategoryParseResult(bg, categoryID, false, time.Now())
	})
	if err != nil {
		log.Errorf("Failed to flag category %d as unsuccessful: %v", categoryID, err)
	}
}
