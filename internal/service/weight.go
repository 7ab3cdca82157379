package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/baikov/metalsync/internal/domain"
	"github.com/baikov/metalsync/internal/pricing"
	"github.com/baikov/metalsync/internal/repository"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

var weightVarRe = regexp.MustCompile(`var k=(.*?);`)

// FetchMeterWeight pulls the basket block for a product and extracts the
// per-meter weight in kilograms from its inline script. Requires the
// product's remote basket identifiers.
func (s *Service) FetchMeterWeight(ctx context.Context, product *domain.Product) (string, error) {
	if product.IDT == "" || product.IDF == "" || product.IDB == "" {
		return "", fmt.Errorf("product %d has no basket identifiers", product.ID)
	}

	url := fmt.Sprintf("%s/pages/blocks/add_basket.asp/id/%s/idf/%s/idb/%s",
		s.site.BaseURL, product.IDT, product.IDF, product.IDB)

	html, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch weight block: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse weight block: %w", err)
	}

	script := doc.Find(`script[language="Javascript"]`).First().Text()
	matches := weightVarRe.FindStringSubmatch(script)
	if len(matches) < 2 {
		return "", fmt.Errorf("weight variable not found in basket block for product %d", product.ID)
	}

	k, err := strconv.ParseFloat(strings.TrimSpace(matches[1]), 64)
	if err != nil {
		return "", fmt.Errorf("weight variable %q is not a number: %w", matches[1], err)
	}

	return strconv.FormatFloat(k*1000, 'f', -1, 64), nil
}

// ApplyMeterWeight stores the weight as the product's ves-metra attribute
// and recomputes the derived prices, all in one transaction.
func (s *Service) ApplyMeterWeight(ctx context.Context, product *domain.Product, weight string) error {
	return s.catalog.InTx(ctx, func(tx repository.CatalogTx) error {
		attr, err := tx.GetAttributeByCode(ctx, domain.CodeMeterWeight)
		if err != nil {
			return err
		}
		if err := tx.UpsertAttributeValue(ctx, product.ID, attr.ID, weight); err != nil {
			return err
		}

		length, err := tx.GetAttributeValueByCode(ctx, product.ID, domain.CodeLength)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		prices := pricing.Recompute(pricing.Inputs{
			TonPrice:    product.EffectiveTonPrice(),
			MeterWeight: weight,
			Length:      length,
		})
		if prices.MeterPrice > 0 {
			product.MeterPrice = prices.MeterPrice
		}
		if prices.UnitPrice > 0 {
			product.UnitPrice = prices.UnitPrice
		}

		log.Debugf("Product %d: meter weight %s, meter price %.0f, unit price %.0f",
			product.ID, weight, product.MeterPrice, product.UnitPrice)
		return tx.UpdateProduct(ctx, product)
	})
}
