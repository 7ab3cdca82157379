package service

import (
	"context"
	"errors"
	"testing"

	"github.com/baikov/metalsync/internal/domain"
)

const beamListingHTML = `<html><head>
<title>Балки двутавровые купить в МЕТАЛЛСЕРВИС</title>
<meta name="description" content="Балки двутавровые со склада МЕТАЛЛСЕРВИС">
</head><body>
<h1>Балки двутавровые</h1>
<table>
<tr itemtype="http://schema.org/Product" data-nm="Балка 20Б1 ст3сп 12000" idt="101" idf="5" idb="7">
  <td><a href="/metalloprokat/balki/dvutavr/20b1">Балка 20Б1</a></td>
  <td class="_razmer">20Б1</td>
  <td class="_mark">ст3сп</td>
  <td class="_dlina">12</td>
  <td><meta itemprop="price" content="78000"><button class="btn _basket">В корзину</button></td>
</tr>
<tr itemtype="http://schema.org/Product" data-nm="Балка 30Б2 09Г2С 12000" idt="102" idf="5" idb="7">
  <td><a href="/metalloprokat/balki/dvutavr/30b2">Балка 30Б2</a></td>
  <td class="_razmer">30Б2</td>
  <td class="_mark">09Г2С</td>
  <td class="_dlina">12</td>
  <td><meta itemprop="price" content="81500"><button class="btn _basket">В корзину</button></td>
</tr>
</table>
</body></html>`

const emptyListingHTML = `<html><body>
<div class="catalogItems _empty">Нет товаров</div>
</body></html>`

func TestReconcileCategory_CreatesProducts(t *testing.T) {
	h := newHarness()
	h.seedLeafCategory(1)
	h.fetcher.pages[beamListingURL] = beamListingHTML

	summary, err := h.svc.ReconcileCategory(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReconcileCategory: %v", err)
	}

	if summary.Parsed != 2 || summary.Created != 2 || summary.Updated != 0 || summary.Retired != 0 {
		t.Errorf("summary = %+v", summary)
	}

	p := h.catalog.productByURL("https://mc.ru/metalloprokat/balki/dvutavr/20b1")
	if p == nil {
		t.Fatal("product for 20Б1 not stored")
	}
	if p.Name != "Балка 20Б1 ст3сп 12000" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Slug == "" {
		t.Error("slug not derived")
	}
	if p.TonPrice != 78000 || !p.InStock || !p.IsPublished {
		t.Errorf("product = %+v", p)
	}
	if p.IDT != "101" || p.IDF != "5" || p.IDB != "7" {
		t.Errorf("basket identifiers = %s/%s/%s", p.IDT, p.IDF, p.IDB)
	}

	if !h.catalog.links[[2]int64{p.ID, 1}] {
		t.Error("product not linked to category as primary")
	}
	if got := h.catalog.attrValue(p.ID, domain.CodeHeight); got != "20Б1" {
		t.Errorf("size attribute = %q", got)
	}
	if got := h.catalog.attrValue(p.ID, domain.CodeSteelGrade); got != "ст3сп" {
		t.Errorf("mark attribute = %q", got)
	}
	if got := h.catalog.attrValue(p.ID, domain.CodeLength); got != "12" {
		t.Errorf("length attribute = %q", got)
	}

	c := h.catalog.categories[1]
	if !c.IsParsingSuccessful || c.LastParsedAt == nil {
		t.Errorf("category parse state = successful=%v at=%v", c.IsParsingSuccessful, c.LastParsedAt)
	}
	if len(h.state.locks) != 0 {
		t.Error("category lock not released")
	}
}

func TestReconcileCategory_SecondRunUpdatesInPlace(t *testing.T) {
	h := newHarness()
	h.seedLeafCategory(1)
	h.fetcher.pages[beamListingURL] = beamListingHTML

	if _, err := h.svc.ReconcileCategory(context.Background(), 1); err != nil {
		t.Fatalf("first run: %v", err)
	}
	summary, err := h.svc.ReconcileCategory(context.Background(), 1)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if summary.Created != 0 || summary.Updated != 2 || summary.Retired != 0 {
		t.Errorf("second-run summary = %+v", summary)
	}
	if len(h.catalog.products) != 2 {
		t.Errorf("stored %d products, want 2", len(h.catalog.products))
	}
}

func TestReconcileCategory_RetiresMissingProducts(t *testing.T) {
	h := newHarness()
	h.seedLeafCategory(1)
	h.fetcher.pages[beamListingURL] = beamListingHTML

	gone := &domain.Product{
		Name:     "Балка 55Б1 ст3сп",
		ParseURL: "https://mc.ru/metalloprokat/balki/dvutavr/55b1",
		InStock:  true,
	}
	if err := h.catalog.CreateProduct(context.Background(), gone); err != nil {
		t.Fatal(err)
	}
	_ = h.catalog.UpsertCategoryLink(context.Background(), gone.ID, 1, true, true)

	summary, err := h.svc.ReconcileCategory(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReconcileCategory: %v", err)
	}

	if summary.Retired != 1 {
		t.Errorf("retired = %d, want 1", summary.Retired)
	}
	stored := h.catalog.products[gone.ID]
	if stored == nil {
		t.Fatal("retired product was deleted, want retained")
	}
	if stored.InStock {
		t.Error("retired product still in stock")
	}
}

func TestReconcileCategory_AntiBotAbortsWithoutWrites(t *testing.T) {
	h := newHarness()
	h.seedLeafCategory(1)
	h.fetcher.errs[beamListingURL] = domain.ErrAntiBotBlocked

	_, err := h.svc.ReconcileCategory(context.Background(), 1)
	if !errors.Is(err, domain.ErrAntiBotBlocked) {
		t.Fatalf("err = %v, want ErrAntiBotBlocked", err)
	}

	if len(h.catalog.products) != 0 {
		t.Errorf("stored %d products after a blocked fetch, want 0", len(h.catalog.products))
	}
	c := h.catalog.categories[1]
	if c.IsParsingSuccessful {
		t.Error("category flagged successful after a blocked fetch")
	}
	if c.LastParsedAt == nil {
		t.Error("attempt timestamp not recorded")
	}
	if len(h.state.locks) != 0 {
		t.Error("category lock not released")
	}
}

func TestReconcileCategory_EmptyListingIsSuccess(t *testing.T) {
	h := newHarness()
	h.seedLeafCategory(1)
	h.fetcher.pages[beamListingURL] = emptyListingHTML

	summary, err := h.svc.ReconcileCategory(context.Background(), 1)
	if err != nil {
		t.Fatalf("ReconcileCategory: %v", err)
	}
	if summary.Parsed != 0 || summary.Created != 0 {
		t.Errorf("summary = %+v", summary)
	}

	c := h.catalog.categories[1]
	if !c.IsParsingSuccessful || c.LastParsedAt == nil {
		t.Error("an explicitly empty listing should count as a successful parse")
	}
}

func TestReconcileCategory_HeldLockSkips(t *testing.T) {
	h := newHarness()
	h.seedLeafCategory(1)
	h.state.locks[1] = true

	_, err := h.svc.ReconcileCategory(context.Background(), 1)
	if !errors.Is(err, domain.ErrCategoryLocked) {
		t.Fatalf("err = %v, want ErrCategoryLocked", err)
	}
	if len(h.fetcher.urls) != 0 {
		t.Error("fetched despite the held lock")
	}
	if !h.state.locks[1] {
		t.Error("foreign lock was released")
	}
}

func TestReconcileCategory_NonLeafRejected(t *testing.T) {
	h := newHarness()
	c := h.seedLeafCategory(1)
	c.NumChild = 3

	_, err := h.svc.ReconcileCategory(context.Background(), 1)
	if !errors.Is(err, domain.ErrNotLeaf) {
		t.Fatalf("err = %v, want ErrNotLeaf", err)
	}
	if domain.IsRetryable(err) {
		t.Error("a non-leaf category is a permanent failure, not a retryable one")
	}
}

func TestReconcileCategory_TxFailureRollsBackWholeCategory(t *testing.T) {
	h := newHarness()
	h.seedLeafCategory(1)
	h.fetcher.pages[beamListingURL] = beamListingHTML
	h.catalog.failCreate = errors.New("disk full")

	_, err := h.svc.ReconcileCategory(context.Background(), 1)
	if err == nil {
		t.Fatal("expected an error")
	}

	if len(h.catalog.products) != 0 {
		t.Errorf("stored %d products after rollback, want 0", len(h.catalog.products))
	}
	if len(h.catalog.links) != 0 {
		t.Errorf("stored %d links after rollback, want 0", len(h.catalog.links))
	}
	if h.catalog.categories[1].IsParsingSuccessful {
		t.Error("category flagged successful after rollback")
	}
}

func TestReconcileCategory_SEOBackfillOnlyFillsEmpty(t *testing.T) {
	h := newHarness()
	c := h.seedLeafCategory(1)
	c.SEOTitle = "Curated title"
	h.fetcher.pages[beamListingURL] = beamListingHTML

	if _, err := h.svc.ReconcileCategory(context.Background(), 1); err != nil {
		t.Fatalf("ReconcileCategory: %v", err)
	}

	if c.SEOTitle != "Curated title" {
		t.Errorf("curated title overwritten: %q", c.SEOTitle)
	}
	if c.SEODescription != "Балки двутавровые со склада СПЕЦОПТТОРГ" {
		t.Errorf("description = %q, want scraped text with the brand replaced", c.SEODescription)
	}
	if c.H1 != "Балки двутавровые" {
		t.Errorf("h1 = %q", c.H1)
	}
}

func TestReconcileCategory_RecomputesPricesOnUpdate(t *testing.T) {
	h := newHarness()
	h.seedLeafCategory(1)
	h.fetcher.pages[beamListingURL] = beamListingHTML

	if _, err := h.svc.ReconcileCategory(context.Background(), 1); err != nil {
		t.Fatalf("first run: %v", err)
	}

	p := h.catalog.productByURL("https://mc.ru/metalloprokat/balki/dvutavr/20b1")
	if p == nil {
		t.Fatal("product not stored")
	}
	// Weight arrives later via the basket endpoint; simulate a stored value.
	if err := h.catalog.UpsertAttributeValue(context.Background(), p.ID,
		h.catalog.attributes[domain.CodeMeterWeight].ID, "22,4"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.svc.ReconcileCategory(context.Background(), 1); err != nil {
		t.Fatalf("second run: %v", err)
	}

	p = h.catalog.productByURL("https://mc.ru/metalloprokat/balki/dvutavr/20b1")
	// ceil(78000/1000 * 22.4) = 1748, ceil(1748 * 12 / 1000) = 21
	if p.MeterPrice != 1748 {
		t.Errorf("meter price = %v, want 1748", p.MeterPrice)
	}
	if p.UnitPrice != 21 {
		t.Errorf("unit price = %v, want 21", p.UnitPrice)
	}
}
