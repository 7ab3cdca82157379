package service

import (
	"context"
	"fmt"
	"time"

	"github.com/baikov/metalsync/internal/config"
	"github.com/baikov/metalsync/internal/domain"
	"github.com/baikov/metalsync/internal/domain/task"
	"github.com/baikov/metalsync/internal/queue"
	"github.com/baikov/metalsync/internal/repository"

	"github.com/redis/go-redis/v9"
)

// fakeCatalog is an in-memory CatalogStore/CatalogTx pair with snapshot-based
// rollback, so transaction semantics hold in tests too.
type fakeCatalog struct {
	categories map[int64]*domain.Category
	products   map[int64]*domain.Product
	links      map[[2]int64]bool // (productID, categoryID) -> isPrimary
	attributes map[string]*domain.Attribute
	attrValues map[int64]map[int64]string // productID -> attributeID -> value

	nextProductID int64
	failCreate    error
}

func newFakeCatalog() *fakeCatalog {
	f := &fakeCatalog{
		categories: make(map[int64]*domain.Category),
		products:   make(map[int64]*domain.Product),
		links:      make(map[[2]int64]bool),
		attributes: make(map[string]*domain.Attribute),
		attrValues: make(map[int64]map[int64]string),
	}
	for i, code := range []string{
		domain.CodeHeight, domain.CodeWidth, domain.CodeDiameter,
		domain.CodeLength, domain.CodeWallThickness, domain.CodeProfile,
		domain.CodeSteelGrade, domain.CodeSurface, domain.CodeMeterWeight,
		domain.CodeUnitWeight,
	} {
		f.attributes[code] = &domain.Attribute{ID: int64(i + 1), Code: code, Name: code}
	}
	return f
}

type catalogSnapshot struct {
	categories map[int64]*domain.Category
	products   map[int64]*domain.Product
	links      map[[2]int64]bool
	attrValues map[int64]map[int64]string
	nextID     int64
}

func (f *fakeCatalog) snapshot() catalogSnapshot {
	s := catalogSnapshot{
		categories: make(map[int64]*domain.Category, len(f.categories)),
		products:   make(map[int64]*domain.Product, len(f.products)),
		links:      make(map[[2]int64]bool, len(f.links)),
		attrValues: make(map[int64]map[int64]string, len(f.attrValues)),
		nextID:     f.nextProductID,
	}
	for id, c := range f.categories {
		cc := *c
		s.categories[id] = &cc
	}
	for id, p := range f.products {
		pc := *p
		s.products[id] = &pc
	}
	for k, v := range f.links {
		s.links[k] = v
	}
	for pid, vals := range f.attrValues {
		cp := make(map[int64]string, len(vals))
		for aid, v := range vals {
			cp[aid] = v
		}
		s.attrValues[pid] = cp
	}
	return s
}

func (f *fakeCatalog) restore(s catalogSnapshot) {
	f.categories = s.categories
	f.products = s.products
	f.links = s.links
	f.attrValues = s.attrValues
	f.nextProductID = s.nextID
}

func (f *fakeCatalog) InTx(ctx context.Context, fn func(tx repository.CatalogTx) error) error {
	snap := f.snapshot()
	if err := fn(f); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeCatalog) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	c, ok := f.categories[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (f *fakeCatalog) ListEligibleCategoryIDs(ctx context.Context, ids []int64, staleAfter time.Duration) ([]int64, error) {
	cutoff := time.Now().Add(-staleAfter)
	var eligible []int64
	for _, id := range ids {
		c, ok := f.categories[id]
		if !ok || c.NumChild != 0 {
			continue
		}
		if !c.IsParsingSuccessful || c.LastParsedAt == nil || c.LastParsedAt.Before(cutoff) {
			eligible = append(eligible, id)
		}
	}
	return eligible, nil
}

func (f *fakeCatalog) ListPrimaryProducts(ctx context.Context, categoryID int64) ([]domain.Product, error) {
	var products []domain.Product
	for _, p := range f.products {
		if f.links[[2]int64{p.ID, categoryID}] {
			products = append(products, *p)
		}
	}
	return products, nil
}

func (f *fakeCatalog) CreateProduct(ctx context.Context, product *domain.Product) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	f.nextProductID++
	product.ID = f.nextProductID
	pc := *product
	f.products[product.ID] = &pc
	return nil
}

func (f *fakeCatalog) UpdateProduct(ctx context.Context, product *domain.Product) error {
	if _, ok := f.products[product.ID]; !ok {
		return repository.ErrNotFound
	}
	pc := *product
	f.products[product.ID] = &pc
	return nil
}

func (f *fakeCatalog) UpsertCategoryLink(ctx context.Context, productID, categoryID int64, isPrimary, isDisplay bool) error {
	f.links[[2]int64{productID, categoryID}] = isPrimary
	return nil
}

func (f *fakeCatalog) GetAttributeByCode(ctx context.Context, code string) (*domain.Attribute, error) {
	attr, ok := f.attributes[code]
	if !ok {
		return nil, fmt.Errorf("attribute %q: %w", code, repository.ErrNotFound)
	}
	return attr, nil
}

func (f *fakeCatalog) UpsertAttributeValue(ctx context.Context, productID, attributeID int64, value string) error {
	if f.attrValues[productID] == nil {
		f.attrValues[productID] = make(map[int64]string)
	}
	f.attrValues[productID][attributeID] = value
	return nil
}

func (f *fakeCatalog) GetAttributeValueByCode(ctx context.Context, productID int64, code string) (string, error) {
	attr, ok := f.attributes[code]
	if !ok {
		return "", repository.ErrNotFound
	}
	value, ok := f.attrValues[productID][attr.ID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return value, nil
}

func (f *fakeCatalog) MarkOutOfStock(ctx context.Context, productIDs []int64) error {
	for _, id := range productIDs {
		if p, ok := f.products[id]; ok {
			p.InStock = false
		}
	}
	return nil
}

func (f *fakeCatalog) UpdateCategoryParseResult(ctx context.Context, categoryID int64, successful bool, at time.Time) error {
	c, ok := f.categories[categoryID]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsParsingSuccessful = successful
	c.LastParsedAt = &at
	return nil
}

func (f *fakeCatalog) BackfillCategorySEO(ctx context.Context, categoryID int64, title, description, h1 string) error {
	c, ok := f.categories[categoryID]
	if !ok {
		return repository.ErrNotFound
	}
	if c.SEOTitle == "" {
		c.SEOTitle = title
	}
	if c.SEODescription == "" {
		c.SEODescription = description
	}
	if c.H1 == "" {
		c.H1 = h1
	}
	return nil
}

// attrValue looks up a product's attribute value by code, "" when absent.
func (f *fakeCatalog) attrValue(productID int64, code string) string {
	v, _ := f.GetAttributeValueByCode(context.Background(), productID, code)
	return v
}

// productByURL finds the stored product with the given parse URL.
func (f *fakeCatalog) productByURL(url string) *domain.Product {
	for _, p := range f.products {
		if p.ParseURL == url {
			return p
		}
	}
	return nil
}

// fakeState tracks per-category locks and the last-run timestamp in memory.
type fakeState struct {
	locks   map[int64]bool
	lastRun time.Time
}

func newFakeState() *fakeState {
	return &fakeState{locks: make(map[int64]bool)}
}

func (s *fakeState) AcquireCategoryLock(ctx context.Context, categoryID int64, ttl time.Duration) (bool, error) {
	if s.locks[categoryID] {
		return false, nil
	}
	s.locks[categoryID] = true
	return true, nil
}

func (s *fakeState) ReleaseCategoryLock(ctx context.Context, categoryID int64) error {
	delete(s.locks, categoryID)
	return nil
}

func (s *fakeState) SetLastRunFinished(ctx context.Context, at time.Time) error {
	s.lastRun = at
	return nil
}

func (s *fakeState) GetLastRunFinished(ctx context.Context) (time.Time, error) {
	return s.lastRun, nil
}

// fakeQueue records enqueued retry tasks and acked message IDs.
type fakeQueue struct {
	tasks []*task.CategoryRetryTask
	acked []string
}

func (q *fakeQueue) AddTask(ctx context.Context, t task.Task) (string, error) {
	if retry, ok := t.(*task.CategoryRetryTask); ok {
		q.tasks = append(q.tasks, retry)
	}
	return fmt.Sprintf("%d-0", len(q.tasks)), nil
}

func (q *fakeQueue) GetTask(ctx context.Context, group, consumer, stream string) (*redis.XMessage, error) {
	return nil, nil
}

func (q *fakeQueue) AckTask(ctx context.Context, stream, group, msgID string) error {
	q.acked = append(q.acked, msgID)
	return nil
}

func (q *fakeQueue) AutoClaim(ctx context.Context, group, consumer, stream string, minIdleTime time.Duration) ([]redis.XMessage, error) {
	return nil, nil
}

var _ queue.Queue = (*fakeQueue)(nil)

// fakeFetcher serves canned bodies per URL and records every request.
type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
	urls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]string),
		errs:  make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	html, ok := f.pages[url]
	if !ok {
		return "", &domain.TransportError{URL: url, Status: 404}
	}
	return html, nil
}

// fakeTree is an in-memory CategoryTreeStore that records the inserted forest.
type fakeTree struct {
	leafIDs  []int64
	roots    []repository.CategoryAttrs
	children map[string][]repository.CategoryAttrs // parent parsed name -> children
	cleared  bool
	nextID   int64
}

func newFakeTree() *fakeTree {
	return &fakeTree{children: make(map[string][]repository.CategoryAttrs)}
}

func (t *fakeTree) AddRoot(ctx context.Context, attrs repository.CategoryAttrs) (*domain.Category, error) {
	t.roots = append(t.roots, attrs)
	t.nextID++
	return &domain.Category{
		ID:         t.nextID,
		ParsedName: attrs.ParsedName,
		ParseURL:   attrs.ParseURL,
		Slug:       attrs.Slug,
		Path:       fmt.Sprintf("%04d", len(t.roots)),
		Depth:      1,
	}, nil
}

func (t *fakeTree) AddChild(ctx context.Context, parent *domain.Category, attrs repository.CategoryAttrs) (*domain.Category, error) {
	t.children[parent.ParsedName] = append(t.children[parent.ParsedName], attrs)
	parent.NumChild++
	t.nextID++
	return &domain.Category{
		ID:         t.nextID,
		ParsedName: attrs.ParsedName,
		ParseURL:   attrs.ParseURL,
		Slug:       attrs.Slug,
		Path:       fmt.Sprintf("%s%04d", parent.Path, parent.NumChild),
		Depth:      parent.Depth + 1,
	}, nil
}

func (t *fakeTree) GetChildren(ctx context.Context, node *domain.Category) ([]domain.Category, error) {
	return nil, nil
}

func (t *fakeTree) GetDescendants(ctx context.Context, node *domain.Category) ([]domain.Category, error) {
	return nil, nil
}

func (t *fakeTree) GetAncestors(ctx context.Context, node *domain.Category) ([]domain.Category, error) {
	return nil, nil
}

func (t *fakeTree) IsLeaf(ctx context.Context, node *domain.Category) (bool, error) {
	return node.NumChild == 0, nil
}

func (t *fakeTree) Depth(node *domain.Category) int { return node.Depth }

func (t *fakeTree) ListLeafIDs(ctx context.Context) ([]int64, error) {
	return t.leafIDs, nil
}

func (t *fakeTree) Clear(ctx context.Context) error {
	t.cleared = true
	return nil
}

func (t *fakeTree) InTx(ctx context.Context, fn func(tx repository.CategoryTreeStore) error) error {
	return fn(t)
}

var _ repository.CategoryTreeStore = (*fakeTree)(nil)

// harness bundles a Service with all its fakes.
type harness struct {
	svc     *Service
	catalog *fakeCatalog
	tree    *fakeTree
	fetcher *fakeFetcher
	queue   *fakeQueue
	state   *fakeState
	site    config.SiteConfig
}

func newHarness() *harness {
	h := &harness{
		catalog: newFakeCatalog(),
		tree:    newFakeTree(),
		fetcher: newFakeFetcher(),
		queue:   &fakeQueue{},
		state:   newFakeState(),
		site: config.SiteConfig{
			BaseURL:               "https://mc.ru",
			SitemapPath:           "/sitemap/map",
			RegionPrefix:          "/region/nnovgorod",
			MaxRetries:            3,
			RetryBackoffSeconds:   30,
			AntiBotBackoffSeconds: 300,
			RunBudgetMinutes:      10,
			CategoryAllowList:     []string{"Сортовой прокат"},
			BrandReplacements:     map[string]string{"МЕТАЛЛСЕРВИС": "СПЕЦОПТТОРГ"},
		},
	}
	h.svc = NewService(h.catalog, h.tree, h.fetcher, h.queue, h.state,
		h.site, config.ParserConfig{StaleAfterHours: 24}, "metalsync")
	return h
}

// seedLeafCategory adds a leaf category for beams and returns it.
func (h *harness) seedLeafCategory(id int64) *domain.Category {
	c := &domain.Category{
		ID:         id,
		ParsedName: "Балки (Двутавр)",
		ParseURL:   "https://mc.ru/metalloprokat/balki/dvutavr",
		Slug:       "dvutavr",
		Path:       "00010001",
		Depth:      2,
	}
	h.catalog.categories[id] = c
	return c
}

// beamListingURL is the regional all-items URL the reconciler fetches for
// the seeded beam category.
const beamListingURL = "https://mc.ru/region/nnovgorod/metalloprokat/balki/dvutavr/PageAll/1"
