package client

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/baikov/metalsync/internal/domain"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// ListingPage is the parsed result of one leaf category listing.
type ListingPage struct {
	// Products maps normalized name to the one canonical record kept after
	// deduplication.
	Products map[string]domain.ParsedProduct

	Title       string
	Description string
	H1          string

	// Empty is the explicit "no items" marker, a valid terminal state.
	Empty bool
}

// ListingParser extracts product rows and SEO head fields from a category
// listing page.
type ListingParser struct {
	baseURL string

	// Per-field text substitutions: the old brand is replaced in title and
	// description but stripped from h1, and the description additionally
	// swaps the nationwide wording for the city one.
	titleRepl map[string]string
	descRepl  map[string]string
	h1Repl    map[string]string
}

func NewListingParser(baseURL string, brandReplacements map[string]string) *ListingParser {
	titleRepl := make(map[string]string, len(brandReplacements))
	descRepl := make(map[string]string, len(brandReplacements)+1)
	h1Repl := make(map[string]string, len(brandReplacements))
	for from, to := range brandReplacements {
		titleRepl[from] = to
		descRepl[from] = to
		h1Repl[from] = ""
	}
	descRepl["стране"] = "городе"

	return &ListingParser{
		baseURL:   baseURL,
		titleRepl: titleRepl,
		descRepl:  descRepl,
		h1Repl:    h1Repl,
	}
}

// Parse never fails on a single malformed row: bad rows are logged and
// skipped, the rest of the page is still used.
func (p *ListingParser) Parse(html string) (*ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}

	page := &ListingPage{
		Products: make(map[string]domain.ParsedProduct),
	}

	if doc.Find("div.catalogItems._empty").Length() > 0 {
		page.Empty = true
		return page, nil
	}

	page.Title = p.headText(doc.Find("title").First().Text(), 350, p.titleRepl)
	if desc, exists := doc.Find(`meta[name="description"]`).Attr("content"); exists {
		page.Description = p.headText(desc, 500, p.descRepl)
	}
	page.H1 = p.headText(doc.Find("h1").First().Text(), 250, p.h1Repl)

	doc.Find(`tr[itemtype="http://schema.org/Product"]`).Each(func(i int, row *goquery.Selection) {
		product, err := p.parseRow(row)
		if err != nil {
			log.Warnf("Skipping malformed listing row %d: %v", i, err)
			return
		}
		p.merge(page.Products, product)
	})

	log.Debugf("Parsed listing: %d unique products", len(page.Products))
	return page, nil
}

func (p *ListingParser) parseRow(row *goquery.Selection) (domain.ParsedProduct, error) {
	rawName, exists := row.Attr("data-nm")
	if !exists || strings.TrimSpace(rawName) == "" {
		return domain.ParsedProduct{}, fmt.Errorf("row has no data-nm name")
	}
	name := NormalizeName(rawName)

	href, exists := row.Find("a").First().Attr("href")
	if !exists {
		return domain.ParsedProduct{}, fmt.Errorf("row %q has no detail link", name)
	}
	if !strings.HasPrefix(href, "http") {
		href = p.baseURL + href
	}

	idt, _ := row.Attr("idt")
	idf, _ := row.Attr("idf")
	idb, _ := row.Attr("idb")

	return domain.ParsedProduct{
		Name:     name,
		ParseURL: href,
		Size:     strings.TrimSpace(row.Find("td._razmer").First().Text()),
		Mark:     strings.TrimSpace(row.Find("td._mark").First().Text()),
		Length:   strings.TrimSpace(row.Find("td._dlina").First().Text()),
		InStock:  p.isInStock(row, name),
		Price:    p.price(row, name),
		IDT:      idt,
		IDF:      idf,
		IDB:      idb,
	}, nil
}

// isInStock checks the row's action control: a basket button means the item
// can be ordered, a notify button (or no recognizable control at all) means
// it cannot.
func (p *ListingParser) isInStock(row *goquery.Selection, name string) bool {
	button := row.Find("button").First()
	if button.Length() == 0 {
		log.Errorf("Could not determine stock state for product: %s", name)
		return false
	}
	class, exists := button.Attr("class")
	if !exists || class == "" {
		log.Errorf("Could not determine stock state for product: %s", name)
		return false
	}
	return strings.Contains(class, "_basket")
}

func (p *ListingParser) price(row *goquery.Selection, name string) float64 {
	content, exists := row.Find(`meta[itemprop="price"]`).Attr("content")
	if !exists {
		log.Infof("Price missing for product: %s", name)
		return 0.0
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
	if err != nil {
		log.Infof("Price unparsable for product %s: %q", name, content)
		return 0.0
	}
	return price
}

// merge applies the dedup policy for rows sharing one normalized name: the
// new record replaces the kept one only if it is in stock and cheaper, or if
// the kept one is out of stock and the new one is in stock. Otherwise the
// first-seen record wins.
func (p *ListingParser) merge(products map[string]domain.ParsedProduct, product domain.ParsedProduct) {
	existing, ok := products[product.Name]
	if !ok {
		products[product.Name] = product
		return
	}
	if product.InStock && product.Price < existing.Price {
		products[product.Name] = product
		return
	}
	if !existing.InStock && product.InStock {
		products[product.Name] = product
	}
}

func (p *ListingParser) headText(text string, limit int, replacements map[string]string) string {
	for from, to := range replacements {
		text = strings.ReplaceAll(text, from, to)
	}
	text = whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	if utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit])
	}
	return text
}

// NormalizeName collapses whitespace, replaces the Cyrillic multiplication
// sign between digits with ASCII "x" and upper-cases the first rune.
func NormalizeName(name string) string {
	name = whitespaceRe.ReplaceAllString(strings.TrimSpace(name), " ")
	name = replaceMultiplySigns(name)

	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// replaceMultiplySigns turns the Cyrillic "х" into ASCII "x" wherever both
// neighbors are digits. Chained dimensions like 57х3х6000 share the middle
// digit between two boundaries, so this scans runes instead of using a
// regexp, which would consume the digit on its first match.
func replaceMultiplySigns(name string) string {
	runes := []rune(name)
	for i := 1; i < len(runes)-1; i++ {
		if runes[i] == 'х' && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			runes[i] = 'x'
		}
	}
	return string(runes)
}
