package domain

import "time"

// Category is one node in the materialized-path catalog tree. Name is the
// curated display name; ParsedName/ParseURL come from the sitemap import and
// are never edited by hand.
type Category struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	ParsedName          string     `json:"parsed_name"`
	ParseURL            string     `json:"parse_url"`
	Slug                string     `json:"slug"`
	Path                string     `json:"path"`
	Depth               int        `json:"depth"`
	NumChild            int        `json:"numchild"`
	WeightCoefficient   float64    `json:"weight_coefficient"`
	PriceCoefficient    float64    `json:"price_coefficient"`
	LastParsedAt        *time.Time `json:"last_parsed_at,omitempty"`
	IsParsingSuccessful bool       `json:"is_parsing_successful"`
	IsPublished         bool       `json:"is_published"`
	SEOTitle            string     `json:"seo_title,omitempty"`
	SEODescription      string     `json:"seo_description,omitempty"`
	H1                  string     `json:"h1,omitempty"`
}

// IsLeaf reports whether the category has no children. Only leaf categories
// hold products and are scraped for listings.
func (c *Category) IsLeaf() bool {
	return c.NumChild == 0
}

// DisplayName returns the curated name, falling back to the scraped one.
func (c *Category) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ParsedName
}

// CategoryNode is one node of the forest produced by the sitemap importer,
// before it is persisted into the tree store.
type CategoryNode struct {
	Name     string          `json:"name"`
	Href     string          `json:"href"`
	Slug     string          `json:"slug"`
	Children []*CategoryNode `json:"children,omitempty"`
}
