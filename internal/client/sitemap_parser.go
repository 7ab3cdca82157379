package client

import (
	"fmt"
	"strings"

	"github.com/baikov/metalsync/internal/domain"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// SitemapParser turns the site's sitemap page into a category forest, up to
// three levels deep. Only allow-listed top-level names are kept.
type SitemapParser struct {
	baseURL   string
	allowList map[string]struct{}
}

func NewSitemapParser(baseURL string, allowList []string) *SitemapParser {
	allowed := make(map[string]struct{}, len(allowList))
	for _, name := range allowList {
		allowed[name] = struct{}{}
	}
	return &SitemapParser{
		baseURL:   baseURL,
		allowList: allowed,
	}
}

// Parse extracts the allowed category subtrees from the sitemap HTML.
func (p *SitemapParser) Parse(html string) ([]*domain.CategoryNode, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse sitemap HTML: %w", err)
	}

	forest := make([]*domain.CategoryNode, 0, len(p.allowList))

	doc.Find("section.category").Each(func(i int, section *goquery.Selection) {
		root := p.nodeFromLink(section.Find("h2 a").First())
		if root == nil {
			return
		}
		if _, ok := p.allowList[root.Name]; !ok {
			log.Debugf("Skipping category %q: not in allow-list", root.Name)
			return
		}

		section.Find("div.sections section.group").Each(func(j int, group *goquery.Selection) {
			child := p.nodeFromLink(group.Find("h3 a").First())
			if child == nil {
				return
			}

			group.Find("li").Each(func(k int, li *goquery.Selection) {
				leaf := p.nodeFromLink(li.Find("a").First())
				if leaf == nil {
					return
				}
				child.Children = append(child.Children, leaf)
			})

			root.Children = append(root.Children, child)
		})

		forest = append(forest, root)
	})

	log.Infof("Parsed sitemap: %d top-level categories", len(forest))
	return forest, nil
}

// nodeFromLink builds a node from an anchor: display name from the link
// text, absolute URL, slug from the URL's last path segment with
// underscores replaced by hyphens. Returns nil for malformed anchors.
func (p *SitemapParser) nodeFromLink(link *goquery.Selection) *domain.CategoryNode {
	if link.Length() == 0 {
		return nil
	}
	href, exists := link.Attr("href")
	if !exists {
		return nil
	}
	name := strings.TrimSpace(link.Text())
	if name == "" {
		return nil
	}

	if !strings.HasPrefix(href, "http") {
		href = p.baseURL + href
	}

	segments := strings.Split(href, "/")
	slug := strings.ReplaceAll(segments[len(segments)-1], "_", "-")

	return &domain.CategoryNode{
		Name: name,
		Href: href,
		Slug: slug,
	}
}
