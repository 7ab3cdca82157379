package client

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/baikov/metalsync/internal/config"
	"github.com/baikov/metalsync/internal/domain"
	"github.com/baikov/metalsync/internal/proxy"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

// antiBotForm selects the form of the site's "prove you are human" page.
const antiBotForm = `form[action="/check-human"]`

// Fetcher issues HTTP GETs with the fixed browser-like header set and
// classifies responses. A nil error means usable HTML; an anti-bot block
// surfaces as domain.ErrAntiBotBlocked, everything else as
// *domain.TransportError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type fetcher struct {
	rl            ratelimit.Limiter
	config        config.SiteConfig
	httpClient    *resty.Client
	proxySupplier proxy.ProxySupplier
}

func NewFetcher(cfg config.SiteConfig, proxySupplier proxy.ProxySupplier) Fetcher {
	client := resty.New().
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetRetryCount(0).
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: true,
		})

	for name, value := range cfg.Headers {
		client.SetHeader(name, value)
	}

	if proxySupplier != nil {
		if proxyURL := proxySupplier.Get(); proxyURL != "" {
			client.SetProxy(proxyURL)
			log.Infof("Using initial proxy: %s", proxyURL)
		}
	}

	rps := cfg.MaxRequestsPerSecond
	if rps < 1 {
		rps = 1
	}

	return &fetcher{
		rl:            ratelimit.New(rps),
		config:        cfg,
		httpClient:    client,
		proxySupplier: proxySupplier,
	}
}

func (f *fetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.rl.Take()

	resp, err := f.httpClient.R().
		SetContext(ctx).
		Get(url)

	if err != nil {
		if ctx.Err() != nil {
			return "", &domain.TransportError{URL: url, Err: ctx.Err()}
		}
		return "", &domain.TransportError{URL: url, Err: err}
	}

	if resp.IsError() {
		return "", &domain.TransportError{URL: url, Status: resp.StatusCode()}
	}

	html := resp.String()
	if isAntiBotPage(html) {
		log.Warnf("Anti-bot check page returned for URL: %s", url)

		// A fresh proxy sometimes gets a clean page where the old one is
		// already flagged. One immediate attempt, then give up to the
		// caller's long backoff.
		if f.proxySupplier != nil {
			if newProxy := f.proxySupplier.Get(); newProxy != "" {
				log.Infof("Switching to proxy %s and retrying once", newProxy)
				f.httpClient.SetProxy(newProxy)

				retryResp, retryErr := f.httpClient.R().
					SetContext(ctx).
					Get(url)
				if retryErr == nil && !retryResp.IsError() {
					retryHTML := retryResp.String()
					if !isAntiBotPage(retryHTML) {
						return retryHTML, nil
					}
				}
			}
		}

		return "", domain.ErrAntiBotBlocked
	}

	return html, nil
}

// isAntiBotPage matches the challenge form structurally, so pages that merely
// mention the URL in text are not misclassified. Unparsable bodies pass
// through; the downstream parser deals with them.
func isAntiBotPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(antiBotForm).Length() > 0
}
