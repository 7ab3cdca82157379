package proxy

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// ProxySupplier hands out proxy URLs round-robin. An empty string means
// direct connection.
type ProxySupplier interface {
	Get() string
}

type proxySupplier struct {
	proxies []string
	current int
	mutex   sync.Mutex
}

// NewProxySupplier validates the configured proxies against testURL in
// parallel and keeps only the working ones.
func NewProxySupplier(ctx context.Context, proxies []string, testURL string) (ProxySupplier, error) {
	if len(proxies) == 0 {
		return &proxySupplier{}, nil
	}

	validProxiesCh := make(chan string, len(proxies))
	var wg sync.WaitGroup

	log.Infof("Testing %d proxies...", len(proxies))

	for _, proxyURL := range proxies {
		wg.Add(1)
		go func(proxy string) {
			defer wg.Done()
			if isProxyValid(ctx, proxy, testURL) {
				validProxiesCh <- proxy
			} else {
				log.Infof("Proxy %s is not working, skipping", proxy)
			}
		}(proxyURL)
	}

	wg.Wait()
	close(validProxiesCh)

	validProxies := make([]string, 0, len(proxies))
	for proxy := range validProxiesCh {
		validProxies = append(validProxies, proxy)
	}

	log.Infof("ProxySupplier initialized with %d working proxies out of %d", len(validProxies), len(proxies))

	return &proxySupplier{proxies: validProxies}, nil
}

func (p *proxySupplier) Get() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.proxies) == 0 {
		return ""
	}

	proxy := p.proxies[p.current]
	p.current = (p.current + 1) % len(p.proxies)
	return proxy
}

func isProxyValid(ctx context.Context, proxyURL, testURL string) bool {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(0).
		SetProxy(proxyURL).
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: true,
		})

	resp, err := client.R().
		SetContext(ctx).
		Get(testURL)
	if err != nil {
		return false
	}

	return !resp.IsError()
}
