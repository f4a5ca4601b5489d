package ipinfo

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/moo-gh/Ping-Success/internal/log"
)

// DefaultEndpoints are plain-text IP echo services, queried in order until
// one returns a parseable address.
var DefaultEndpoints = []string{
	"https://echoip.ir",
	"https://api.ipify.org",
	"https://icanhazip.com",
	"https://ifconfig.me/ip",
}

const (
	requestBudget = 3 * time.Second
	refreshPeriod = 5 * time.Minute
	maxBodyBytes  = 256
)

// Fetcher resolves the host's public IP for display and caches the last
// answer. It never blocks its consumers: the TUI reads Current() while Run
// refreshes in the background.
type Fetcher struct {
	client    *http.Client
	endpoints []string
	logger    *log.Logger

	mu      sync.RWMutex
	current string
}

// NewFetcher constructs a fetcher over the default endpoints.
func NewFetcher(logger *log.Logger) *Fetcher {
	return &Fetcher{
		client:    &http.Client{},
		endpoints: DefaultEndpoints,
		logger:    logger,
	}
}

// Current returns the cached public IP, empty before the first answer.
func (f *Fetcher) Current() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Lookup queries the endpoints in order and returns the first parseable IP.
func (f *Fetcher) Lookup(ctx context.Context) (string, error) {
	var lastErr error
	for _, endpoint := range f.endpoints {
		ip, err := f.fetch(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		return ip, nil
	}
	if lastErr == nil {
		return "", fmt.Errorf("no lookup endpoints configured")
	}
	return "", fmt.Errorf("public IP lookup failed: %w", lastErr)
}

func (f *Fetcher) fetch(ctx context.Context, endpoint string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: unexpected status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}

	candidate := strings.TrimSpace(string(body))
	if net.ParseIP(candidate) == nil {
		return "", fmt.Errorf("%s: not an IP address: %q", endpoint, candidate)
	}
	return candidate, nil
}

// Run refreshes the cache once immediately and then every five minutes until
// the context ends.
func (f *Fetcher) Run(ctx context.Context) {
	f.refresh(ctx)

	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.refresh(ctx)
		}
	}
}

func (f *Fetcher) refresh(ctx context.Context) {
	ip, err := f.Lookup(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("public IP lookup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	f.mu.Lock()
	changed := f.current != ip
	f.current = ip
	f.mu.Unlock()

	if changed {
		f.logger.Info("public IP updated", map[string]interface{}{"ip": ip})
	}
}
