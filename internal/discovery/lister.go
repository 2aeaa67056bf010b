// ABOUTME: Domain listers for ranking providers plus an in-memory TTL cache
// ABOUTME: The cache is keyed by source and country so lists don't mix

package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/smokingpi/smokeadmin/internal/naming"
)

// DefaultCacheTTL is how long a fetched list stays valid.
const DefaultCacheTTL = 24 * time.Hour

// GlobalCountry is the country code for worldwide lists.
const GlobalCountry = "global"

// Lister returns the top domains of one source.
type Lister interface {
	List(ctx context.Context, country string, limit int) ([]string, error)
}

// StaticLister always returns the same domains.
type StaticLister []string

// List implements Lister.
func (s StaticLister) List(ctx context.Context, country string, limit int) ([]string, error) {
	return truncate(append([]string(nil), s...), limit), nil
}

// RankingLister downloads a CSV ranking where each line is "rank,domain".
// Lines without a comma are skipped. The provider has no per-country
// lists, so country is ignored.
type RankingLister struct {
	URL    string
	client *http.Client
	logger *slog.Logger
}

// NewRankingLister creates a lister for url.
func NewRankingLister(url string, timeout time.Duration) *RankingLister {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RankingLister{
		URL:    url,
		client: &http.Client{Timeout: timeout},
		logger: slog.Default().With("component", "discovery"),
	}
}

// List implements Lister.
func (l *RankingLister) List(ctx context.Context, country string, limit int) ([]string, error) {
	if country != "" && country != GlobalCountry {
		l.logger.Warn("ranking list has no per-country data, using global list", "country", country)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching ranking list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching ranking list: unexpected status code: %d", resp.StatusCode)
	}

	domains, err := ParseRanking(resp.Body, limit)
	if err != nil {
		return nil, err
	}
	l.logger.Info("ranking list fetched", "url", l.URL, "domains", len(domains))
	return domains, nil
}

// ParseRanking reads "rank,domain" lines, returning at most limit
// normalized domains. limit <= 0 means no limit.
func ParseRanking(r io.Reader, limit int) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		_, domain, ok := strings.Cut(sc.Text(), ",")
		if !ok {
			continue
		}
		host := naming.Host(domain)
		if host == "" {
			continue
		}
		out = append(out, host)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ranking list: %w", err)
	}
	return out, nil
}

// CachedLister memoizes another Lister per country.
type CachedLister struct {
	source string
	next   Lister
	cache  *cache.Cache
}

// NewCachedLister wraps next. Entries live for ttl.
func NewCachedLister(source string, next Lister, ttl time.Duration) *CachedLister {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedLister{
		source: source,
		next:   next,
		cache:  cache.New(ttl, ttl/2),
	}
}

func (c *CachedLister) key(country string) string {
	if country == "" {
		country = GlobalCountry
	}
	return c.source + ":" + strings.ToLower(country)
}

// List implements Lister. The full upstream list is cached and limit is
// applied on the way out.
func (c *CachedLister) List(ctx context.Context, country string, limit int) ([]string, error) {
	key := c.key(country)
	if v, ok := c.cache.Get(key); ok {
		if domains, ok := v.([]string); ok {
			return truncate(append([]string(nil), domains...), limit), nil
		}
	}
	domains, err := c.next.List(ctx, country, 0)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, domains)
	return truncate(append([]string(nil), domains...), limit), nil
}

// Flush drops every cached list.
func (c *CachedLister) Flush() {
	c.cache.Flush()
}

func truncate(domains []string, limit int) []string {
	if limit > 0 && len(domains) > limit {
		return domains[:limit]
	}
	return domains
}
