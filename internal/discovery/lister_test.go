// ABOUTME: Tests for ranking list parsing, HTTP fetching and the TTL cache
// ABOUTME: Uses httptest servers and a counting lister

package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRanking(t *testing.T) {
	in := "1,google.com\n2,WWW.YouTube.com\nheader without comma\n3,\n4,https://facebook.com/\n"
	got, err := ParseRanking(strings.NewReader(in), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"google.com", "www.youtube.com", "facebook.com"}, got)

	got, err = ParseRanking(strings.NewReader(in), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"google.com", "www.youtube.com"}, got)
}

func TestRankingLister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1,a.com\n2,b.com\n3,c.com\n"))
	}))
	defer srv.Close()

	got, err := NewRankingLister(srv.URL, time.Second).List(context.Background(), "us", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, got)
}

func TestRankingLister_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewRankingLister(srv.URL, time.Second).List(context.Background(), GlobalCountry, 10)
	assert.ErrorContains(t, err, "502")
}

type countingLister struct {
	calls   int
	domains []string
	err     error
}

func (c *countingLister) List(ctx context.Context, country string, limit int) ([]string, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return truncate(append([]string(nil), c.domains...), limit), nil
}

func TestCachedLister(t *testing.T) {
	ctx := context.Background()
	next := &countingLister{domains: []string{"a.com", "b.com", "c.com"}}
	c := NewCachedLister("top_sites", next, time.Hour)

	got, err := c.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, got)

	got, err = c.List(ctx, GlobalCountry, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3, "limit is applied after the cache")
	assert.Equal(t, 1, next.calls, "empty country and global share an entry")

	_, err = c.List(ctx, "DE", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)

	c.Flush()
	_, err = c.List(ctx, "de", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestCachedLister_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	next := &countingLister{err: errors.New("provider down")}
	c := NewCachedLister("top_sites", next, time.Hour)

	_, err := c.List(ctx, "", 10)
	require.Error(t, err)

	next.err = nil
	next.domains = []string{"a.com"}
	got, err := c.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com"}, got)
}

func TestStaticLister(t *testing.T) {
	got, err := StaticLister{"a.com", "b.com"}.List(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com"}, got)
}
