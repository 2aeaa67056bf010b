// ABOUTME: Tests for OCA locator parsing
// ABOUTME: Checks naming, probe family, metadata and the target cap

package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ocaJSON = `{
  "total_ocas": 4,
  "oca_servers": [
    {"ip_address": "198.51.100.7", "domain": "ipv4-c115-ord003-ix.1.oca.nflxvideo.net",
     "city": "Chicago, IL", "asn": 2906, "iata_code": "ORD", "latitude": 41.97, "longitude": -87.9},
    {"ip_address": "2001:db8::10", "domain": "ipv6-c022-sea001-ix.1.oca.nflxvideo.net",
     "city": "St. Louis", "asn": "AS2906"},
    {"ip_address": "not-an-ip", "domain": "ipv4-c001-lax001-ix.1.oca.nflxvideo.net", "city": "Los Angeles"},
    {"ip_address": "203.0.113.9", "domain": "", "city": ""}
  ]
}`

func TestParseOCA(t *testing.T) {
	got, err := ParseOCA([]byte(ocaJSON), 0)
	require.NoError(t, err)
	require.Len(t, got, 3, "invalid IP is skipped")

	chi := got[0]
	assert.Equal(t, "198.51.100.7", chi.Host)
	assert.Equal(t, "Chicago_ORD_c115_1", chi.Name)
	assert.Equal(t, "ipv4-c115-ord003-ix.1.oca.nflxvideo.net (Chicago ORD/c115_1)", chi.Title)
	assert.Equal(t, "FPing", chi.Probe)
	require.NotNil(t, chi.Meta)
	assert.Equal(t, "2906", chi.Meta.ASN)
	assert.Equal(t, "Chicago", chi.Meta.City)
	assert.Equal(t, "Chicago, IL", chi.Meta.RawCity)
	assert.Equal(t, "ORD", chi.Meta.LocationCode)
	assert.Equal(t, "c115", chi.Meta.CacheID)
	assert.Equal(t, OCAMetaType, chi.Meta.Type)
	assert.InDelta(t, 41.97, chi.Meta.Latitude, 1e-9)

	stl := got[1]
	assert.Equal(t, "FPing6", stl.Probe)
	assert.Equal(t, "St_Louis_SEA_c022_2", stl.Name)
	assert.Equal(t, "AS2906", stl.Meta.ASN)

	bare := got[2]
	assert.Equal(t, "Unknown_Unknown_4", bare.Name)
	assert.Equal(t, "Netflix OCA Unknown", bare.Title)
}

func TestParseOCA_Cap(t *testing.T) {
	got, err := ParseOCA([]byte(ocaJSON), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestParseOCA_BadJSON(t *testing.T) {
	_, err := ParseOCA([]byte("{"), 0)
	assert.Error(t, err)
}

func TestLocationAndCacheID(t *testing.T) {
	assert.Equal(t, "ORD", LocationCode("ipv4-c115-ord003-ix.1.oca.nflxvideo.net"))
	assert.Equal(t, "Unknown", LocationCode("example.com"))
	assert.Equal(t, "c115", CacheID("ipv4-c115-ord003-ix.1.oca.nflxvideo.net"))
	assert.Equal(t, "unknown", CacheID("ipv4-cdn-ord003"))
}

func TestOCAFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oca_results.json")
	require.NoError(t, os.WriteFile(path, []byte(ocaJSON), 0o644))

	got, err := OCAFileSource{Path: path}.Candidates(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = OCAFileSource{Path: filepath.Join(t.TempDir(), "missing.json")}.Candidates(context.Background(), 10)
	assert.Error(t, err)
}
