// ABOUTME: Parser for OCA locator output
// ABOUTME: Builds one candidate per appliance with geo metadata and an IP-family probe

package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/smokingpi/smokeadmin/internal/naming"
	"github.com/smokingpi/smokeadmin/internal/reconcile"
	"github.com/smokingpi/smokeadmin/internal/store"
)

// OCAMetaType marks targets built from real locator results.
const OCAMetaType = "real_oca"

// looseString accepts a JSON string or number.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(b)
	return nil
}

// OCAServer is one appliance in the locator output.
type OCAServer struct {
	IPAddress string      `json:"ip_address"`
	Domain    string      `json:"domain"`
	City      string      `json:"city"`
	ASN       looseString `json:"asn"`
	IATACode  string      `json:"iata_code"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
}

// OCAResult is the locator output document.
type OCAResult struct {
	Servers []OCAServer `json:"oca_servers"`
	Total   int         `json:"total_ocas"`
}

// ParseOCA decodes locator JSON into at most maxTargets candidates.
// Servers without a valid IP are skipped. maxTargets <= 0 means no cap.
func ParseOCA(data []byte, maxTargets int) ([]reconcile.Candidate, error) {
	logger := slog.Default().With("component", "discovery")

	var res OCAResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding OCA results: %w", err)
	}

	servers := res.Servers
	if maxTargets > 0 && len(servers) > maxTargets {
		servers = servers[:maxTargets]
	}

	out := make([]reconcile.Candidate, 0, len(servers))
	for i, srv := range servers {
		ip := net.ParseIP(srv.IPAddress)
		if ip == nil {
			logger.Warn("skipping OCA server with invalid IP", "index", i, "ip", srv.IPAddress)
			continue
		}
		out = append(out, ocaCandidate(srv, ip, i+1))
	}
	logger.Info("OCA results parsed", "servers", len(res.Servers), "candidates", len(out))
	return out, nil
}

func ocaCandidate(srv OCAServer, ip net.IP, n int) reconcile.Candidate {
	probe := "FPing"
	if ip.To4() == nil {
		probe = "FPing6"
	}

	city := strings.TrimSpace(srv.City)
	if before, _, ok := strings.Cut(city, ", "); ok {
		city = strings.TrimSpace(before)
	}
	if city == "" {
		city = "Unknown"
	}
	loc := LocationCode(srv.Domain)
	cacheID := CacheID(srv.Domain)

	label := naming.SafeLabel(city)
	if label == "" || !isLetter(label[0]) {
		label = "OCA_" + label
	}
	var name, title string
	if srv.Domain != "" {
		name = fmt.Sprintf("%s_%s_%s_%d", label, loc, cacheID, n)
		title = srv.Domain
		if city != "Unknown" {
			title = fmt.Sprintf("%s (%s %s/%s_%d)", srv.Domain, city, loc, cacheID, n)
		}
	} else {
		name = fmt.Sprintf("%s_%s_%d", label, loc, n)
		title = "Netflix OCA " + loc
	}

	return reconcile.Candidate{
		Host:  ip.String(),
		Name:  name,
		Title: title,
		Probe: probe,
		Meta: &store.TargetMeta{
			ASN:          string(srv.ASN),
			CacheID:      cacheID,
			City:         city,
			Domain:       srv.Domain,
			IATACode:     srv.IATACode,
			Latitude:     srv.Latitude,
			Longitude:    srv.Longitude,
			LocationCode: loc,
			RawCity:      srv.City,
			Type:         OCAMetaType,
		},
	}
}

// LocationCode extracts the airport-style code from an appliance domain,
// e.g. "ipv4-c115-ord003-ix.1.oca.nflxvideo.net" gives "ORD".
func LocationCode(domain string) string {
	for _, part := range strings.Split(domain, "-") {
		if len(part) >= 6 && isAlpha(part[:3]) && isDigits(part[3:]) {
			return strings.ToUpper(part[:3])
		}
	}
	return "Unknown"
}

// CacheID extracts the cache identifier, e.g. "c115".
func CacheID(domain string) string {
	for _, part := range strings.Split(domain, "-") {
		if len(part) > 1 && part[0] == 'c' && isDigits(part[1:]) {
			return part
		}
	}
	return "unknown"
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isLetter(s[i]) {
			return false
		}
	}
	return s != ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// OCAFileSource reads locator results from a file on each call.
type OCAFileSource struct {
	Path string
}

// Candidates loads and parses the locator file.
func (s OCAFileSource) Candidates(ctx context.Context, maxTargets int) ([]reconcile.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading OCA results: %w", err)
	}
	return ParseOCA(data, maxTargets)
}
