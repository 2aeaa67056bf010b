// ABOUTME: Tests for key normalization and name validation
// ABOUTME: Covers stability, www/scheme stripping and digit prefixing

package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example_com"},
		{"WWW.Example.com", "example_com"},
		{"https://www.example.com/path?q=1", "example_com"},
		{"http://sub-domain.example.org:8080", "sub_domain_example_org"},
		{"1.1.1.1", "site_1_1_1_1"},
		{"123movies.to", "site_123movies_to"},
		{"bad!chars.net", "badchars_net"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.in))
		})
	}
}

func TestKey_Stable(t *testing.T) {
	for _, in := range []string{"WWW.Example.com", "9gag.com", "a-b.c-d.example.co.uk"} {
		once := Key(in)
		assert.Equal(t, once, Key(once), in)
	}
	assert.Equal(t, Key("example.com"), Key("WWW.Example.com"))
}

func TestKey_Truncates(t *testing.T) {
	long := strings.Repeat("a", 80) + ".com"
	assert.Len(t, Key(long), MaxKeyLength)

	digits := strings.Repeat("7", 60) + ".net"
	k := Key(digits)
	assert.Len(t, k, MaxKeyLength)
	assert.True(t, strings.HasPrefix(k, DigitPrefix))
	assert.Equal(t, k, Key(k))
}

func TestHost(t *testing.T) {
	assert.Equal(t, "example.com", Host("https://user@Example.com:443/x"))
	assert.Equal(t, "2001:db8::1", Host("[2001:db8::1]:53"))
	assert.Equal(t, "example.com", Host("example.com."))
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("Google_DNS"))
	require.NoError(t, ValidateName("a1"))

	for _, bad := range []string{"", "1abc", "has space", "dash-name", "probes", "Targets", strings.Repeat("a", 101)} {
		assert.Error(t, ValidateName(bad), bad)
	}
}

func TestValidateHost(t *testing.T) {
	for _, ok := range []string{"8.8.8.8", "2001:4860:4860::8888", "dns.google", "example.com"} {
		assert.NoError(t, ValidateHost(ok), ok)
	}
	for _, bad := range []string{"", "127.0.0.1", "-bad.com", "bad..com", "under_score.com"} {
		assert.Error(t, ValidateHost(bad), bad)
	}
}

func TestIsIPv6(t *testing.T) {
	assert.True(t, IsIPv6("2001:db8::1"))
	assert.False(t, IsIPv6("192.0.2.1"))
	assert.False(t, IsIPv6("example.com"))
}

func TestSafeLabel(t *testing.T) {
	assert.Equal(t, "St_Louis", SafeLabel("St. Louis"))
	assert.Equal(t, "Washington_DC", SafeLabel("Washington, D.C"))
	assert.Equal(t, "Sao_Paulo", SafeLabel("Sao-Paulo"))
}
