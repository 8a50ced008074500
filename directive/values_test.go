package directive

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"1048576", 1048576, false},
		{"512k", 512 << 10, false},
		{"1m", 1 << 20, false},
		{"1M", 1 << 20, false},
		{"2g", 2 << 30, false},
		{"", 0, true},
		{"m", 0, true},
		{"-1", 0, true},
		{"+1", 0, true},
		{"1x", 0, true},
		{"1.5m", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("65")
	require.NoError(t, err)
	assert.Equal(t, 65*time.Second, d)

	d, err = ParseDuration("500ms")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)

	d, err = ParseDuration("1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	for _, bad := range []string{"", "-5", "soon", "-1s"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePortAndStatus(t *testing.T) {
	p, err := ParsePort("8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, p)

	for _, bad := range []string{"0", "65536", "-1", "80a", "", "+80", "127.0.0.1:80"} {
		_, err := ParsePort(bad)
		assert.Error(t, err, bad)
	}

	code, err := ParseStatus("200")
	require.NoError(t, err)
	assert.Equal(t, 200, code)
	for _, bad := range []string{"99", "600", "20", "2000", "abc"} {
		_, err := ParseStatus(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseFlagAndPositive(t *testing.T) {
	on, err := ParseFlag("on")
	require.NoError(t, err)
	assert.True(t, on)
	off, err := ParseFlag("off")
	require.NoError(t, err)
	assert.False(t, off)
	_, err = ParseFlag("yes")
	assert.Error(t, err)

	n, err := ParsePositive("1024")
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
	for _, bad := range []string{"0", "-3", "x", "+2"} {
		_, err := ParsePositive(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1", "127.0.0.1/32"},
		{"::1", "::1/128"},
		{"10.1.2.3/8", "10.0.0.0/8"},
		{"::ffff:192.168.1.1", "192.168.1.1/32"},
		{"::ffff:192.168.0.0/112", "192.168.0.0/16"},
		{"2001:db8::/32", "2001:db8::/32"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePrefix(tt.in)
			require.NoError(t, err)
			assert.Equal(t, netip.MustParsePrefix(tt.want), p)
		})
	}

	for _, bad := range []string{"", "localhost", "10.0.0.0/33", "1.2.3"} {
		_, err := ParsePrefix(bad)
		assert.Error(t, err, bad)
	}
}

func TestReturnHelpers(t *testing.T) {
	assert.True(t, IsRedirect(301))
	assert.True(t, IsRedirect(308))
	assert.False(t, IsRedirect(200))
	assert.True(t, IsURL("https://example.com"))
	assert.False(t, IsURL("/relative"))
}
