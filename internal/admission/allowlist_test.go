package admission

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowList_Contains(t *testing.T) {
	list := NewAllowList([]netip.Prefix{
		netip.MustParsePrefix("127.0.0.1/32"),
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	})

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.0.0.2", false},
		{"10.255.0.1", true},
		{"::ffff:10.1.1.1", true},
		{"2001:db8::1", true},
		{"2001:db9::1", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, list.Contains(netip.MustParseAddr(tt.addr)))
		})
	}

	assert.False(t, list.Contains(netip.Addr{}))
	var nilList *AllowList
	assert.False(t, nilList.Contains(netip.MustParseAddr("127.0.0.1")))
	assert.True(t, AllowAll().Contains(netip.MustParseAddr("8.8.8.8")))
	assert.Equal(t, "all", AllowAll().String())
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{"no proxy", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"untrusted peer ignores xff", "192.0.2.1:1234", []string{"203.0.113.5"}, "192.0.2.1"},
		{"trusted peer single hop", "10.0.0.1:1234", []string{"203.0.113.5"}, "203.0.113.5"},
		{"skips trusted hops", "10.0.0.1:1234", []string{"203.0.113.5, 10.0.0.9"}, "203.0.113.5"},
		{"multiple headers", "10.0.0.1:1234", []string{"198.51.100.2", "10.1.1.1"}, "198.51.100.2"},
		{"invalid entry stops", "10.0.0.1:1234", []string{"203.0.113.5, garbage"}, "10.0.0.1"},
		{"all trusted", "10.0.0.1:1234", []string{"10.0.0.2"}, "10.0.0.2"},
		{"ipv6 peer", "[::1]:80", nil, "::1"},
		{"xff with port", "10.0.0.1:1", []string{"203.0.113.5:4711"}, "203.0.113.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", nil)
			r.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			got, err := ClientIP(r, trusted)
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddr(tt.want), got)
		})
	}

	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "not-an-ip"
	_, err := ClientIP(r, nil)
	assert.Error(t, err)
}
