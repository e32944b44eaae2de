package netutil

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePool(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cidr    string
		want    string
		wantErr bool
	}{
		{"10.0.3.0/24", "10.0.3.0/24", false},
		{"10.0.3.17/24", "10.0.3.0/24", false},
		{"10.0.3.0/31", "", true},
		{"fd00::/64", "", true},
		{"not-a-cidr", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.cidr, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePool(tt.cidr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestNextFreeHost(t *testing.T) {
	t.Parallel()
	pool := netip.MustParsePrefix("10.0.3.0/24")

	addr, err := NextFreeHost(pool, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.2", addr.String())

	used := map[netip.Addr]bool{
		netip.MustParseAddr("10.0.3.2"): true,
		netip.MustParseAddr("10.0.3.3"): true,
	}
	addr, err = NextFreeHost(pool, used)
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.4", addr.String())
}

func TestNextFreeHost_Exhausted(t *testing.T) {
	t.Parallel()
	// /30: network .0, gateway .1, host .2, broadcast .3
	pool := netip.MustParsePrefix("10.0.3.0/30")

	addr, err := NextFreeHost(pool, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.2", addr.String())

	_, err = NextFreeHost(pool, map[netip.Addr]bool{addr: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}

func TestIsHost(t *testing.T) {
	t.Parallel()
	pool := netip.MustParsePrefix("10.0.3.0/24")

	assert.True(t, IsHost(pool, netip.MustParseAddr("10.0.3.2")))
	assert.True(t, IsHost(pool, netip.MustParseAddr("10.0.3.254")))
	assert.False(t, IsHost(pool, netip.MustParseAddr("10.0.3.0")))
	assert.False(t, IsHost(pool, netip.MustParseAddr("10.0.3.1")))
	assert.False(t, IsHost(pool, netip.MustParseAddr("10.0.3.255")))
	assert.False(t, IsHost(pool, netip.MustParseAddr("10.0.4.2")))
}
