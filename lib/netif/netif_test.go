package netif_test

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/netif"
)

func TestGetFirstGetNext(t *testing.T) {
	lst, err := netif.GetFirst()
	require.NoError(t, err)

	count := 1
	for lst.GetNext() {
		count++
	}
	// Every host has at least a loopback address.
	assert.GreaterOrEqual(t, count, 1)
}

func TestFindFirstLoopback(t *testing.T) {
	lst, err := netif.GetFirst()
	require.NoError(t, err)

	ok := lst.FindFirst("loopback")
	require.True(t, ok, "every host must have a loopback entry")
	assert.True(t, lst.Current().IsLoopback())
}

func TestFindFirstByIndex(t *testing.T) {
	lst, err := netif.GetFirst()
	require.NoError(t, err)

	require.True(t, lst.FindFirst("loopback"))
	idx := lst.Current().Index()

	lst2, err := netif.GetFirst()
	require.NoError(t, err)
	ok := lst2.FindFirst(strconv.Itoa(idx))
	require.True(t, ok)
	assert.Equal(t, idx, lst2.Current().Index())
}

func TestNetmaskBitmaskBijectionIPv4(t *testing.T) {
	for b := 0; b <= 32; b++ {
		mask := netif.BitmaskToNetmask(4, b)
		fam, bits, err := netif.NetmaskToBitmask(mask.String())
		require.NoError(t, err)
		assert.Equal(t, 4, fam)
		assert.Equal(t, b, bits)
	}
}

func TestNetmaskBitmaskBijectionIPv6(t *testing.T) {
	for b := 0; b <= 128; b++ {
		mask := netif.BitmaskToNetmask(6, b)
		fam, bits, err := netif.NetmaskToBitmask(mask.String())
		require.NoError(t, err)
		assert.Equal(t, 6, fam)
		assert.Equal(t, b, bits)
	}
}

func TestNonContiguousNetmaskRejected(t *testing.T) {
	_, _, err := netif.NetmaskToBitmask("ffff:ffff:ffff:ffff:f0f0::")
	assert.ErrorIs(t, err, netif.ErrInvalid)

	_, _, err = netif.NetmaskToBitmask("255.0.255.0")
	assert.ErrorIs(t, err, netif.ErrInvalid)
}

func TestToIPv4MappedIPv6(t *testing.T) {
	v4 := net.ParseIP("192.168.1.1")
	mapped := netif.ToIPv4MappedIPv6(v4)
	assert.Equal(t, net.IPv6len, len(mapped))
	assert.True(t, mapped.To4() != nil, "round-trips back to a v4 view")
}
