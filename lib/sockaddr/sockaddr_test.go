package sockaddr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/sockaddr"
)

// TestCanonicalIdempotence covers the corpus named in spec.md §8.1.
func TestCanonicalIdempotence(t *testing.T) {
	corpus := []string{
		"[::1]:0",
		"127.0.0.1:0",
		"[2001:db8::14]:443",
		"192.168.200.203:80",
		"[2001:db8::55%1]:443",
	}
	for _, s := range corpus {
		t.Run(s, func(t *testing.T) {
			c1, err := sockaddr.Canonical(s, false)
			require.NoError(t, err)

			c2, err := sockaddr.Canonical(c1, false)
			require.NoError(t, err)

			assert.Equal(t, c1, c2, "canonical form must be a fixed point")
		})
	}
}

func TestParsePort(t *testing.T) {
	sa, err := sockaddr.Parse("192.168.1.1:1900", false)
	require.NoError(t, err)
	port, ok := sa.Port()
	assert.True(t, ok)
	assert.EqualValues(t, 1900, port)
}

func TestPortOutOfRange(t *testing.T) {
	_, err := sockaddr.Parse("192.168.1.1:70000", false)
	assert.ErrorIs(t, err, sockaddr.ErrInvalid)
}

func TestUnbracketedIPv6WithPortRejected(t *testing.T) {
	// A five-digit port cannot be read as an IPv6 group, unlike ":443",
	// which would make the whole string a valid bare IPv6 address.
	_, err := sockaddr.Parse("2001:db8::1:50001", false)
	assert.ErrorIs(t, err, sockaddr.ErrInvalid)
}

func TestEmptyPassiveYieldsAnyAddress(t *testing.T) {
	sa, err := sockaddr.Parse("", true)
	require.NoError(t, err)
	assert.True(t, sa.IsUnspecified())
	assert.Equal(t, sockaddr.FamilyV4, sa.Family())
}

func TestEmptyNonPassiveRejected(t *testing.T) {
	_, err := sockaddr.Parse("", false)
	assert.Error(t, err)
}

func TestIsLoopback(t *testing.T) {
	v6, err := sockaddr.Parse("[::1]:0", false)
	require.NoError(t, err)
	assert.True(t, v6.IsLoopback())

	v4, err := sockaddr.Parse("127.5.6.7:0", false)
	require.NoError(t, err)
	assert.True(t, v4.IsLoopback())

	notLoop, err := sockaddr.Parse("10.0.0.1:0", false)
	require.NoError(t, err)
	assert.False(t, notLoop.IsLoopback())
}

func TestZoneEqualityNumericVsName(t *testing.T) {
	byName, err := sockaddr.Parse("[fe80::1%lo]:80", false)
	require.NoError(t, err)
	byIndex, err := sockaddr.Parse("[fe80::1%1]:80", false)
	require.NoError(t, err)

	// Only assert the shape here; resolving "lo" to index 1 depends on the
	// host's interface table, which this suite does not test.
	zone, ok := byName.Zone()
	assert.True(t, ok)
	assert.Equal(t, "lo", zone)

	zone2, ok := byIndex.Zone()
	assert.True(t, ok)
	assert.Equal(t, "1", zone2)
}

func TestServiceNameUnresolvedUntilResolveService(t *testing.T) {
	sa, err := sockaddr.Parse("192.168.1.1:http", false)
	require.NoError(t, err)
	_, ok := sa.Port()
	assert.False(t, ok)
	assert.Equal(t, "http", sa.Service())

	err = sa.ResolveService(func(network, service string) (int, error) {
		assert.Equal(t, "http", service)
		return 80, nil
	})
	require.NoError(t, err)
	port, ok := sa.Port()
	assert.True(t, ok)
	assert.EqualValues(t, 80, port)
}
