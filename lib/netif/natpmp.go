package netif

import (
	"fmt"
	"net"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// NATPMPResult is the best-effort outcome of a NAT-PMP external-address
// probe, a companion to SSDP-based IGD discovery (spec.md §12's
// multi-homed advertisement fan-out covers the SSDP side; this is the
// NAT-PMP-only supplement named in SPEC_FULL.md §11).
type NATPMPResult struct {
	ExternalAddress net.IP
	Gateway         net.IP
}

// ProbeNATPMP asks the default gateway for the external address via
// NAT-PMP. It is best-effort: most networks have no NAT-PMP-capable
// router, so callers should treat a non-nil error as "unavailable", not
// as a hard failure.
func ProbeNATPMP(timeout time.Duration) (*NATPMPResult, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, fmt.Errorf("netif: discovering gateway for NAT-PMP: %w", err)
	}

	client := natpmp.NewClientWithTimeout(gw, timeout)
	resp, err := client.GetExternalAddress()
	if err != nil {
		return nil, fmt.Errorf("netif: NAT-PMP probe of %s: %w", gw, err)
	}

	ip := net.IP(resp.ExternalIPAddress[:])
	return &NATPMPResult{ExternalAddress: ip, Gateway: gw}, nil
}
