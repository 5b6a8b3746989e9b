package gena

import (
	"fmt"
	"net"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/netif"
)

// chooseCallbackAddr picks the local address our CALLBACK header should
// advertise, given the publisher's host: the ULA/GUA address when the
// publisher is non-link-local IPv6, else our link-local address, else
// plain IPv4. See spec.md §4.8 rule 1.
func chooseCallbackAddr(publisherHost string) (net.IP, error) {
	list, err := netif.GetFirst()
	if err != nil {
		return nil, err
	}

	pubIP := net.ParseIP(publisherHost)
	pubIsV6 := pubIP != nil && pubIP.To4() == nil
	pubLinkLocal := pubIP != nil && pubIP.IsLinkLocalUnicast()

	var v4, v6Global, v6Link net.IP
	for {
		e := list.Current()
		if !e.IsLoopback() {
			if sa, err := e.SockAddr(); err == nil {
				ip := sa.IP()
				switch {
				case ip.To4() != nil:
					if v4 == nil {
						v4 = ip
					}
				case ip.IsLinkLocalUnicast():
					if v6Link == nil {
						v6Link = ip
					}
				default:
					if v6Global == nil {
						v6Global = ip
					}
				}
			}
		}
		if !list.GetNext() {
			break
		}
	}

	switch {
	case pubIsV6 && !pubLinkLocal && v6Global != nil:
		return v6Global, nil
	case pubIsV6 && pubLinkLocal && v6Link != nil:
		return v6Link, nil
	case v4 != nil:
		return v4, nil
	case v6Global != nil:
		return v6Global, nil
	case v6Link != nil:
		return v6Link, nil
	}
	return nil, fmt.Errorf("gena: no usable local address for callback")
}
