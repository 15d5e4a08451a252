package registry

import (
	"fmt"
	"net/netip"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
)

// AddressPool allocates in-tunnel client addresses out of a server's
// assignable prefix, excluding the server's own address and any
// currently-leased addresses. It is a per-server, netip.Prefix-based
// exclusion-set allocator: a server's leased set changes with every
// connect/disconnect rather than being tracked once at startup.
type AddressPool struct {
	prefix   netip.Prefix
	serverIP netip.Addr
	lastAddr netip.Addr
}

// NewAddressPool parses a server's in-tunnel CIDR and records its own
// address and the prefix's top ("broadcast-equivalent") address, both
// withheld from allocation.
func NewAddressPool(cidr string) (*AddressPool, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid in-tunnel prefix %q: %w", cidr, err)
	}
	masked := prefix.Masked()
	last := topAddr(masked)
	return &AddressPool{prefix: masked, serverIP: masked.Addr().Next(), lastAddr: last}, nil
}

// topAddr computes the highest address in prefix by setting every host
// bit to 1.
func topAddr(prefix netip.Prefix) netip.Addr {
	bytes := prefix.Addr().AsSlice()
	ones := prefix.Bits()
	for i := range bytes {
		bitOffset := i * 8
		if bitOffset+8 <= ones {
			continue
		}
		if bitOffset >= ones {
			bytes[i] = 0xFF
			continue
		}
		keepBits := ones - bitOffset
		mask := byte(0xFF) >> keepBits
		bytes[i] |= mask
	}
	addr, _ := netip.AddrFromSlice(bytes)
	return addr
}

// Allocate returns the first address in the prefix not equal to the
// server's own address, the network address, the top address, and not
// present in leased. Callers pass the set of addresses currently leased
// to open sessions on this server.
func (p *AddressPool) Allocate(leased map[netip.Addr]bool) (netip.Addr, error) {
	addr := p.prefix.Addr().Next() // skip the network address itself
	for p.prefix.Contains(addr) {
		if addr != p.serverIP && addr != p.lastAddr && !leased[addr] {
			return addr, nil
		}
		addr = addr.Next()
	}
	return netip.Addr{}, apperr.New(apperr.AddressExhausted, "no addresses available in server's in-tunnel prefix")
}
