// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package capture

import "net/netip"

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	protoICMP     = 1
	protoUDP      = 17
	protoICMPv6   = 58
)

// sessionIDFor determines which survey session a captured frame
// belongs to: first by direct (src, dst) address lookup, then, for
// ICMP error packets, by the destination port embedded in the
// original datagram that provoked the error.
func sessionIDFor(data []byte, registry *SessionRegistry) (string, bool) {
	src, dst, proto, ok := parsePacketAddresses(data)
	if !ok {
		return "", false
	}

	if id, ok := registry.LookupByEither(src, dst); ok {
		return id, true
	}

	if proto == protoICMP || proto == protoICMPv6 {
		if embeddedDst, ok := extractEmbeddedDestination(data); ok {
			if id, ok := registry.LookupByServerPort(embeddedDst.Port()); ok {
				return id, true
			}
			if id, ok := registry.Lookup(embeddedDst); ok {
				return id, true
			}
		}
	}

	return "", false
}

// parsePacketAddresses extracts (src, dst, ipProtocol) from a raw
// captured frame, handling both Ethernet framing and raw IP capture
// (a frame that starts with the IP header). Linux cooked (SLL) framing,
// as on the "any" interface, is not parsed.
func parsePacketAddresses(data []byte) (src, dst netip.AddrPort, proto uint8, ok bool) {
	if len(data) < 42 {
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}

	ipStart := 0
	if len(data) >= 14 {
		etherType := uint16(data[12])<<8 | uint16(data[13])
		switch etherType {
		case etherTypeIPv4, etherTypeIPv6:
			ipStart = 14
		default:
			version := data[0] >> 4
			if version == 4 || version == 6 {
				ipStart = 0
			} else {
				return netip.AddrPort{}, netip.AddrPort{}, 0, false
			}
		}
	}

	if ipStart >= len(data) {
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}

	version := (data[ipStart] >> 4) & 0x0F
	switch version {
	case 4:
		return parseIPv4UDPAddresses(data, ipStart)
	case 6:
		return parseIPv6UDPAddresses(data, ipStart)
	default:
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}
}

func parseIPv4UDPAddresses(data []byte, ipStart int) (src, dst netip.AddrPort, proto uint8, ok bool) {
	if len(data) < ipStart+20 {
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}

	ihl := int(data[ipStart]&0x0F) * 4
	protocol := data[ipStart+9]
	if protocol != protoUDP && protocol != protoICMP {
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}

	srcIP := netip.AddrFrom4([4]byte{data[ipStart+12], data[ipStart+13], data[ipStart+14], data[ipStart+15]})
	dstIP := netip.AddrFrom4([4]byte{data[ipStart+16], data[ipStart+17], data[ipStart+18], data[ipStart+19]})

	if protocol == protoICMP {
		return netip.AddrPortFrom(srcIP, 0), netip.AddrPortFrom(dstIP, 0), protocol, true
	}

	udpStart := ipStart + ihl
	if len(data) < udpStart+8 {
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}

	srcPort := uint16(data[udpStart])<<8 | uint16(data[udpStart+1])
	dstPort := uint16(data[udpStart+2])<<8 | uint16(data[udpStart+3])

	return netip.AddrPortFrom(srcIP, srcPort), netip.AddrPortFrom(dstIP, dstPort), protocol, true
}

func parseIPv6UDPAddresses(data []byte, ipStart int) (src, dst netip.AddrPort, proto uint8, ok bool) {
	if len(data) < ipStart+40 {
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}

	nextHeader := data[ipStart+6]
	if nextHeader != protoUDP && nextHeader != protoICMPv6 {
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}

	var srcBytes, dstBytes [16]byte
	copy(srcBytes[:], data[ipStart+8:ipStart+24])
	copy(dstBytes[:], data[ipStart+24:ipStart+40])
	srcIP := netip.AddrFrom16(srcBytes)
	dstIP := netip.AddrFrom16(dstBytes)

	if nextHeader == protoICMPv6 {
		return netip.AddrPortFrom(srcIP, 0), netip.AddrPortFrom(dstIP, 0), nextHeader, true
	}

	udpStart := ipStart + 40
	if len(data) < udpStart+8 {
		return netip.AddrPort{}, netip.AddrPort{}, 0, false
	}

	srcPort := uint16(data[udpStart])<<8 | uint16(data[udpStart+1])
	dstPort := uint16(data[udpStart+2])<<8 | uint16(data[udpStart+3])

	return netip.AddrPortFrom(srcIP, srcPort), netip.AddrPortFrom(dstIP, dstPort), nextHeader, true
}

// extractEmbeddedDestination parses the destination address carried
// in the original datagram embedded inside an ICMP error packet.
func extractEmbeddedDestination(data []byte) (netip.AddrPort, bool) {
	_, dst, proto, ok := parsePacketAddresses(data)
	if !ok || (proto != protoICMP && proto != protoICMPv6) {
		return netip.AddrPort{}, false
	}

	const minLen = 42
	if len(data) < minLen {
		return netip.AddrPort{}, false
	}

	ipStart := 0
	if len(data) >= 14 {
		etherType := uint16(data[12])<<8 | uint16(data[13])
		if etherType == etherTypeIPv4 || etherType == etherTypeIPv6 {
			ipStart = 14
		}
	}

	ihl := int(data[ipStart]&0x0F) * 4
	icmpStart := ipStart + ihl
	const embeddedIPOffsetInICMP = 8
	embeddedIPStart := icmpStart + embeddedIPOffsetInICMP
	if len(data) < embeddedIPStart+20 {
		return netip.AddrPort{}, false
	}

	embeddedIHL := int(data[embeddedIPStart]&0x0F) * 4
	embeddedUDPStart := embeddedIPStart + embeddedIHL
	if len(data) < embeddedUDPStart+4 {
		return netip.AddrPort{}, false
	}

	embeddedDestIP := netip.AddrFrom4([4]byte{
		data[embeddedIPStart+16], data[embeddedIPStart+17],
		data[embeddedIPStart+18], data[embeddedIPStart+19],
	})
	embeddedDestPort := uint16(data[embeddedUDPStart+2])<<8 | uint16(data[embeddedUDPStart+3])

	return netip.AddrPortFrom(embeddedDestIP, embeddedDestPort), dst.IsValid()
}
