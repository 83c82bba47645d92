// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package icmpread listens for ICMP error messages on a raw socket and
// hands parsed (destination, UDP length) correlation keys to a
// tracker.Tracker. It requires CAP_NET_RAW or root; when that
// privilege is absent it degrades to a no-op listener rather than
// failing startup.
package icmpread

import (
	"context"
	"errors"
	"fmt"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/internal/tracker"
	"golang.org/x/net/icmp"
	"golang.org/x/sys/unix"
)

const maxICMPPacket = 65536

// icmpErrorTypes are the ICMP types that indicate delivery failure and
// carry the original datagram's headers in their body.
var icmpErrorTypes = map[int]bool{3: true, 11: true, 12: true}

// Listener reads raw ICMP packets and forwards correlation attempts to
// a tracker.
type Listener struct {
	conn    *icmp.PacketConn
	tracker *tracker.Tracker
	canICMP bool
}

// New creates a Listener bound to all IPv4 addresses. If the process
// lacks CAP_NET_RAW, it returns a Listener that logs a warning on Run
// and otherwise does nothing, rather than an error.
func New(t *tracker.Tracker) (*Listener, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err == nil {
		return &Listener{conn: conn, tracker: t, canICMP: true}, nil
	}
	if errors.Is(err, unix.EPERM) {
		return &Listener{tracker: t, canICMP: false}, nil
	}
	return nil, fmt.Errorf("failed to create ICMP listener: %w", err)
}

// Run reads ICMP packets until ctx is canceled.
func (l *Listener) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	if !l.canICMP {
		log.WarnContext(ctx, "ICMP listener unavailable, requires CAP_NET_RAW or root; packet tracking over ICMP is disabled")
		return
	}
	defer l.conn.Close()

	buf := make([]byte, maxICMPPacket)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.ErrorContext(ctx, "ICMP recv error", "error", err)
			continue
		}

		embedded, routerIP, ok := parseICMPError(buf[:n])
		if !ok {
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		l.tracker.MatchIcmpError(packet, embedded, routerIP)
	}
}

// parseICMPError extracts the embedded UDP datagram's correlation key
// from a raw ICMP error packet. The packet is expected to include the
// outer IPv4 header (20 bytes) the kernel prepends on a raw socket,
// followed by the 8-byte ICMP header and the embedded IPv4+UDP
// headers of the datagram that provoked the error.
func parseICMPError(packet []byte) (tracker.EmbeddedUdpInfo, *string, bool) {
	const minLen = 56 // outer IP(20) + ICMP(8) + embedded IP(20) + embedded UDP(8)
	if len(packet) < minLen {
		return tracker.EmbeddedUdpInfo{}, nil, false
	}

	icmpType := int(packet[20])
	if !icmpErrorTypes[icmpType] {
		return tracker.EmbeddedUdpInfo{}, nil, false
	}

	const embeddedIPStart = 28
	embeddedVersion := (packet[embeddedIPStart] >> 4) & 0x0F
	if embeddedVersion != 4 {
		return tracker.EmbeddedUdpInfo{}, nil, false
	}

	embeddedIHL := int(packet[embeddedIPStart]&0x0F) * 4
	embeddedProtocol := packet[embeddedIPStart+9]
	if embeddedProtocol != unix.IPPROTO_UDP {
		return tracker.EmbeddedUdpInfo{}, nil, false
	}

	destIP := netipFromBytes(packet[embeddedIPStart+16 : embeddedIPStart+20])

	embeddedUDPStart := embeddedIPStart + embeddedIHL
	if len(packet) < embeddedUDPStart+8 {
		return tracker.EmbeddedUdpInfo{}, nil, false
	}

	srcPort := be16(packet[embeddedUDPStart : embeddedUDPStart+2])
	destPort := be16(packet[embeddedUDPStart+2 : embeddedUDPStart+4])
	udpLength := be16(packet[embeddedUDPStart+4 : embeddedUDPStart+6])

	destAddr := netipAddrPort(destIP, destPort)

	var routerIP *string
	if s := netipFromBytes(packet[12:16]).String(); s != "" {
		routerIP = &s
	}

	return tracker.EmbeddedUdpInfo{
		SrcPort:   srcPort,
		DestAddr:  destAddr,
		UdpLength: udpLength,
	}, routerIP, true
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
