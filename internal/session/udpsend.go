// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// udpSender is the instrumented UDP send layer §4.B refers to: a
// single shared IPv4 socket whose TTL and "don't fragment" bit can be
// set per datagram, used by traceroute and MTU-discovery rounds to
// provoke ICMP responses from routers along the path to a session's
// peer.
type udpSender struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// newUDPSender opens an ephemeral IPv4 UDP socket for sending tracked
// probes.
func newUDPSender() (*udpSender, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("open udp sender socket: %w", err)
	}
	return &udpSender{conn: conn, pc: ipv4.NewPacketConn(conn)}, nil
}

// srcPort returns the ephemeral port the kernel assigned this socket.
func (u *udpSender) srcPort() uint16 {
	return uint16(u.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Close releases the underlying socket.
func (u *udpSender) Close() error {
	return u.conn.Close()
}

// setDF toggles IP_MTU_DISCOVER so the kernel sets (or clears) the
// Don't Fragment bit on subsequent writes. x/net/ipv4 has no portable
// DF knob, so this reaches for the raw socket option directly through
// x/sys/unix, the package internal/icmpread uses for EPERM detection.
func (u *udpSender) setDF(enable bool) error {
	rawConn, err := u.conn.SyscallConn()
	if err != nil {
		return err
	}
	mode := unix.IP_PMTUDISC_DONT
	if enable {
		mode = unix.IP_PMTUDISC_DO
	}
	var sockErr error
	if err := rawConn.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, mode)
	}); err != nil {
		return err
	}
	return sockErr
}

// frame is a sent datagram's wire bytes, synthesized for record
// keeping since the kernel builds the real IP/UDP headers itself.
type frame struct {
	udpPacket []byte
	udpLength uint16
}

// buildFrame synthesizes the UDP datagram bytes (8-byte header plus
// payload) a send of payload to dest will put on the wire, for the
// tracker's forensic record. Synthesizing before sending lets the
// caller insert the tracked packet before the frame leaves the host,
// so even an immediate ICMP return cannot race the insert.
func (u *udpSender) buildFrame(dest netip.AddrPort, payload []byte) frame {
	udpLength := uint16(8 + len(payload))
	header := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint16(header[0:2], u.srcPort())
	binary.BigEndian.PutUint16(header[2:4], dest.Port())
	binary.BigEndian.PutUint16(header[4:6], udpLength)
	binary.BigEndian.PutUint16(header[6:8], 0) // checksum, not recomputed for the record copy
	return frame{udpPacket: append(header, payload...), udpLength: udpLength}
}

// send transmits payload to dest with the given TTL and DF setting.
func (u *udpSender) send(dest netip.AddrPort, payload []byte, ttl uint8, dfBit bool) error {
	if err := u.pc.SetTTL(int(ttl)); err != nil {
		return fmt.Errorf("set ttl: %w", err)
	}
	if err := u.setDF(dfBit); err != nil {
		return fmt.Errorf("set df bit: %w", err)
	}

	addr := net.UDPAddrFromAddrPort(dest)
	if _, err := u.conn.WriteToUDP(payload, addr); err != nil {
		return fmt.Errorf("send probe: %w", err)
	}
	return nil
}

// udpLengthFromFrame reads the length field back out of a
// synthesized UDP header, as recorded in TrackedPacketEvent.UdpPacket.
func udpLengthFromFrame(udpPacket []byte) uint16 {
	if len(udpPacket) < 6 {
		return 0
	}
	return binary.BigEndian.Uint16(udpPacket[4:6])
}
