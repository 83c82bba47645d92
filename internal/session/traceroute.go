// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/netip"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/netpoke/netpoke/internal/helper"
	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/internal/telemetry"
	"github.com/netpoke/netpoke/pkg/protocol"
)

const (
	maxTracerouteHops    = 30
	tracerouteTrackForMs = 2000
	tracerouteBaseSize   = 64
	icmpTypeUnreachable  = 3
	icmpCodeFragNeeded   = 4
)

// RunTraceroute drives one traceroute round: TTLs 1..maxTracerouteHops,
// emitting one TraceHop per hop, ending early once the echo wins the
// race against an ICMP error (destination reached).
func (o *Orchestrator) RunTraceroute(ctx context.Context, s *Session) {
	ctx, span := telemetry.Tracer().Start(ctx, "traceroute.round", trace.WithAttributes(connSpanAttrs(s)...))
	defer span.End()

	s.SetState(StateTraceroute)
	defer s.SetState(StateReady)

	dest, ok := s.PeerAddrPort()
	if !ok {
		logger.FromContext(ctx).Warn("traceroute requested with no known peer address", "session", s.ID)
		return
	}

	for ttl := uint8(1); ttl <= maxTracerouteHops; ttl++ {
		if s.Measurement.stopRequested() {
			return
		}
		payloadSize := tracerouteBaseSize + int(ttl)
		hop, reached := o.probeHop(ctx, s, dest, ttl, false, payloadSize, tracerouteTrackForMs)
		o.sendControl(ctx, s, hop)
		if reached {
			return
		}
	}
}

// RunMtuTraceroute drives one MTU-discovery round at a fixed packet
// size with the Don't Fragment bit set, reporting the next-hop MTU
// when a router returns "fragmentation needed".
func (o *Orchestrator) RunMtuTraceroute(ctx context.Context, s *Session, packetSize uint32) {
	ctx, span := telemetry.Tracer().Start(ctx, "mtu_traceroute.round", trace.WithAttributes(connSpanAttrs(s)...))
	defer span.End()

	s.SetState(StateMtu)
	defer s.SetState(StateReady)

	dest, ok := s.PeerAddrPort()
	if !ok {
		logger.FromContext(ctx).Warn("mtu traceroute requested with no known peer address", "session", s.ID)
		return
	}

	for ttl := uint8(1); ttl <= maxTracerouteHops; ttl++ {
		if s.Measurement.stopRequested() {
			return
		}
		hop, reached := o.probeHop(ctx, s, dest, ttl, true, int(packetSize), tracerouteTrackForMs)
		mtuHop := protocol.MtuHopMessage{
			Type:            protocol.ControlTypeMtuHop,
			Hop:             hop.Hop,
			IPAddress:       hop.IPAddress,
			RttMs:           hop.RttMs,
			Message:         hop.Message,
			ConnID:          s.ConnID,
			SurveySessionID: s.SurveyID(),
			PacketSize:      packetSize,
			Mtu:             hop.mtu,
		}
		o.sendControl(ctx, s, mtuHop)
		if reached {
			return
		}
	}
}

// hopResult is an internal widening of TraceHopMessage that also
// carries the MTU RunMtuTraceroute needs but TraceHopMessage has no
// field for.
type hopResult struct {
	protocol.TraceHopMessage
	mtu *uint16
}

// probeHop sends one tracked UDP probe and the matching test-probe
// echo request, then waits up to trackForMs for whichever arrives
// first: the echo (destination reached) or a correlated ICMP error
// (one more hop to report). Echo wins when both are in hand.
func (o *Orchestrator) probeHop(ctx context.Context, s *Session, dest netip.AddrPort, ttl uint8, dfBit bool, payloadSize int, trackForMs uint32) (hopResult, bool) {
	ctx, span := telemetry.Tracer().Start(ctx, "traceroute.hop",
		trace.WithAttributes(append(connSpanAttrs(s), attribute.Int("hop", int(ttl)))...),
	)
	defer span.End()

	log := logger.FromContext(ctx)

	testSeq := s.Measurement.NextTestProbeSeq()
	payload := make([]byte, payloadSize)
	binary.BigEndian.PutUint64(payload, testSeq)

	echoCh := make(chan time.Time, 1)
	s.testProbeWaiters.Store(testSeq, echoCh)
	defer s.testProbeWaiters.Delete(testSeq)

	icmpCh := make(chan protocol.TrackedPacketEvent, 1)
	sentAt := time.Now()

	// Insert into the tracker before the frame leaves the host, so an
	// immediate ICMP return from the first-hop router cannot race the
	// insert.
	fr := o.sender.buildFrame(dest, payload)
	opts := protocol.SendOptions{TTL: &ttl, DfBit: &dfBit, TrackForMs: trackForMs}
	o.Tracker.TrackPacket(s.ConnID, payload, fr.udpPacket, o.sender.srcPort(), dest, fr.udpLength, opts)

	key := icmpWaiterKey(dest.String(), fr.udpLength)
	o.icmpWaiters.Store(key, icmpCh)
	defer o.icmpWaiters.Delete(key)

	err := helper.Retry(func(context.Context) error {
		return o.sender.send(dest, payload, ttl, dfBit)
	}, o.ProbeRetry)(ctx)
	if err != nil {
		log.Error("traceroute probe send failed", "session", s.ID, "hop", ttl, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe send failed")
		return hopResult{TraceHopMessage: protocol.TraceHopMessage{
			Type: protocol.ControlTypeTraceHop, Hop: ttl, Message: "send failed",
			ConnID: s.ConnID, SurveySessionID: s.SurveyID(),
		}}, false
	}

	o.sendTestProbe(ctx, s, testSeq, opts)

	timeout := time.NewTimer(time.Duration(trackForMs) * time.Millisecond)
	defer timeout.Stop()

	reached := func(echoAt time.Time) (hopResult, bool) {
		rtt := float64(echoAt.Sub(sentAt).Microseconds()) / 1000.0
		addr := dest.Addr().String()
		span.SetAttributes(attribute.String("message", "destination reached"), attribute.Float64("rtt_ms", rtt))
		return hopResult{TraceHopMessage: protocol.TraceHopMessage{
			Type: protocol.ControlTypeTraceHop, Hop: ttl, IPAddress: &addr, RttMs: rtt,
			Message: "destination reached", ConnID: s.ConnID, SurveySessionID: s.SurveyID(),
			OriginalSrcPort: o.sender.srcPort(), OriginalDestAddr: dest.String(),
		}}, true
	}

	select {
	case echoAt := <-echoCh:
		return reached(echoAt)
	case ev := <-icmpCh:
		// Echo wins the tie: when the destination's reply and an ICMP
		// error are both already in hand, the hop is reported as the
		// destination.
		select {
		case echoAt := <-echoCh:
			return reached(echoAt)
		default:
		}
		rtt := float64(ev.IcmpReceivedAtMs - ev.SentAt)
		hop := hopResult{TraceHopMessage: protocol.TraceHopMessage{
			Type: protocol.ControlTypeTraceHop, Hop: ttl, IPAddress: ev.RouterIP, RttMs: rtt,
			Message: "time exceeded", ConnID: s.ConnID, SurveySessionID: s.SurveyID(),
			OriginalSrcPort: ev.OriginalSrcPort, OriginalDestAddr: ev.OriginalDestAddr,
		}}
		if mtu, ok := parseNextHopMTU(ev.IcmpPacket); ok {
			hop.mtu = &mtu
			hop.Message = "fragmentation needed"
		}
		span.SetAttributes(attribute.String("message", hop.Message), attribute.Float64("rtt_ms", rtt))
		return hop, false
	case <-timeout.C:
		span.SetAttributes(attribute.String("message", "no response"))
		return hopResult{TraceHopMessage: protocol.TraceHopMessage{
			Type: protocol.ControlTypeTraceHop, Hop: ttl, Message: "no response",
			ConnID: s.ConnID, SurveySessionID: s.SurveyID(),
		}}, false
	}
}

// connSpanAttrs builds the conn_id/survey_session_id attribute pair
// every traceroute/MTU span carries, letting a trace backend group
// spans by the session that produced them.
func connSpanAttrs(s *Session) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("conn_id", s.ConnID),
		attribute.String("survey_session_id", s.SurveyID()),
	}
}

// sendTestProbe sends the data-channel side of a tracked probe, which
// the client is expected to echo back verbatim with an updated
// timestamp.
func (o *Orchestrator) sendTestProbe(ctx context.Context, s *Session, testSeq uint64, opts protocol.SendOptions) {
	s.mu.RLock()
	testProbe := s.Channels.TestProbe
	s.mu.RUnlock()
	if testProbe == nil {
		return
	}

	p := protocol.TestProbePacket{
		TestSeq:     testSeq,
		TimestampMs: uint64(time.Now().UnixMilli()),
		Direction:   protocol.DirectionServerToClient,
		SendOptions: &opts,
		ConnID:      s.ConnID,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := testProbe.Send(data); err != nil {
		logger.FromContext(ctx).Error("failed to send test probe", "session", s.ID, "error", err)
	}
}

// parseNextHopMTU extracts RFC 1191's next-hop MTU field from an ICMP
// Fragmentation Needed message. The outer IPv4 header the kernel
// prepends on a raw socket read occupies the first 20 bytes, matching
// internal/icmpread's parsing convention; the ICMP header's
// type/code/checksum/unused/mtu layout follows at offset 20.
func parseNextHopMTU(icmpPacket []byte) (uint16, bool) {
	const icmpStart = 20
	if len(icmpPacket) < icmpStart+8 {
		return 0, false
	}
	if icmpPacket[icmpStart] != icmpTypeUnreachable || icmpPacket[icmpStart+1] != icmpCodeFragNeeded {
		return 0, false
	}
	return binary.BigEndian.Uint16(icmpPacket[icmpStart+6 : icmpStart+8]), true
}

func icmpWaiterKey(destAddr string, udpLength uint16) string {
	return destAddr + "|" + strconv.Itoa(int(udpLength))
}

// PeerAddrPort builds the session's last-observed peer address as a
// netip.AddrPort, if known.
func (s *Session) PeerAddrPort() (netip.AddrPort, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.PeerAddr == "" || s.PeerPort == 0 {
		return netip.AddrPort{}, false
	}
	addr, err := netip.ParseAddr(s.PeerAddr)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, s.PeerPort), true
}
