// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpoke/netpoke/internal/helper"
	"github.com/netpoke/netpoke/internal/tracker"
	"github.com/netpoke/netpoke/pkg/config"
)

func newProbeOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(NewTable(), tracker.New(5, 30*time.Second),
		config.MagicKeyConfig{MaxMeasuringTimeSeconds: 3600},
		helper.RetryConfig{Count: 1, Delay: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestProbeHop_IcmpCorrelation(t *testing.T) {
	o := newProbeOrchestrator(t)
	s := New("sess-1", "conn-1")
	dest := netip.MustParseAddrPort("127.0.0.1:40001")

	// payload 100 bytes -> embedded UDP length 108 (8-byte header).
	go func() {
		time.Sleep(50 * time.Millisecond)
		router := "192.168.0.1"
		o.Tracker.MatchIcmpError([]byte("synthetic icmp"),
			tracker.EmbeddedUdpInfo{DestAddr: dest, UdpLength: 108}, &router)
	}()

	hop, reachedDest := o.probeHop(context.Background(), s, dest, 1, false, 100, 2000)

	assert.False(t, reachedDest)
	assert.Equal(t, uint8(1), hop.Hop)
	require.NotNil(t, hop.IPAddress)
	assert.Equal(t, "192.168.0.1", *hop.IPAddress)
	assert.Less(t, hop.RttMs, 100.0)
	assert.Equal(t, dest.String(), hop.OriginalDestAddr)
	assert.Equal(t, 0, o.Tracker.TrackedCount(), "match must consume the tracked packet")
}

func TestProbeHop_EchoMeansDestinationReached(t *testing.T) {
	o := newProbeOrchestrator(t)
	s := New("sess-1", "conn-1")
	dest := netip.MustParseAddrPort("127.0.0.1:40001")

	// The first probe of a fresh session uses test_seq 0; echo it back
	// the way the testprobe channel handler would.
	go func() {
		time.Sleep(50 * time.Millisecond)
		o.handleTestProbeMessage(context.Background(), s,
			[]byte(`{"test_seq":0,"timestamp_ms":1,"direction":"ClientToServer","conn_id":"conn-1"}`))
	}()

	hop, reachedDest := o.probeHop(context.Background(), s, dest, 3, false, 64, 2000)

	assert.True(t, reachedDest)
	assert.Equal(t, "destination reached", hop.Message)
	require.NotNil(t, hop.IPAddress)
	assert.Equal(t, "127.0.0.1", *hop.IPAddress)
}

func TestProbeHop_TimeoutReportsNoResponse(t *testing.T) {
	o := newProbeOrchestrator(t)
	s := New("sess-1", "conn-1")
	dest := netip.MustParseAddrPort("127.0.0.1:40001")

	hop, reachedDest := o.probeHop(context.Background(), s, dest, 1, false, 64, 50)

	assert.False(t, reachedDest)
	assert.Equal(t, "no response", hop.Message)
	assert.Nil(t, hop.IPAddress)
}

func TestParseNextHopMTU(t *testing.T) {
	pkt := make([]byte, 28)
	pkt[20] = 3 // destination unreachable
	pkt[21] = 4 // fragmentation needed
	pkt[26] = 0x05
	pkt[27] = 0xdc // 1500

	mtu, ok := parseNextHopMTU(pkt)
	require.True(t, ok)
	assert.Equal(t, uint16(1500), mtu)

	pkt[21] = 0
	_, ok = parseNextHopMTU(pkt)
	assert.False(t, ok)

	_, ok = parseNextHopMTU(nil)
	assert.False(t, ok)
}
