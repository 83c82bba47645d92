// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire format exchanged between netpoke
// clients and the server over WebRTC data channels: probe and bulk
// packets on the unreliable/reliable media channels, and the JSON
// control messages exchanged on the control channel.
package protocol

import "strings"

// IpFamily selects which ICE candidate network types are gathered for
// a session.
type IpFamily string

const (
	IpFamilyIPv4 IpFamily = "ipv4"
	IpFamilyIPv6 IpFamily = "ipv6"
	IpFamilyBoth IpFamily = "both"
)

// IpFamilyFromStrLoose parses a loosely-formatted family string,
// defaulting to Both for anything unrecognized.
func IpFamilyFromStrLoose(s string) IpFamily {
	switch strings.ToLower(s) {
	case "ipv4", "4", "v4":
		return IpFamilyIPv4
	case "ipv6", "6", "v6":
		return IpFamilyIPv6
	default:
		return IpFamilyBoth
	}
}

// Direction identifies which way a probe or bulk packet travels.
type Direction string

const (
	DirectionClientToServer Direction = "ClientToServer"
	DirectionServerToClient Direction = "ServerToClient"
)

// SendOptions controls the IP-level knobs the sender applies to a
// single outbound probe, testprobe, or bulk packet.
type SendOptions struct {
	TTL        *uint8  `json:"ttl,omitempty"`
	DfBit      *bool   `json:"df_bit,omitempty"`
	Tos        *uint8  `json:"tos,omitempty"`
	FlowLabel  *uint32 `json:"flow_label,omitempty"`
	TrackForMs uint32  `json:"track_for_ms"`
}

// ProbePacket rides the unordered/unreliable probe data channel at a
// fixed cadence; Seq distinguishes it from TestProbePacket on the wire.
type ProbePacket struct {
	Seq         uint64       `json:"seq"`
	TimestampMs uint64       `json:"timestamp_ms"`
	Direction   Direction    `json:"direction"`
	SendOptions *SendOptions `json:"send_options,omitempty"`
	ConnID      string       `json:"conn_id"`
}

// TestProbePacket rides the ordered/reliable testprobe channel for
// server-initiated MTU/traceroute-style probing that the client must
// echo back verbatim.
type TestProbePacket struct {
	TestSeq     uint64       `json:"test_seq"`
	TimestampMs uint64       `json:"timestamp_ms"`
	Direction   Direction    `json:"direction"`
	SendOptions *SendOptions `json:"send_options,omitempty"`
	ConnID      string       `json:"conn_id"`
}

// BulkPacket rides the ordered/reliable bulk channel carrying
// fixed-size filler payloads for throughput measurement.
type BulkPacket struct {
	Data        []byte       `json:"data"`
	SendOptions *SendOptions `json:"send_options,omitempty"`
}

// NewBulkPacket returns a zero-filled BulkPacket of the given size.
func NewBulkPacket(size int) BulkPacket {
	return BulkPacket{Data: make([]byte, size)}
}

// NewBulkPacketWithOptions returns a zero-filled BulkPacket carrying
// the given SendOptions.
func NewBulkPacketWithOptions(size int, opts SendOptions) BulkPacket {
	return BulkPacket{Data: make([]byte, size), SendOptions: &opts}
}

// ClientMetrics is the windowed live-view metric shape reported by
// clients and echoed on dashboard/diagnostics surfaces. Each array
// holds [1s, 10s, 60s] window values.
type ClientMetrics struct {
	C2SThroughput [3]float64 `json:"c2s_throughput"`
	S2CThroughput [3]float64 `json:"s2c_throughput"`
	C2SDelayAvg   [3]float64 `json:"c2s_delay_avg"`
	S2CDelayAvg   [3]float64 `json:"s2c_delay_avg"`
	C2SJitter     [3]float64 `json:"c2s_jitter"`
	S2CJitter     [3]float64 `json:"s2c_jitter"`
	C2SLossRate   [3]float64 `json:"c2s_loss_rate"`
	S2CLossRate   [3]float64 `json:"s2c_loss_rate"`
	C2SReorder    [3]float64 `json:"c2s_reorder_rate"`
	S2CReorder    [3]float64 `json:"s2c_reorder_rate"`
}

// DirectionStats is the richer, per-direction shape persisted to
// storage for a completed measurement window; [p50, p99, min, max]
// per metric, as opposed to ClientMetrics' multi-window live view.
// Both shapes coexist: DirectionStats is what pkg/store writes,
// ClientMetrics is what the control channel reports live.
type DirectionStats struct {
	DelayDeviationMs [4]float64 `json:"delay_deviation_ms"`
	RttMs            [4]float64 `json:"rtt_ms"`
	JitterMs         [4]float64 `json:"jitter_ms"`
	LossRate         float64    `json:"loss_rate"`
	ReorderRate      float64    `json:"reorder_rate"`
	ProbeCount       uint64     `json:"probe_count"`
	BaselineDelayMs  float64    `json:"baseline_delay_ms"`
}

// ClientInfo summarizes a single client for the dashboard message.
type ClientInfo struct {
	ID          string        `json:"id"`
	ParentID    *string       `json:"parent_id,omitempty"`
	IPVersion   *string       `json:"ip_version,omitempty"`
	ConnectedAt uint64        `json:"connected_at"`
	Metrics     ClientMetrics `json:"metrics"`
	PeerAddress *string       `json:"peer_address,omitempty"`
	PeerPort    *uint16       `json:"peer_port,omitempty"`
	CurrentSeq  uint64        `json:"current_seq"`
}

// DashboardMessage lists all currently tracked clients.
type DashboardMessage struct {
	Clients []ClientInfo `json:"clients"`
}

// TrackedPacketEvent is emitted internally (not over the wire) when an
// ICMP error correlates with a packet the tracker was watching.
type TrackedPacketEvent struct {
	IcmpPacket       []byte
	UdpPacket        []byte
	Cleartext        []byte
	SentAt           int64
	IcmpReceivedAtMs int64
	SendOptions      SendOptions
	RouterIP         *string
	ConnID           string
	OriginalSrcPort  uint16
	OriginalDestAddr string
}
