// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package session owns the per-peer session lifecycle: the state
// machine driving signaling through measurement, the four data
// channel handles, the rolling measurement windows, and the
// control-channel dispatcher that routes incoming messages to
// traceroute rounds or the probe/bulk senders.
package session

import (
	"net/netip"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/netpoke/netpoke/internal/measure"
	"github.com/netpoke/netpoke/pkg/protocol"
)

// State is a position in the session state machine.
type State string

const (
	StateSignaling    State = "signaling"
	StateWaitChannels State = "wait_channels"
	StateReady        State = "ready"
	StateTraceroute   State = "traceroute"
	StateMtu          State = "mtu"
	StateMeasuring    State = "measuring"
	StateTerminated   State = "terminated"
)

// DataChannels holds the four channels a session opens, keyed by their
// fixed roles rather than label lookups once all four are known.
type DataChannels struct {
	Probe     *webrtc.DataChannel
	Bulk      *webrtc.DataChannel
	Control   *webrtc.DataChannel
	TestProbe *webrtc.DataChannel
}

// AllReady reports whether every channel has been assigned. Channel
// assignment happens as each one's on_data_channel callback fires;
// this checks registration, not ready_state — the readiness signal is
// "all four registered", not "all four Open".
func (d *DataChannels) AllReady() bool {
	return d.Probe != nil && d.Bulk != nil && d.Control != nil && d.TestProbe != nil
}

// MeasurementState is the per-session rolling window of sent/received
// probe and bulk activity, plus the two flags the sender loops poll
// every tick.
type MeasurementState struct {
	mu             sync.Mutex
	ProbeSeq       uint64
	TestProbeSeq   uint64
	TrafficActive  bool
	StopTraceroute bool
	ServerToClient *measure.Engine
	ClientToServer *measure.Engine
	// RoundTrip accumulates the server's own probes as echoed back by
	// the client, so each sample's delay is a full round trip.
	RoundTrip *measure.Engine
}

// NewMeasurementState creates an empty MeasurementState with all
// directional engines initialized.
func NewMeasurementState() *MeasurementState {
	return &MeasurementState{
		ServerToClient: measure.NewEngine(),
		ClientToServer: measure.NewEngine(),
		RoundTrip:      measure.NewEngine(),
	}
}

// NextProbeSeq increments and returns the next probe sequence number.
func (m *MeasurementState) NextProbeSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.ProbeSeq
	m.ProbeSeq++
	return seq
}

// NextTestProbeSeq increments and returns the next test-probe sequence
// number, used to distinguish traceroute rounds' probes from each
// other when multiple are in flight.
func (m *MeasurementState) NextTestProbeSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.TestProbeSeq
	m.TestProbeSeq++
	return seq
}

// SetTrafficActive flips the flag the probe/bulk senders poll each
// tick to decide whether to keep running.
func (m *MeasurementState) SetTrafficActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrafficActive = active
}

// IsTrafficActive reports the current sender-loop gate.
func (m *MeasurementState) IsTrafficActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TrafficActive
}

// SetStopTraceroute flips the flag a running traceroute/MTU round
// polls between hops to abort early.
func (m *MeasurementState) SetStopTraceroute(stop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopTraceroute = stop
}

// stopRequested reports whether an in-progress round has been asked
// to stop.
func (m *MeasurementState) stopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StopTraceroute
}

// Clear resets sequence counters and all three measurement engines, used
// when leaving the traceroute phase for measurement.
func (m *MeasurementState) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProbeSeq = 0
	m.TestProbeSeq = 0
	m.ServerToClient.Clear()
	m.ClientToServer.Clear()
	m.RoundTrip.Clear()
}

// Session is a single peer's full connection state: the peer
// connection, its identifiers, data channels, and rolling measurement
// windows. Channel message handlers look the session up by ID from
// the Table rather than holding a back-pointer, avoiding a retain
// cycle between the session and its own peer connection callbacks.
type Session struct {
	mu sync.RWMutex

	ID              string
	ConnID          string
	SurveySessionID string
	ParentID        string
	IPVersion       string
	ConnectedAt     time.Time

	Peer     *webrtc.PeerConnection
	Channels DataChannels
	State    State

	Measurement *MeasurementState

	PeerAddr string
	PeerPort uint16

	readyNotified  bool
	sendersRunning int

	// testProbeWaiters holds one entry per in-flight traceroute/MTU
	// probe awaiting its echo, keyed by test_seq. A round publishes a
	// channel here before sending and removes it once it stops
	// waiting (echo received or timeout).
	testProbeWaiters sync.Map
}

// New creates a Session in the SIGNALING state.
func New(id, connID string) *Session {
	return &Session{
		ID:          id,
		ConnID:      connID,
		ConnectedAt: time.Now(),
		State:       StateSignaling,
		Measurement: NewMeasurementState(),
	}
}

// SetState transitions the session to a new state under lock.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}

// GetState returns the current state.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// SurveyID returns the current survey_session_id.
func (s *Session) SurveyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SurveySessionID
}

// SetSurveyID updates survey_session_id if non-empty, matching the
// propagation rule that any message carrying a non-empty
// survey_session_id updates the session's value before action.
func (s *Session) SetSurveyID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SurveySessionID = id
}

// BindSurveyID sets survey_session_id unconditionally, including to
// empty — the one-time binding StartSurveySessionMessage performs, as
// opposed to every other control message's update-if-non-empty rule.
func (s *Session) BindSurveyID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SurveySessionID = id
}

// MatchesConnID reports whether connID matches this session's conn_id,
// the per-message rejection check every control message is subject
// to.
func (s *Session) MatchesConnID(connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ConnID == connID
}

// SetPeerAddr records the last observed peer address/port and derives
// the session's IP version from the address family.
func (s *Session) SetPeerAddr(addr string, port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PeerAddr = addr
	s.PeerPort = port
	if a, err := netip.ParseAddr(addr); err == nil {
		if a.Is4() || a.Is4In6() {
			s.IPVersion = string(protocol.IpFamilyIPv4)
		} else {
			s.IPVersion = string(protocol.IpFamilyIPv6)
		}
	}
}

// RegisterChannel assigns dc to its role slot by label and reports
// whether this assignment completed the set of four.
func (s *Session) RegisterChannel(label string, dc *webrtc.DataChannel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch label {
	case "probe":
		s.Channels.Probe = dc
	case "bulk":
		s.Channels.Bulk = dc
	case "control":
		s.Channels.Control = dc
	case "testprobe":
		s.Channels.TestProbe = dc
	default:
		return false
	}
	if !s.Channels.AllReady() || s.readyNotified {
		return false
	}
	s.readyNotified = true
	return true
}
