// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

// Package webrtcsetup builds the pion webrtc.API and per-peer
// RTCConfiguration used by the session orchestrator, and wires the
// DTLS keylog hook into the keylog store.
package webrtcsetup

import (
	"encoding/hex"

	"github.com/pion/webrtc/v4"

	"github.com/netpoke/netpoke/internal/keylog"
)

// DataChannelLabels are the four channels every session opens, in the
// order the client is expected to create them.
var DataChannelLabels = [4]string{"probe", "bulk", "control", "testprobe"}

// keylogWriter adapts keylog.Store to the io.Writer pion's
// SettingEngine.SetDTLSKeyLogWriter expects: pion writes complete
// "CLIENT_RANDOM <hex> <hex>\n" lines, one per Write call, which this
// adapter re-parses into structured keylog.Entry records.
type keylogWriter struct {
	store           *keylog.Store
	surveySessionID func() string
}

func (w *keylogWriter) Write(p []byte) (int, error) {
	clientRandom, masterSecret, ok := parseKeylogLine(p)
	if ok {
		w.store.Add(w.surveySessionID(), clientRandom, masterSecret)
	}
	return len(p), nil
}

// parseKeylogLine extracts the client_random and master_secret hex
// fields from a single NSS keylog "CLIENT_RANDOM <hex> <hex>" line.
func parseKeylogLine(line []byte) (clientRandom, masterSecret []byte, ok bool) {
	const prefix = "CLIENT_RANDOM "
	s := string(line)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return nil, nil, false
	}
	rest := s[len(prefix):]
	sp := -1
	for i, c := range rest {
		if c == ' ' {
			sp = i
			break
		}
	}
	if sp < 0 {
		return nil, nil, false
	}
	random, err := hex.DecodeString(rest[:sp])
	if err != nil {
		return nil, nil, false
	}
	secret, err := hex.DecodeString(rest[sp+1:])
	if err != nil {
		return nil, nil, false
	}
	return random, secret, true
}

// NewAPI builds a pion webrtc.API with a SettingEngine that writes
// every session's DTLS handshake keylog into store, re-parsed per
// session via surveySessionID (called lazily, at write time, so the
// current survey_session_id — which may be set after the handshake
// begins — is used).
func NewAPI(store *keylog.Store, surveySessionID func() string) *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	if store.Enabled() {
		settingEngine.SetDTLSKeyLogWriter(&keylogWriter{store: store, surveySessionID: surveySessionID})
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

// DefaultConfiguration is the RTCConfiguration applied to every peer
// connection: a single public STUN server, all transports allowed.
func DefaultConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

// ProbeChannelInit returns the unordered/unreliable init used for the
// probe channel: zero retransmits, matching real-time probe semantics
// where a stale retransmit is worse than a drop.
func ProbeChannelInit() *webrtc.DataChannelInit {
	ordered := false
	maxRetransmits := uint16(0)
	return &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &maxRetransmits}
}

// ReliableChannelInit returns the ordered/reliable init used for the
// bulk, control and testprobe channels.
func ReliableChannelInit() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{Ordered: &ordered}
}

// OpenDataChannels creates the four data channels on the given peer
// connection with their prescribed reliability semantics, for
// deployments where the server rather than the browser initiates them.
func OpenDataChannels(peer *webrtc.PeerConnection) (probe, bulk, control, testprobe *webrtc.DataChannel, err error) {
	probe, err = peer.CreateDataChannel("probe", ProbeChannelInit())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	bulk, err = peer.CreateDataChannel("bulk", ReliableChannelInit())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	control, err = peer.CreateDataChannel("control", ReliableChannelInit())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	testprobe, err = peer.CreateDataChannel("testprobe", ReliableChannelInit())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return probe, bulk, control, testprobe, nil
}
