// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package netpoke

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/internal/session"
	"github.com/netpoke/netpoke/internal/webrtcsetup"

	"github.com/go-chi/chi/v5"
)

const urlParamClientID = "client_id"

type signalingStartRequest struct {
	SDP string `json:"sdp"`
}

type signalingStartResponse struct {
	ClientID string `json:"client_id"`
	SDP      string `json:"sdp"`
}

type signalingIceRequest struct {
	ClientID  string          `json:"client_id"`
	Candidate json.RawMessage `json:"candidate"`
}

// handleSignalingStart creates the peer connection for a new session:
// sets the remote offer, creates and sets the local answer, waits for
// ICE gathering to complete so the answer carries every local
// candidate (the server does not trickle), and registers the session
// under a freshly generated client_id. conn_id and session_id are the
// same value as client_id; there is exactly one identifier for a
// session across signaling, control messages, and cleanup.
func (s *Server) handleSignalingStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req signalingStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid request body")
		return
	}

	clientID := uuid.New().String()
	sess := session.New(clientID, clientID)

	webrtcAPI := webrtcsetup.NewAPI(s.keylog, sess.SurveyID)
	pc, err := webrtcAPI.NewPeerConnection(webrtcsetup.DefaultConfiguration())
	if err != nil {
		log.Error("failed to create peer connection", "error", err)
		writeError(w, log, http.StatusInternalServerError, "failed to create peer connection")
		return
	}
	sess.Peer = pc

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}); err != nil {
		log.Error("failed to set remote description", "error", err)
		writeError(w, log, http.StatusBadRequest, "invalid offer")
		_ = pc.Close()
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Error("failed to create answer", "error", err)
		writeError(w, log, http.StatusInternalServerError, "failed to create answer")
		_ = pc.Close()
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Error("failed to set local description", "error", err)
		writeError(w, log, http.StatusInternalServerError, "failed to set local description")
		_ = pc.Close()
		return
	}
	<-gatherComplete

	local := pc.LocalDescription()

	s.watchPeerAddr(ctx, sess)
	s.watchPeerState(ctx, sess)
	s.orchestrator.WireDataChannels(ctx, sess)
	s.table.Add(sess)

	log.Info("signaling started", "session", clientID)
	writeJSON(w, log, http.StatusOK, signalingStartResponse{ClientID: clientID, SDP: local.SDP})
}

// handleSignalingIce attaches a trickled ICE candidate from the client
// to the peer connection named by client_id.
func (s *Server) handleSignalingIce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req signalingIceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := s.table.GetByConnID(req.ClientID)
	if !ok {
		writeError(w, log, http.StatusNotFound, "unknown client_id")
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(req.Candidate, &candidate); err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid candidate")
		return
	}

	if err := sess.Peer.AddICECandidate(candidate); err != nil {
		log.Error("failed to add ice candidate", "session", req.ClientID, "error", err)
		writeError(w, log, http.StatusInternalServerError, "failed to add ice candidate")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type cleanupResponse struct {
	Removed []string `json:"removed"`
}

// handleCleanup tears down the named session and every session
// transitively descended from it (by parent_id), closing each peer
// connection best-effort before removing it from the table.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	id := chi.URLParam(r, urlParamClientID)
	descendants := s.table.Descendants(id)
	if descendants == nil {
		writeError(w, log, http.StatusNotFound, "unknown client_id")
		return
	}

	removed := make([]string, 0, len(descendants))
	for _, sess := range descendants {
		s.teardownSession(log, sess)
		removed = append(removed, sess.ID)
	}

	log.Info("cleaned up session tree", "client_id", id, "removed", len(removed))
	writeJSON(w, log, http.StatusOK, cleanupResponse{Removed: removed})
}

// watchPeerState tears the session down once the peer connection
// reaches a terminal state, whether the client closed it or ICE failed
// outright.
func (s *Server) watchPeerState(ctx context.Context, sess *session.Session) {
	sess.Peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed:
			s.teardownSession(logger.FromContext(ctx), sess)
		default:
		}
	})
}

// teardownSession is the single exit path for a session, shared by the
// cleanup endpoint, peer-connection state changes, and the tracker's
// unmatched-ICMP escalation: stop any running senders and rounds, close
// the peer connection best-effort, drop the capture-registry binding,
// and remove the session from the table.
func (s *Server) teardownSession(log *slog.Logger, sess *session.Session) {
	if sess.GetState() == session.StateTerminated {
		return
	}
	sess.SetState(session.StateTerminated)
	sess.Measurement.SetTrafficActive(false)
	sess.Measurement.SetStopTraceroute(true)

	if sess.Peer != nil {
		if err := sess.Peer.Close(); err != nil {
			log.Error("failed to close peer connection during teardown", "session", sess.ID, "error", err)
		}
	}
	if s.registry != nil {
		if ap, ok := sess.PeerAddrPort(); ok {
			s.registry.Unregister(ap)
		}
	}
	s.persistSessionArtifacts(log, sess)
	s.table.Remove(sess.ID)
	log.Info("session terminated", "session", sess.ID)
}

// watchPeerAddr monitors the peer connection's selected ICE candidate
// pair and records the client's observed address on the session once
// available, so traceroute/MTU rounds and packet-capture tagging have
// somewhere to send probes and know which packets belong to this
// session. Pion does not expose this pair until ICE has connected, and
// the pair itself can still change (e.g. an ICE restart), so this
// keeps re-checking for as long as the peer connection lives.
func (s *Server) watchPeerAddr(ctx context.Context, sess *session.Session) {
	sess.Peer.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state != webrtc.ICEConnectionStateConnected && state != webrtc.ICEConnectionStateCompleted {
			return
		}
		go s.pollPeerAddr(context.WithoutCancel(ctx), sess)
	})
}

func (s *Server) pollPeerAddr(ctx context.Context, sess *session.Session) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		s.recordPeerAddr(log, sess)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess.GetState() == session.StateTerminated {
				return
			}
		}
	}
}

func (s *Server) recordPeerAddr(log *slog.Logger, sess *session.Session) {
	sctp := sess.Peer.SCTP()
	if sctp == nil {
		return
	}
	transport := sctp.Transport()
	if transport == nil {
		return
	}
	ice := transport.ICETransport()
	if ice == nil {
		return
	}
	pair, err := ice.GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Remote == nil {
		return
	}

	sess.SetPeerAddr(pair.Remote.Address, pair.Remote.Port)

	if s.registry == nil {
		return
	}
	addr, err := netip.ParseAddr(pair.Remote.Address)
	if err != nil {
		return
	}
	var serverPort uint16
	if pair.Local != nil {
		serverPort = pair.Local.Port
	}
	s.registry.Register(netip.AddrPortFrom(addr, pair.Remote.Port), serverPort, sess.SurveyID())
}
