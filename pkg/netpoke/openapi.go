// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package netpoke

import (
	"encoding/json"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/netpoke/netpoke/internal/httpschema"
	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/protocol"
)

// encoder is the shared shape between json.Encoder and yaml.Encoder,
// letting handleOpenAPI switch encoders without switching call sites.
type encoder interface {
	Encode(v any) error
}

// openapiEndpoints lists the HTTP API's JSON-returning routes, reusing
// each handler's own response DTO so the self-description can never
// drift from what the handler actually sends.
func openapiEndpoints() []httpschema.Endpoint {
	return []httpschema.Endpoint{
		{Path: "/api/tracking/stats", Method: http.MethodGet, Summary: "Tracker occupancy", Response: trackingStats{}},
		{Path: "/api/tracking/events", Method: http.MethodGet, Summary: "Drain matched ICMP events", Response: []any{}},
		{Path: "/api/config/client", Method: http.MethodGet, Summary: "Client-facing configuration", Response: clientConfigResponse{}},
		{Path: "/api/dashboard", Method: http.MethodGet, Summary: "Live session snapshot", Response: protocol.DashboardMessage{}},
		{Path: "/auth/status", Method: http.MethodGet, Summary: "Authentication status", Response: authStatusResponse{}},
		{Path: "/api/upload/{session_id}/{recording_id}/prepare", Method: http.MethodPost, Summary: "Prepare a chunked upload", Response: uploadPrepareResponse{}},
		{Path: "/api/upload/{recording_id}/finalize", Method: http.MethodPost, Summary: "Finalize a chunked upload", Response: uploadFinalizeResponse{}},
	}
}

// handleOpenAPI serves netpoke's self-description, defaulting to JSON
// (matching the route's .json suffix) but switching to YAML when the
// caller explicitly asks for it via the Accept header.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	doc, err := httpschema.Document(openapiEndpoints())
	if err != nil {
		log.Error("failed to build openapi document", "error", err)
		writeError(w, log, http.StatusInternalServerError, "failed to build openapi document")
		return
	}

	var enc encoder
	switch r.Header.Get("Accept") {
	case "text/yaml", "application/yaml":
		w.Header().Set("Content-Type", "text/yaml")
		enc = yaml.NewEncoder(w)
	default:
		w.Header().Set("Content-Type", "application/json")
		enc = json.NewEncoder(w)
	}

	if err := enc.Encode(doc); err != nil {
		log.Error("failed to encode openapi document", "error", err)
	}
}
