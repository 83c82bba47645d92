// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package netpoke

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/netpoke/netpoke/internal/logger"
	"github.com/netpoke/netpoke/pkg/upload"
)

const (
	urlParamSessionID   = "session_id"
	urlParamRecordingID = "recording_id"
	urlParamChunkIndex  = "chunk_index"
)

type uploadPrepareRequest struct {
	TotalSize int64 `json:"total_size"`
}

type uploadPrepareResponse struct {
	ChunkSize int       `json:"chunk_size"`
	Checksums []*string `json:"checksums"`
}

// handleUploadPrepare allocates (or re-opens) a recording's target file
// and reports the chunk size and each chunk's existing checksum, so the
// client can resume an interrupted upload.
func (s *Server) handleUploadPrepare(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	sessionID := chi.URLParam(r, urlParamSessionID)
	recordingID := chi.URLParam(r, urlParamRecordingID)

	var req uploadPrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid request body")
		return
	}

	chunkSize, checksums, err := s.uploads.Prepare(recordingID, req.TotalSize)
	if err != nil {
		log.Error("failed to prepare upload", "recording", recordingID, "error", err)
		writeError(w, log, http.StatusInternalServerError, "failed to prepare upload")
		return
	}

	if err := s.store.CreateRecording(r.Context(), recordingID, sessionID, req.TotalSize, s.uploads.Path(recordingID)); err != nil {
		log.Error("failed to record recording metadata", "recording", recordingID, "error", err)
	}

	writeJSON(w, log, http.StatusOK, uploadPrepareResponse{ChunkSize: chunkSize, Checksums: checksums})
}

// handleUploadChunk writes a single chunk, verifying it against the
// client-supplied checksum carried in the X-Chunk-Checksum header.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	recordingID := chi.URLParam(r, urlParamRecordingID)
	index, err := chunkIndexParam(r)
	if err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid chunk_index")
		return
	}
	checksum := r.Header.Get("X-Chunk-Checksum")
	if checksum == "" {
		writeError(w, log, http.StatusBadRequest, "missing X-Chunk-Checksum header")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, log, http.StatusBadRequest, "failed to read chunk body")
		return
	}

	if err := s.uploads.PutChunk(recordingID, index, data, checksum); err != nil {
		if errors.Is(err, upload.ErrChecksumMismatch) {
			writeError(w, log, http.StatusConflict, "checksum mismatch")
			return
		}
		log.Error("failed to write chunk", "recording", recordingID, "chunk", index, "error", err)
		writeError(w, log, http.StatusInternalServerError, "failed to write chunk")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type uploadFinalizeRequest struct {
	TotalSize        int64  `json:"total_size"`
	CombinedChecksum string `json:"combined_checksum"`
}

type uploadFinalizeResponse struct {
	ChunksVerified int `json:"chunks_verified"`
}

// handleUploadFinalize recomputes and compares the combined checksum,
// marking the recording complete in the store on a match.
func (s *Server) handleUploadFinalize(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	recordingID := chi.URLParam(r, urlParamRecordingID)

	var req uploadFinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := s.uploads.Finalize(recordingID, req.TotalSize, req.CombinedChecksum)
	if err != nil {
		if errors.Is(err, upload.ErrChecksumMismatch) {
			writeError(w, log, http.StatusConflict, "combined checksum mismatch")
			return
		}
		log.Error("failed to finalize upload", "recording", recordingID, "error", err)
		writeError(w, log, http.StatusInternalServerError, "failed to finalize upload")
		return
	}

	if err := s.store.CompleteRecording(r.Context(), recordingID, req.CombinedChecksum); err != nil {
		log.Error("failed to mark recording complete", "recording", recordingID, "error", err)
	}

	writeJSON(w, log, http.StatusOK, uploadFinalizeResponse{ChunksVerified: n})
}

func chunkIndexParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, urlParamChunkIndex))
}
