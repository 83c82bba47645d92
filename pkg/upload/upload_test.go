// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_HelloWorld(t *testing.T) {
	got := Checksum([]byte("hello world"))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestChecksum_Empty(t *testing.T) {
	got := Checksum([]byte(""))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", got)
}

func TestCombinedChecksum_Deterministic(t *testing.T) {
	checksums := []string{"a", "b"}
	assert.Equal(t, CombinedChecksum(checksums), CombinedChecksum(checksums))
}

func TestCombinedChecksum_Length(t *testing.T) {
	got := CombinedChecksum([]string{"abc123", "def456", "ghi789"})
	assert.Len(t, got, 64)
}

func TestFileChecksums_Nonexistent(t *testing.T) {
	checksums, err := FileChecksums(filepath.Join(t.TempDir(), "nope.bin"), 1000)
	require.NoError(t, err)
	assert.Empty(t, checksums)
}

func TestFileChecksums_ResumablePartialUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.bin")

	chunk1 := bytes.Repeat([]byte{1}, ChunkSize)
	chunk2 := bytes.Repeat([]byte{2}, ChunkSize)
	// chunk3 (half size) deliberately not written yet.

	require.NoError(t, os.WriteFile(path, append(chunk1, chunk2...), 0o644))

	totalSize := int64(ChunkSize*2 + ChunkSize/2)
	checksums, err := FileChecksums(path, totalSize)
	require.NoError(t, err)
	require.Len(t, checksums, 3)

	require.NotNil(t, checksums[0])
	require.NotNil(t, checksums[1])
	assert.Nil(t, checksums[2])
	assert.Equal(t, Checksum(chunk1), *checksums[0])
	assert.Equal(t, Checksum(chunk2), *checksums[1])
}

func TestWriteChunk_ThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.bin")

	chunk0 := bytes.Repeat([]byte{9}, ChunkSize)
	require.NoError(t, WriteChunk(path, 0, chunk0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, chunk0, data)
}

func TestWriteChunk_OutOfOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.bin")

	chunk1 := bytes.Repeat([]byte{2}, ChunkSize)
	require.NoError(t, WriteChunk(path, 1, chunk1))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*ChunkSize), info.Size())

	checksums, err := FileChecksums(path, int64(2*ChunkSize))
	require.NoError(t, err)
	require.Len(t, checksums, 2)
	assert.NotNil(t, checksums[0])
	assert.NotNil(t, checksums[1])
	assert.Equal(t, Checksum(chunk1), *checksums[1])
}

func TestManager_FullChunkedUploadLifecycle(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	chunk1 := bytes.Repeat([]byte{1}, ChunkSize)
	chunk2 := bytes.Repeat([]byte{2}, ChunkSize)
	chunk3 := bytes.Repeat([]byte{3}, ChunkSize/2)
	totalSize := int64(len(chunk1) + len(chunk2) + len(chunk3))

	chunkSize, checksums, err := m.Prepare("rec-1", totalSize)
	require.NoError(t, err)
	assert.Equal(t, ChunkSize, chunkSize)
	assert.Empty(t, checksums)

	require.NoError(t, m.PutChunk("rec-1", 0, chunk1, Checksum(chunk1)))
	require.NoError(t, m.PutChunk("rec-1", 1, chunk2, Checksum(chunk2)))
	require.NoError(t, m.PutChunk("rec-1", 2, chunk3, Checksum(chunk3)))

	combined := CombinedChecksum([]string{Checksum(chunk1), Checksum(chunk2), Checksum(chunk3)})
	n, err := m.Finalize("rec-1", totalSize, combined)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(m.Path("rec-1"))
	require.NoError(t, err)
	expected := append(append(chunk1, chunk2...), chunk3...)
	assert.Equal(t, expected, data)
}

func TestManager_PutChunk_ChecksumMismatchLeavesFileUnchanged(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	chunk := bytes.Repeat([]byte{7}, 128)
	err := m.PutChunk("rec-1", 0, chunk, "not-the-real-checksum")
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, statErr := os.Stat(m.Path("rec-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestManager_Finalize_CombinedChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	chunk := bytes.Repeat([]byte{5}, ChunkSize)
	require.NoError(t, m.PutChunk("rec-1", 0, chunk, Checksum(chunk)))

	_, err := m.Finalize("rec-1", int64(len(chunk)), "wrong-combined-checksum")
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestManager_Finalize_MissingChunk(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	chunk1 := bytes.Repeat([]byte{1}, ChunkSize)
	require.NoError(t, m.PutChunk("rec-1", 0, chunk1, Checksum(chunk1)))
	// chunk 1 never uploaded.

	_, err := m.Finalize("rec-1", int64(2*ChunkSize), "irrelevant")
	assert.Error(t, err)
}

func TestNumChunks(t *testing.T) {
	assert.Equal(t, 0, NumChunks(0))
	assert.Equal(t, 1, NumChunks(1))
	assert.Equal(t, 1, NumChunks(ChunkSize))
	assert.Equal(t, 2, NumChunks(ChunkSize+1))
	assert.Equal(t, 3, NumChunks(int64(2*ChunkSize+ChunkSize/2)))
}
