// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package webrtcsetup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpoke/netpoke/internal/keylog"
)

func TestParseKeylogLine(t *testing.T) {
	random, secret, ok := parseKeylogLine([]byte("CLIENT_RANDOM aabb ccdd\n"))
	require.True(t, ok)
	assert.Equal(t, []byte{0xaa, 0xbb}, random)
	assert.Equal(t, []byte{0xcc, 0xdd}, secret)
}

func TestParseKeylogLine_RejectsUnknownPrefix(t *testing.T) {
	_, _, ok := parseKeylogLine([]byte("SOMETHING_ELSE aabb ccdd\n"))
	assert.False(t, ok)
}

func TestParseKeylogLine_RejectsMalformedHex(t *testing.T) {
	_, _, ok := parseKeylogLine([]byte("CLIENT_RANDOM zz ccdd\n"))
	assert.False(t, ok)
}

func TestKeylogWriter_WritesToStore(t *testing.T) {
	store := keylog.New(10, true)
	w := &keylogWriter{store: store, surveySessionID: func() string { return "sess-1" }}

	n, err := w.Write([]byte("CLIENT_RANDOM aabb ccdd\n"))
	require.NoError(t, err)
	assert.Equal(t, len("CLIENT_RANDOM aabb ccdd\n"), n)

	entries := store.Keylogs("sess-1")
	require.Len(t, entries, 1)
	assert.Equal(t, []byte{0xaa, 0xbb}, entries[0].ClientRandom)
}

func TestOpenDataChannels_ChannelInitReliability(t *testing.T) {
	probeInit := ProbeChannelInit()
	require.NotNil(t, probeInit.Ordered)
	assert.False(t, *probeInit.Ordered)
	require.NotNil(t, probeInit.MaxRetransmits)
	assert.Equal(t, uint16(0), *probeInit.MaxRetransmits)

	reliableInit := ReliableChannelInit()
	require.NotNil(t, reliableInit.Ordered)
	assert.True(t, *reliableInit.Ordered)
	assert.Nil(t, reliableInit.MaxRetransmits)
}
