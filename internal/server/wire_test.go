package server

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg ClientMessage, strategy CompressionStrategy) ClientMessage {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteFrame(w, msg, strategy))

	r := bufio.NewReader(&buf)
	var out ClientMessage
	require.NoError(t, ReadFrame(r, &out))
	return out
}

func TestWireFrameRoundTripsUncompressed(t *testing.T) {
	msg := ClientMessage{Kind: ClientSetName, Name: "alice"}
	out := roundTrip(t, msg, CompressNever)
	assert.Equal(t, msg, out)
}

func TestWireFrameRoundTripsCompressedWhenBeneficial(t *testing.T) {
	msg := ClientMessage{Kind: ClientSetScript, Content: strings.Repeat("octave(2) note(0)\n", 200)}
	out := roundTrip(t, msg, CompressAlways)
	assert.Equal(t, msg.Content, out.Content)
	assert.Equal(t, msg.Kind, out.Kind)
}

func TestWireFrameRoundTripsAdaptiveSmallPayloadUncompressed(t *testing.T) {
	msg := ClientMessage{Kind: ClientTransportStart}
	out := roundTrip(t, msg, CompressAdaptive)
	assert.Equal(t, msg, out)
}

func TestReadFrameRejectsZeroLengthHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	r := bufio.NewReader(&buf)
	var out ClientMessage
	err := ReadFrame(r, &out)
	assert.Error(t, err)
}

func TestServerMessageCompressionStrategyTable(t *testing.T) {
	cases := []struct {
		kind     ServerKind
		strategy CompressionStrategy
	}{
		{ServerPeerGridSelectionUpdate, CompressNever},
		{ServerClockState, CompressNever},
		{ServerTransportStarted, CompressNever},
		{ServerTransportStopped, CompressNever},
		{ServerGlobalVariablesUpdate, CompressNever},
		{ServerSceneLength, CompressNever},
		{ServerFramePosition, CompressNever},
		{ServerHello, CompressAlways},
		{ServerSceneValue, CompressAlways},
		{ServerSnapshot, CompressAlways},
		{ServerDeviceList, CompressAlways},
		{ServerChat, CompressAdaptive},
		{ServerLogString, CompressAdaptive},
	}
	for _, c := range cases {
		msg := ServerMessage{Kind: c.kind}
		assert.Equal(t, c.strategy, msg.compressionStrategy(), "kind %v", c.kind)
	}
}
