package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schollz/collidertracker/internal/clock"
	"github.com/schollz/collidertracker/internal/deviceslot"
	"github.com/schollz/collidertracker/internal/scene"
	"github.com/schollz/collidertracker/internal/scheduler"
)

func newTestState() *State {
	c := clock.NewLocal(120, 4)
	devices := deviceslot.NewMap()
	messages := make(chan scheduler.Message, 8)
	notify := make(chan scheduler.Notification, 8)
	return NewState(c, devices, messages, notify, 4)
}

func TestOnMessageSetTempoForwardsToScheduler(t *testing.T) {
	s := newTestState()
	name := "alice"
	resp := onMessage(ClientMessage{Kind: ClientSetTempo, Tempo: 140}, s, &name)
	assert.Equal(t, ServerSuccess, resp.Kind)

	select {
	case msg := <-s.Messages:
		assert.Equal(t, scheduler.MsgSetTempo, msg.Kind)
		assert.Equal(t, 140.0, msg.Tempo)
	default:
		t.Fatal("expected a forwarded scheduler message")
	}
}

func TestOnMessageGetSceneReturnsSnapshotDirectly(t *testing.T) {
	s := newTestState()
	name := "alice"
	resp := onMessage(ClientMessage{Kind: ClientGetScene}, s, &name)
	assert.Equal(t, ServerSceneValue, resp.Kind)
	require.NotNil(t, resp.Scene)
}

func TestOnMessageChatBroadcastsToOthersNotSender(t *testing.T) {
	s := newTestState()
	sender := "alice"
	bob := newClient("bob-addr")
	bob.name = "bob"
	require.True(t, s.addClient(bob))

	resp := onMessage(ClientMessage{Kind: ClientChat, ChatMessage: "hi"}, s, &sender)
	assert.Equal(t, ServerSuccess, resp.Kind)

	select {
	case msg := <-bob.chatQueue:
		assert.Equal(t, ServerChat, msg.Kind)
		assert.Equal(t, "alice", msg.ChatFrom)
		assert.Equal(t, "(alice) hi", msg.ChatMessage)
	default:
		t.Fatal("expected bob to receive the chat message")
	}
}

func TestOnMessageGridSelectionSuppressesOriginator(t *testing.T) {
	s := newTestState()
	sender := "alice"
	alice := newClient("alice-addr")
	alice.name = "alice"
	require.True(t, s.addClient(alice))

	onMessage(ClientMessage{Kind: ClientUpdateGridSelection, Selection: GridSelection{Line: 1, HasSelect: true}}, s, &sender)

	select {
	case <-alice.latest:
		t.Fatal("originator should not receive its own grid-selection broadcast")
	default:
	}
}

func TestHandlePasteDataBlockMapsColumnsToLinesAndRowsToFrames(t *testing.T) {
	s := newTestState()
	sc := scene.NewScene(4)
	l0 := sc.AddLine()
	l0.Frames = []float64{1, 1, 1}
	l1 := sc.AddLine()
	l1.Frames = []float64{1, 1, 1}
	s.setScene(sc)

	cell := func(length float64) PasteCell { return PasteCell{Length: length} }
	name := "alice"
	resp := onMessage(ClientMessage{
		Kind: ClientPasteDataBlock,
		PasteData: [][]PasteCell{
			{cell(1), cell(2), cell(3)},
			{cell(4), cell(5), cell(6)},
		},
		TargetRow: 0,
		TargetCol: 0,
	}, s, &name)
	assert.Equal(t, ServerSuccess, resp.Kind)

	type forwarded struct {
		line, pos int
		length    float64
	}
	var got []forwarded
	for len(s.Messages) > 0 {
		msg := <-s.Messages
		require.Equal(t, scheduler.MsgInternalDuplicateFrame, msg.Kind)
		got = append(got, forwarded{line: msg.Line, pos: msg.Pos, length: msg.Duplicate.Length})
	}

	require.Len(t, got, 6)
	assert.Equal(t, forwarded{line: 0, pos: 0, length: 1}, got[0])
	assert.Equal(t, forwarded{line: 0, pos: 1, length: 2}, got[1])
	assert.Equal(t, forwarded{line: 0, pos: 2, length: 3}, got[2])
	assert.Equal(t, forwarded{line: 1, pos: 0, length: 4}, got[3])
	assert.Equal(t, forwarded{line: 1, pos: 1, length: 5}, got[4])
	assert.Equal(t, forwarded{line: 1, pos: 2, length: 6}, got[5])
}

func TestTranslateNotificationMapsTempoChanged(t *testing.T) {
	s := newTestState()
	msg, originator, ok := translateNotification(scheduler.Notification{Kind: scheduler.NotifyTempoChanged}, s)
	require.True(t, ok)
	assert.Empty(t, originator)
	assert.Equal(t, ServerClockState, msg.Kind)
}

func TestTranslateNotificationSkipsFramePositionChanged(t *testing.T) {
	s := newTestState()
	_, _, ok := translateNotification(scheduler.Notification{Kind: scheduler.NotifyFramePositionChanged}, s)
	assert.False(t, ok)
}
