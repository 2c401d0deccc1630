package server

import (
	"fmt"
	"log"

	"github.com/schollz/collidertracker/internal/deviceslot"
	"github.com/schollz/collidertracker/internal/scene"
	"github.com/schollz/collidertracker/internal/scheduler"
)

// translateNotification maps one scheduler.Notification to the outbound
// ServerMessage spec.md §4.E's fan-out table names, along with the
// "originator" client name to suppress self-delivery to (empty if none).
// ok is false for notification kinds with no wire representation
// (NotifyNothing, NotifyFramePositionChanged — reserved per spec.md §9).
func translateNotification(n scheduler.Notification, s *State) (ServerMessage, string, bool) {
	switch n.Kind {
	case scheduler.NotifyUpdatedScene, scheduler.NotifyUpdatedLine, scheduler.NotifyEnableFrames,
		scheduler.NotifyDisableFrames, scheduler.NotifyUploadedScript, scheduler.NotifyUpdatedLineFrames,
		scheduler.NotifyAddedLine, scheduler.NotifyRemovedLine, scheduler.NotifySceneLengthChanged:
		return ServerMessage{Kind: ServerSceneValue, Scene: s.sceneSnapshot()}, "", true

	case scheduler.NotifyTempoChanged:
		return ServerMessage{
			Kind:    ServerClockState,
			Tempo:   s.Clock.Tempo(),
			Beat:    s.Clock.Beat(),
			Micros:  s.Clock.Micros(),
			Quantum: s.Clock.Quantum(),
		}, "", true

	case scheduler.NotifyTransportStarted:
		return ServerMessage{Kind: ServerTransportStarted}, "", true
	case scheduler.NotifyTransportStopped:
		return ServerMessage{Kind: ServerTransportStopped}, "", true

	case scheduler.NotifyFramePositionChanged, scheduler.NotifyNothing:
		return ServerMessage{}, "", false

	case scheduler.NotifyLog:
		return ServerMessage{Kind: ServerLogString, LogMessage: n.LogMessage}, "", true

	case scheduler.NotifyClientListChanged:
		return ServerMessage{Kind: ServerPeersUpdated, Peers: n.Clients}, "", true

	case scheduler.NotifyChatReceived:
		return ServerMessage{
			Kind:        ServerChat,
			ChatFrom:    n.ChatFrom,
			ChatMessage: fmt.Sprintf("(%s) %s", n.ChatFrom, n.ChatMessage),
		}, n.ChatFrom, true

	case scheduler.NotifyPeerGridSelectionChanged:
		return ServerMessage{Kind: ServerPeerGridSelectionUpdate, PeerFrom: n.ChatFrom}, n.ChatFrom, true
	case scheduler.NotifyPeerStartedEditingFrame:
		return ServerMessage{Kind: ServerPeerStartedEditing, PeerFrom: n.ChatFrom, PeerLine: n.LineIndex}, n.ChatFrom, true
	case scheduler.NotifyPeerStoppedEditingFrame:
		return ServerMessage{Kind: ServerPeerStoppedEditing, PeerFrom: n.ChatFrom, PeerLine: n.LineIndex}, n.ChatFrom, true

	case scheduler.NotifyDeviceListChanged:
		return ServerMessage{Kind: ServerDeviceList, Devices: s.deviceList()}, "", true

	default:
		return ServerMessage{}, "", false
	}
}

// onMessage routes one ClientMessage to either a direct reply or a forward
// to the scheduler, grounded on original_source/core/src/server.rs's
// on_message. clientName is mutated in place by SetName.
func onMessage(msg ClientMessage, s *State, clientName *string) ServerMessage {
	relayIfConnected(msg, s)

	switch msg.Kind {
	case ClientSetName:
		return handleSetName(msg, s, clientName)

	case ClientEnableFrames:
		return s.forward(scheduler.Message{Kind: scheduler.MsgEnableFrames, Line: msg.Line, Frames: msg.Frames, Timing: msg.Timing})
	case ClientDisableFrames:
		return s.forward(scheduler.Message{Kind: scheduler.MsgDisableFrames, Line: msg.Line, Frames: msg.Frames, Timing: msg.Timing})

	case ClientSetScript:
		return handleSetScript(msg, s)
	case ClientGetScript:
		return handleGetScript(msg, s)

	case ClientSetTempo:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetTempo, Tempo: msg.Tempo, Timing: msg.Timing})
	case ClientSetScene:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetScene, Scene: msg.Scene, Timing: msg.Timing})
	case ClientGetScene:
		return ServerMessage{Kind: ServerSceneValue, Scene: s.sceneSnapshot()}

	case ClientSetSceneLength:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetSceneLength, Length: float64(msg.SceneLength), Timing: msg.Timing})
	case ClientSetLineStartFrame:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetLineStartFrame, Line: msg.Line, OptInt: msg.OptFrame, Timing: msg.Timing})
	case ClientSetLineEndFrame:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetLineEndFrame, Line: msg.Line, OptInt: msg.OptFrame, Timing: msg.Timing})
	case ClientSetLineLength:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetLineLength, Line: msg.Line, OptFloat: msg.OptLength, Timing: msg.Timing})
	case ClientSetLineSpeedFactor:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetLineSpeedFactor, Line: msg.Line, SpeedFactor: msg.SpeedFactor, Timing: msg.Timing})
	case ClientSetFrameName:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetFrameName, Line: msg.Line, Frame: msg.Frame, Name: msg.FrameName, Timing: msg.Timing})
	case ClientSetFrameRepetitions:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetFrameRepetitions, Line: msg.Line, Frame: msg.Frame, Repetitions: msg.Repetitions, Timing: msg.Timing})
	case ClientSetScriptLanguage:
		return s.forward(scheduler.Message{Kind: scheduler.MsgSetScriptLanguage, Line: msg.Line, Frame: msg.Frame, Lang: msg.ScriptLang, Timing: msg.Timing})

	case ClientInsertFrame:
		return s.forward(scheduler.Message{Kind: scheduler.MsgInsertFrame, Line: msg.Line, Pos: msg.Pos, Length: msg.Length, Timing: msg.Timing})
	case ClientRemoveFrame:
		return s.forward(scheduler.Message{Kind: scheduler.MsgRemoveFrame, Line: msg.Line, Pos: msg.Pos, Timing: msg.Timing})
	case ClientUpdateLineFrames:
		return s.forward(scheduler.Message{Kind: scheduler.MsgUpdateLineFrames, Line: msg.Line, FramesF: msg.FrameLengths, Timing: msg.Timing})

	case ClientAddLine:
		return s.forward(scheduler.Message{Kind: scheduler.MsgAddLine})
	case ClientRemoveLine:
		return s.forward(scheduler.Message{Kind: scheduler.MsgRemoveLine, Line: msg.Line})

	case ClientTransportStart:
		return s.forward(scheduler.Message{Kind: scheduler.MsgTransportStart})
	case ClientTransportStop:
		return s.forward(scheduler.Message{Kind: scheduler.MsgTransportStop})

	case ClientGetClock:
		return ServerMessage{Kind: ServerClockState, Tempo: s.Clock.Tempo(), Beat: s.Clock.Beat(), Micros: s.Clock.Micros(), Quantum: s.Clock.Quantum()}
	case ClientGetPeers:
		return ServerMessage{Kind: ServerPeersUpdated, Peers: s.clientNames()}
	case ClientGetSnapshot:
		return ServerMessage{
			Kind: ServerSnapshot, Scene: s.sceneSnapshot(),
			Tempo: s.Clock.Tempo(), Beat: s.Clock.Beat(), Micros: s.Clock.Micros(), Quantum: s.Clock.Quantum(),
		}
	case ClientLoadProject:
		return handleLoadProject(msg, s)
	case ClientRequestDeviceList:
		return ServerMessage{Kind: ServerDeviceList, Devices: s.deviceList()}

	case ClientCreateVirtualMidiOutput, ClientConnectMidiDeviceByName, ClientDisconnectMidiDeviceByName,
		ClientCreateOscDevice, ClientRemoveOscDevice, ClientAssignDeviceToSlot, ClientUnassignDeviceFromSlot:
		return handleDeviceCommand(msg, s)

	case ClientUpdateGridSelection:
		s.broadcastLatest(ServerMessage{Kind: ServerPeerGridSelectionUpdate, PeerFrom: *clientName, Selection: msg.Selection}, *clientName)
		return ServerMessage{Kind: ServerSuccess}
	case ClientStartedEditingFrame:
		s.broadcastLatest(ServerMessage{Kind: ServerPeerStartedEditing, PeerFrom: *clientName, PeerLine: msg.Line, PeerFrame: msg.Frame}, *clientName)
		return ServerMessage{Kind: ServerSuccess}
	case ClientStoppedEditingFrame:
		s.broadcastLatest(ServerMessage{Kind: ServerPeerStoppedEditing, PeerFrom: *clientName, PeerLine: msg.Line, PeerFrame: msg.Frame}, *clientName)
		return ServerMessage{Kind: ServerSuccess}

	case ClientChat:
		s.broadcastChat(ServerMessage{Kind: ServerChat, ChatFrom: *clientName, ChatMessage: fmt.Sprintf("(%s) %s", *clientName, msg.ChatMessage)}, *clientName)
		return ServerMessage{Kind: ServerSuccess}

	case ClientDuplicateFrameRange:
		return handleDuplicateFrameRange(msg, s)
	case ClientRemoveFramesMultiLine:
		return s.forward(scheduler.Message{Kind: scheduler.MsgInternalRemoveFramesMultiLine, LinesAndIndices: msg.LinesAndIndices, Timing: msg.Timing})
	case ClientPasteDataBlock:
		return handlePasteDataBlock(msg, s)
	case ClientRequestDuplicationData:
		return handleRequestDuplicationData(msg, s)

	default:
		return ServerMessage{Kind: ServerInternalError, ErrorMessage: "unrecognized message"}
	}
}

// forward sends a scheduler.Message over s.Messages and returns the direct
// ack/error reply, mirroring on_message's "forward 1-to-1, reply Success or
// InternalError" pattern.
func (s *State) forward(msg scheduler.Message) ServerMessage {
	select {
	case s.Messages <- msg:
		return ServerMessage{Kind: ServerSuccess}
	default:
		return ServerMessage{Kind: ServerInternalError, ErrorMessage: "scheduler communication error"}
	}
}

// handleLoadProject implements spec.md §6's LoadProject(snapshot, timing):
// "uses the same semantics as SetScene + SetTempo with the client's chosen
// timing" — forward both, in that order, under msg.Timing.
func handleLoadProject(msg ClientMessage, s *State) ServerMessage {
	if msg.Scene == nil {
		return ServerMessage{Kind: ServerInternalError, ErrorMessage: "LoadProject requires a scene"}
	}
	if resp := s.forward(scheduler.Message{Kind: scheduler.MsgSetScene, Scene: msg.Scene, Timing: msg.Timing}); resp.Kind != ServerSuccess {
		return resp
	}
	return s.forward(scheduler.Message{Kind: scheduler.MsgSetTempo, Tempo: msg.Tempo, Timing: msg.Timing})
}

func handleSetName(msg ClientMessage, s *State, clientName *string) ServerMessage {
	newName := msg.Name
	if newName == "" || newName == DefaultClientName {
		return ServerMessage{Kind: ServerConnectionRefused, ErrorMessage: "Invalid username (empty or reserved)."}
	}
	if *clientName != DefaultClientName {
		s.renameClient(*clientName, newName)
		*clientName = newName
		s.broadcastAll(ServerMessage{Kind: ServerPeersUpdated, Peers: s.clientNames()})
		return ServerMessage{Kind: ServerSuccess}
	}
	*clientName = newName
	return ServerMessage{Kind: ServerSuccess}
}

func handleSetScript(msg ClientMessage, s *State) ServerMessage {
	sc := s.sceneSnapshot()
	l := sc.MutLine(msg.Line)
	if l == nil || msg.Frame < 0 || msg.Frame >= len(l.Scripts) || l.Scripts[msg.Frame] == nil {
		return ServerMessage{Kind: ServerInternalError, ErrorMessage: fmt.Sprintf("Frame does not exist : Line %d | Frame %d", msg.Line, msg.Frame)}
	}
	newScript := l.Scripts[msg.Frame].Clone()
	newScript.Content = msg.Content
	if msg.ScriptLang != "" {
		newScript.Lang = msg.ScriptLang
	}
	resp := s.forward(scheduler.Message{Kind: scheduler.MsgUploadScript, Line: msg.Line, Frame: msg.Frame, Script: newScript, Timing: msg.Timing})
	if resp.Kind == ServerInternalError {
		return resp
	}
	return ServerMessage{Kind: ServerScriptCompiled, LineIdx: msg.Line, FrameIdx: msg.Frame}
}

func handleGetScript(msg ClientMessage, s *State) ServerMessage {
	sc := s.sceneSnapshot()
	l := sc.MutLine(msg.Line)
	if l == nil || msg.Frame < 0 || msg.Frame >= len(l.Scripts) || l.Scripts[msg.Frame] == nil {
		return ServerMessage{Kind: ServerInternalError, ErrorMessage: "Scene is empty"}
	}
	return ServerMessage{Kind: ServerScriptContent, LineIdx: msg.Line, FrameIdx: msg.Frame, Content: l.Scripts[msg.Frame].Content}
}

// handleDeviceCommand dispatches every device-management ClientMessage kind;
// each one replies with the full updated device list and broadcasts
// DeviceListChanged, per spec.md §4.E's device-commands paragraph.
func handleDeviceCommand(msg ClientMessage, s *State) ServerMessage {
	switch msg.Kind {
	case ClientCreateVirtualMidiOutput, ClientConnectMidiDeviceByName:
		out, err := deviceslot.OpenMIDIOutput(msg.DeviceName)
		if err != nil {
			log.Printf("[SERVER] failed to open MIDI output %q: %v", msg.DeviceName, err)
			return ServerMessage{Kind: ServerInternalError, ErrorMessage: err.Error()}
		}
		s.mu.Lock()
		s.Devices.Bind(msg.Slot, out)
		s.deviceNames[msg.Slot] = deviceDescriptor{name: msg.DeviceName, kind: "midi"}
		s.mu.Unlock()

	case ClientDisconnectMidiDeviceByName:
		s.mu.Lock()
		s.Devices.Unbind(msg.Slot)
		delete(s.deviceNames, msg.Slot)
		s.mu.Unlock()

	case ClientCreateOscDevice:
		out := deviceslot.OpenOSCOutput(msg.OscIP, msg.OscPort, "")
		s.mu.Lock()
		s.Devices.Bind(msg.Slot, out)
		s.deviceNames[msg.Slot] = deviceDescriptor{name: msg.DeviceName, kind: "osc"}
		s.mu.Unlock()

	case ClientRemoveOscDevice:
		s.mu.Lock()
		s.Devices.Unbind(msg.Slot)
		delete(s.deviceNames, msg.Slot)
		s.mu.Unlock()

	case ClientAssignDeviceToSlot:
		s.mu.Lock()
		s.deviceNames[msg.Slot] = deviceDescriptor{name: msg.DeviceName, kind: "midi"}
		s.mu.Unlock()

	case ClientUnassignDeviceFromSlot:
		s.mu.Lock()
		s.Devices.Unbind(msg.Slot)
		delete(s.deviceNames, msg.Slot)
		s.mu.Unlock()
	}

	devices := s.deviceList()
	s.broadcastAll(ServerMessage{Kind: ServerDeviceList, Devices: devices})
	return ServerMessage{Kind: ServerDeviceList, Devices: devices}
}

// handleDuplicateFrameRange duplicates a [src_start, src_end] run of frames
// from the source line back into that same line at target_insert, reading
// source content from the scene image and handing the assembled payload to
// the scheduler as MsgInternalDuplicateFrameRange. The target line is the
// source line itself, per spec.md §4.E's `DuplicateFrameRange { src_line,
// src_start, src_end, target_insert, timing }` (no separate target line).
func handleDuplicateFrameRange(msg ClientMessage, s *State) ServerMessage {
	sc := s.sceneSnapshot()
	l := sc.MutLine(msg.SrcLine)
	if l == nil {
		return ServerMessage{Kind: ServerInternalError, ErrorMessage: "source line does not exist"}
	}
	blocks := frameRangeToDuplicateData(l, msg.SrcStart, msg.SrcEnd)
	return s.forward(scheduler.Message{
		Kind: scheduler.MsgInternalDuplicateFrameRange,
		Line: msg.SrcLine, Pos: msg.TargetInsert,
		DuplicateRange: blocks, Timing: msg.Timing,
	})
}

// handlePasteDataBlock pastes a 2D grid: the outer (column) index selects
// the line at TargetCol+colOffset, the inner (row) index selects the frame
// at TargetRow+rowOffset within that line — matching
// original_source/core/src/server.rs's PasteDataBlock handling, which
// iterates columns outermost and rows innermost.
func handlePasteDataBlock(msg ClientMessage, s *State) ServerMessage {
	sc := s.sceneSnapshot()
	for colOffset, column := range msg.PasteData {
		lineIdx := msg.TargetCol + colOffset
		l := sc.MutLine(lineIdx)
		if l == nil {
			log.Printf("[DISPATCH] paste target line %d does not exist, skipping column", lineIdx)
			continue
		}
		for rowOffset, cell := range column {
			frameIdx := msg.TargetRow + rowOffset
			if frameIdx < 0 || frameIdx >= l.NFrames() {
				log.Printf("[DISPATCH] paste target frame %d on line %d out of range, skipping", frameIdx, lineIdx)
				continue
			}
			s.forward(scheduler.Message{
				Kind: scheduler.MsgInternalDuplicateFrame, Line: lineIdx, Pos: frameIdx,
				Duplicate: scheduler.DuplicatedFrameData{Length: cell.Length, Enabled: cell.Enabled, Name: cell.Name, Repetitions: cell.Repetitions},
				Timing:    msg.Timing,
			})
		}
	}
	return ServerMessage{Kind: ServerSuccess}
}

// handleRequestDuplicationData reads a single-line source rectangle
// ([src_start, src_end] of src_line) from the scene image and hands it to
// the scheduler as one column of MsgInternalInsertDuplicatedBlocks, targeted
// at (target_line, target_frame). A full multi-line rectangle is not
// currently exposed on the wire message (see DESIGN.md).
func handleRequestDuplicationData(msg ClientMessage, s *State) ServerMessage {
	sc := s.sceneSnapshot()
	l := sc.MutLine(msg.SrcLine)
	if l == nil {
		return ServerMessage{Kind: ServerInternalError, ErrorMessage: "source line does not exist"}
	}
	column := frameRangeToDuplicateData(l, msg.SrcStart, msg.SrcEnd)
	return s.forward(scheduler.Message{
		Kind: scheduler.MsgInternalInsertDuplicatedBlocks,
		Line: msg.TargetLine, Pos: msg.TargetFrame,
		Blocks: [][]scheduler.DuplicatedFrameData{column}, Timing: msg.Timing,
	})
}

func frameRangeToDuplicateData(l *scene.Line, start, end int) []scheduler.DuplicatedFrameData {
	var blocks []scheduler.DuplicatedFrameData
	for i := start; i <= end && i < l.NFrames(); i++ {
		blocks = append(blocks, scheduler.DuplicatedFrameData{
			Length:      l.FrameLen(i),
			Enabled:     l.IsFrameEnabled(i),
			Script:      l.Scripts[i],
			Name:        l.FrameNames[i],
			Repetitions: l.FrameRepetitions[i],
		})
	}
	return blocks
}
