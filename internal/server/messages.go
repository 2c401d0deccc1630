package server

import (
	"github.com/schollz/collidertracker/internal/scene"
	"github.com/schollz/collidertracker/internal/scheduler"
)

// ClientKind discriminates ClientMessage (spec.md §4.E's abbreviated
// ClientMessage variant list).
type ClientKind int

const (
	ClientSetName ClientKind = iota
	ClientSetTempo
	ClientSetScene
	ClientGetScene
	ClientGetScript
	ClientSetScript
	ClientUpdateLineFrames
	ClientInsertFrame
	ClientRemoveFrame
	ClientSetLineStartFrame
	ClientSetLineEndFrame
	ClientSetLineLength
	ClientSetLineSpeedFactor
	ClientSetSceneLength
	ClientSetFrameName
	ClientSetFrameRepetitions
	ClientSetScriptLanguage
	ClientEnableFrames
	ClientDisableFrames
	ClientAddLine
	ClientRemoveLine
	ClientTransportStart
	ClientTransportStop
	ClientGetClock
	ClientGetPeers
	ClientGetSnapshot
	ClientRequestDeviceList
	ClientCreateVirtualMidiOutput
	ClientConnectMidiDeviceByName
	ClientDisconnectMidiDeviceByName
	ClientCreateOscDevice
	ClientRemoveOscDevice
	ClientAssignDeviceToSlot
	ClientUnassignDeviceFromSlot
	ClientUpdateGridSelection
	ClientStartedEditingFrame
	ClientStoppedEditingFrame
	ClientChat
	ClientDuplicateFrameRange
	ClientRequestDuplicationData
	ClientRemoveFramesMultiLine
	ClientPasteDataBlock
	ClientLoadProject
)

// GridSelection is a client's currently-highlighted rectangle, broadcast to
// peers as presence information (never persisted server-side state).
type GridSelection struct {
	Line      int
	StartCol  int
	EndCol    int
	HasSelect bool
}

// PasteCell is one cell of a PasteDataBlock's 2D payload grid.
type PasteCell struct {
	Length      float64
	Enabled     bool
	Content     string
	Lang        string
	Name        *string
	Repetitions int
}

// ClientMessage is everything a connected client can send, tagged by Kind;
// only the fields relevant to Kind are populated (mirrors scheduler.Message's
// tagged-struct approach, since Go has no native sum type).
type ClientMessage struct {
	Kind ClientKind `msgpack:"kind"`

	Name string `msgpack:"name,omitempty"`

	Line         int       `msgpack:"line,omitempty"`
	Frame        int       `msgpack:"frame,omitempty"`
	Pos          int       `msgpack:"pos,omitempty"`
	Frames       []int     `msgpack:"frames,omitempty"`
	FrameLengths []float64 `msgpack:"frame_lengths,omitempty"`
	OptFrame     *int      `msgpack:"opt_frame,omitempty"`

	Tempo       float64  `msgpack:"tempo,omitempty"`
	Length      float64  `msgpack:"length,omitempty"`
	OptLength   *float64 `msgpack:"opt_length,omitempty"`
	SpeedFactor float64  `msgpack:"speed_factor,omitempty"`
	SceneLength int      `msgpack:"scene_length,omitempty"`

	FrameName   *string `msgpack:"frame_name,omitempty"`
	Repetitions int     `msgpack:"repetitions,omitempty"`
	ScriptLang  string   `msgpack:"script_lang,omitempty"`
	Content     string  `msgpack:"content,omitempty"`

	Scene *scene.Scene `msgpack:"scene,omitempty"`

	Timing scheduler.ActionTiming `msgpack:"timing,omitempty"`

	DeviceName string `msgpack:"device_name,omitempty"`
	OscIP      string `msgpack:"osc_ip,omitempty"`
	OscPort    int    `msgpack:"osc_port,omitempty"`
	Slot       int    `msgpack:"slot,omitempty"`

	Selection GridSelection `msgpack:"selection,omitempty"`

	ChatMessage string `msgpack:"chat_message,omitempty"`

	SrcLine       int `msgpack:"src_line,omitempty"`
	SrcStart      int `msgpack:"src_start,omitempty"`
	SrcEnd        int `msgpack:"src_end,omitempty"`
	TargetInsert  int `msgpack:"target_insert,omitempty"`
	TargetLine    int `msgpack:"target_line,omitempty"`
	TargetFrame   int `msgpack:"target_frame,omitempty"`
	InsertBefore  bool `msgpack:"insert_before,omitempty"`

	LinesAndIndices []scheduler.LineIndices `msgpack:"lines_and_indices,omitempty"`

	// PasteData is a 2D grid: the outer index is a column offset added to
	// TargetCol to select the line, the inner index is a row offset added
	// to TargetRow to select the frame within that line (see
	// original_source/core/src/server.rs's PasteDataBlock handling).
	PasteData [][]PasteCell `msgpack:"paste_data,omitempty"`
	TargetRow int           `msgpack:"target_row,omitempty"`
	TargetCol int           `msgpack:"target_col,omitempty"`
}

// ServerKind discriminates ServerMessage.
type ServerKind int

const (
	ServerSuccess ServerKind = iota
	ServerInternalError
	ServerConnectionRefused
	ServerHello
	ServerSceneValue
	ServerScriptContent
	ServerScriptCompiled
	ServerClockState
	ServerTransportStarted
	ServerTransportStopped
	ServerPeersUpdated
	ServerDeviceList
	ServerSnapshot
	ServerLogString
	ServerChat
	ServerPeerGridSelectionUpdate
	ServerPeerStartedEditing
	ServerPeerStoppedEditing
	ServerGlobalVariablesUpdate
	ServerSceneLength
	ServerFramePosition
)

// DeviceEntry is one slot's current binding, reported in Hello/DeviceList.
type DeviceEntry struct {
	Slot int
	Name string
	Kind string // "midi" or "osc"
}

// ServerMessage is every reply or broadcast the server can send to a client.
type ServerMessage struct {
	Kind ServerKind `msgpack:"kind"`

	ErrorMessage string `msgpack:"error_message,omitempty"`

	Username              string             `msgpack:"username,omitempty"`
	Scene                 *scene.Scene       `msgpack:"scene,omitempty"`
	Devices               []DeviceEntry      `msgpack:"devices,omitempty"`
	Peers                 []string           `msgpack:"peers,omitempty"`
	Tempo                 float64            `msgpack:"tempo,omitempty"`
	Beat                  float64            `msgpack:"beat,omitempty"`
	Micros                int64              `msgpack:"micros,omitempty"`
	Quantum               float64            `msgpack:"quantum,omitempty"`
	NumPeers              int                `msgpack:"num_peers,omitempty"`
	StartStopSyncEnabled  bool               `msgpack:"start_stop_sync_enabled,omitempty"`
	IsPlaying             bool               `msgpack:"is_playing,omitempty"`
	AvailableCompilers    []string           `msgpack:"available_compilers,omitempty"`
	SyntaxDefinitions     map[string]string  `msgpack:"syntax_definitions,omitempty"`

	LineIdx  int    `msgpack:"line_idx,omitempty"`
	FrameIdx int    `msgpack:"frame_idx,omitempty"`
	Content  string `msgpack:"content,omitempty"`

	LogMessage string `msgpack:"log_message,omitempty"`

	ChatFrom    string `msgpack:"chat_from,omitempty"`
	ChatMessage string `msgpack:"chat_message,omitempty"`

	PeerFrom  string        `msgpack:"peer_from,omitempty"`
	Selection GridSelection `msgpack:"selection,omitempty"`
	PeerLine  int           `msgpack:"peer_line,omitempty"`
	PeerFrame int           `msgpack:"peer_frame,omitempty"`

	GlobalVariables map[string]float64 `msgpack:"global_variables,omitempty"`

	Length int `msgpack:"length,omitempty"`

	Positions []scheduler.FramePosition `msgpack:"positions,omitempty"`
}

// compressionStrategy implements spec.md §4.E's compression policy table.
func (m ServerMessage) compressionStrategy() CompressionStrategy {
	switch m.Kind {
	case ServerPeerGridSelectionUpdate, ServerPeerStartedEditing, ServerPeerStoppedEditing,
		ServerClockState, ServerSceneLength, ServerFramePosition,
		ServerTransportStarted, ServerTransportStopped, ServerGlobalVariablesUpdate:
		return CompressNever
	case ServerHello, ServerSceneValue, ServerSnapshot, ServerDeviceList:
		return CompressAlways
	default:
		return CompressAdaptive
	}
}
