package server

import (
	"compress/gzip"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/schollz/collidertracker/internal/scene"
)

var snapshotJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is spec.md §6's on-disk save/load payload: "a complete
// persistable state for save/load", serialized via msgpack (the wire
// format, internal/server/wire.go) or, for files, gzipped JSON — the
// documented alternate encoding.
type Snapshot struct {
	Scene   *scene.Scene `json:"scene" msgpack:"scene"`
	Tempo   float64      `json:"tempo" msgpack:"tempo"`
	Beat    float64      `json:"beat" msgpack:"beat"`
	Micros  int64        `json:"micros" msgpack:"micros"`
	Quantum float64      `json:"quantum" msgpack:"quantum"`
}

// CurrentSnapshot reads the server's live scene image and clock into a
// Snapshot, the same four clock fields ClientGetClock/ClientGetSnapshot
// report over the wire.
func (s *State) CurrentSnapshot() Snapshot {
	return Snapshot{
		Scene:   s.sceneSnapshot(),
		Tempo:   s.Clock.Tempo(),
		Beat:    s.Clock.Beat(),
		Micros:  s.Clock.Micros(),
		Quantum: s.Clock.Quantum(),
	}
}

// SaveSnapshotFile writes snap as gzipped JSON, grounded on the teacher's
// internal/storage.DoSave gzip+jsoniter save format.
func SaveSnapshotFile(path string, snap Snapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer file.Close()

	gzw := gzip.NewWriter(file)
	defer gzw.Close()

	enc := snapshotJSON.NewEncoder(gzw)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return gzw.Close()
}

// LoadSnapshotFile reads a Snapshot previously written by SaveSnapshotFile.
func LoadSnapshotFile(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return Snapshot{}, fmt.Errorf("gzip reader: %w", err)
	}
	defer gzr.Close()

	var snap Snapshot
	if err := snapshotJSON.NewDecoder(gzr).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
