// Command bubocore-server runs the collaborative scheduler and TCP server
// described in spec.md §4, wiring internal/clock, internal/deviceslot,
// internal/scheduler and internal/server together the way main.go wires the
// tracker's model, storage and supercollider packages together.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schollz/collidertracker/internal/clock"
	"github.com/schollz/collidertracker/internal/deviceslot"
	"github.com/schollz/collidertracker/internal/scheduler"
	"github.com/schollz/collidertracker/internal/server"
)

var (
	listenIP     string
	listenPort   int
	oscPort      int
	oscHost      string
	dirtAddr     string
	midiOutName  string
	tempo        float64
	quantum      float64
	sceneLength  int
	debugLog     string
	snapshotPath string
)

func main() {
	root := &cobra.Command{
		Use:   "bubocore-server",
		Short: "Collaborative, network-synchronized live-coding performance server",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and collaborative TCP server",
		RunE:  runServe,
	}
	flags := serveCmd.Flags()
	flags.StringVar(&listenIP, "ip", "0.0.0.0", "IP address to listen on")
	flags.IntVar(&listenPort, "port", 5959, "TCP port to listen on")
	flags.IntVar(&oscPort, "osc-port", 57120, "default OSC output port for the pre-bound slot 0 device")
	flags.StringVar(&oscHost, "osc-host", "127.0.0.1", "default OSC output host for the pre-bound slot 0 device")
	flags.StringVar(&dirtAddr, "dirt-address", "", "OSC address Dirt events are sent under (defaults to /dirt/play)")
	flags.StringVar(&midiOutName, "midi-out", "", "substring of a MIDI output port name to auto-connect on slot 1; empty disables")
	flags.Float64Var(&tempo, "tempo", 120, "initial tempo in BPM")
	flags.Float64Var(&quantum, "quantum", 4, "Link session quantum in beats")
	flags.IntVar(&sceneLength, "scene-length", 4, "initial scene loop length in beats")
	flags.StringVar(&debugLog, "debug", "", "if set, write debug logs to this file; empty keeps logging on stderr")
	flags.StringVar(&snapshotPath, "snapshot-path", "", "gzipped-JSON snapshot file to load at startup and save at shutdown; empty disables")

	snapshotCmd := &cobra.Command{Use: "snapshot", Short: "Inspect saved snapshots"}
	snapshotCmd.AddCommand(&cobra.Command{
		Use:   "inspect <path>",
		Short: "Print a saved snapshot's scene/tempo/beat/quantum summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotInspect,
	})

	root.AddCommand(serveCmd, snapshotCmd)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runSnapshotInspect(cmd *cobra.Command, args []string) error {
	snap, err := server.LoadSnapshotFile(args[0])
	if err != nil {
		return err
	}
	lines := 0
	if snap.Scene != nil {
		lines = len(snap.Scene.Lines)
	}
	fmt.Printf("tempo=%.2f beat=%.3f micros=%d quantum=%.2f lines=%d\n", snap.Tempo, snap.Beat, snap.Micros, snap.Quantum, lines)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if debugLog != "" {
		f, err := os.Create(debugLog)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	linkClock := clock.NewLinkAdapter(tempo, quantum)

	devices := deviceslot.NewMap()
	if dirtAddr == "" {
		dirtAddr = "/dirt/play"
	}
	devices.Bind(0, deviceslot.OpenOSCOutput(oscHost, oscPort, dirtAddr))
	if midiOutName != "" {
		out, err := deviceslot.OpenMIDIOutput(midiOutName)
		if err != nil {
			log.Printf("[MAIN] could not auto-connect MIDI output %q: %v", midiOutName, err)
		} else {
			devices.Bind(1, out)
		}
	}

	messages := make(chan scheduler.Message, 64)
	notify := make(chan scheduler.Notification, 64)

	sched := scheduler.New(linkClock, devices, messages, notify, nil, nil)
	if sceneLength > 0 {
		sched.Scene.Length = sceneLength
	}
	go sched.Run()

	state := server.NewState(linkClock, devices, messages, notify, sceneLength)
	state.AvailableCompilers = []string{"bali"}
	state.SyntaxDefinitions = map[string]string{}

	if snapshotPath != "" {
		if snap, err := server.LoadSnapshotFile(snapshotPath); err != nil {
			log.Printf("[MAIN] no snapshot loaded from %s: %v", snapshotPath, err)
		} else {
			messages <- scheduler.Message{Kind: scheduler.MsgSetScene, Scene: snap.Scene}
			messages <- scheduler.Message{Kind: scheduler.MsgSetTempo, Tempo: snap.Tempo}
			log.Printf("[MAIN] loaded snapshot from %s", snapshotPath)
		}
	}

	srv := &server.Server{IP: listenIP, Port: listenPort}

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigc
		log.Printf("[MAIN] shutting down")
		if snapshotPath != "" {
			if err := server.SaveSnapshotFile(snapshotPath, state.CurrentSnapshot()); err != nil {
				log.Printf("[MAIN] failed to save snapshot to %s: %v", snapshotPath, err)
			} else {
				log.Printf("[MAIN] saved snapshot to %s", snapshotPath)
			}
		}
		cancel()
		close(messages)
	}()

	log.Printf("[MAIN] tempo=%.1f quantum=%.1f scene-length=%d", tempo, quantum, sceneLength)
	return srv.ListenAndServe(ctx, state)
}
