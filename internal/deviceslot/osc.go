package deviceslot

import (
	"log"
	"sort"

	"github.com/hypebeast/go-osc/osc"

	"github.com/schollz/collidertracker/internal/bali"
	"github.com/schollz/collidertracker/internal/variable"
)

// OSCOutput sends resolved Osc/Dirt events to a single OSC target, grounded
// on the teacher's osc.NewClient/osc.NewMessage/client.Send usage in
// internal/model's sendOSCMessage.
type OSCOutput struct {
	client      *osc.Client
	dirtAddress string // address used for Dirt events, e.g. "/dirt/play"
}

// OpenOSCOutput builds an OSC client targeting host:port. dirtAddress is the
// fixed address Dirt events are sent to; pass "" to use the SuperDirt
// convention "/dirt/play".
func OpenOSCOutput(host string, port int, dirtAddress string) *OSCOutput {
	if dirtAddress == "" {
		dirtAddress = "/dirt/play"
	}
	log.Printf("[DEVICESLOT] opened OSC output %s:%d (dirt address %s)", host, port, dirtAddress)
	return &OSCOutput{client: osc.NewClient(host, port), dirtAddress: dirtAddress}
}

func appendValue(msg *osc.Message, v variable.Value) {
	switch v.Kind {
	case variable.KindInteger:
		msg.Append(int32(v.Integer))
	case variable.KindFloat:
		msg.Append(float32(v.Float))
	case variable.KindDecimal:
		msg.Append(float32(v.Decimal.Float()))
	case variable.KindBool:
		msg.Append(v.Bool)
	case variable.KindString:
		msg.Append(v.Str)
	default:
		msg.Append(float32(v.AsFloat()))
	}
}

// Dispatch realizes a resolved Event against this OSC target. Dirt events
// flatten their key/value map into alternating (key, value) arguments after
// the address, the convention SuperDirt expects; keys are sorted so repeated
// sends of the same param set are byte-for-byte reproducible.
func (o *OSCOutput) Dispatch(ev bali.Event) {
	switch ev.Kind {
	case bali.EventOsc:
		msg := osc.NewMessage(ev.OscAddress)
		for _, a := range ev.OscArgs {
			appendValue(msg, a)
		}
		o.send(msg)
	case bali.EventDirt:
		msg := osc.NewMessage(o.dirtAddress)
		keys := make([]string, 0, len(ev.Dirt))
		for k := range ev.Dirt {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg.Append(k)
			appendValue(msg, ev.Dirt[k])
		}
		o.send(msg)
	case bali.EventNop:
	default:
		log.Printf("[DEVICESLOT] OSC output cannot dispatch event kind %d, dropping", ev.Kind)
	}
}

func (o *OSCOutput) send(msg *osc.Message) {
	if err := o.client.Send(msg); err != nil {
		log.Printf("[DEVICESLOT] OSC send error: %v", err)
	}
}
