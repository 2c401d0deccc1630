package bali

import "math"

// sampleLFO evaluates one of the VM's LFO sampler ops (spec.md §3: "LFO
// samplers (sine/saw/triangle/inverted-saw/random-step) keyed by a 'speed'
// variable") at the current beat position. All samplers return a value in
// [-1, 1]; RandomStep is deterministic per integer step so repeated reads
// within the same step agree.
func sampleLFO(op Op, speed float64, nowBeats float64) float64 {
	phase := math.Mod(nowBeats*speed, 1.0)
	if phase < 0 {
		phase += 1.0
	}
	switch op {
	case OpLFOSine:
		return math.Sin(2 * math.Pi * phase)
	case OpLFOSaw:
		return 2*phase - 1
	case OpLFOInvSaw:
		return 1 - 2*phase
	case OpLFOTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	case OpLFORandomStep:
		step := int64(nowBeats * speed)
		return 2*pseudoRandomUnit(step) - 1
	default:
		return 0
	}
}

// pseudoRandomUnit is a tiny deterministic hash -> [0,1) generator so
// RandomStep is reproducible across evaluations of the same step without
// needing external state threaded through the VM.
func pseudoRandomUnit(step int64) float64 {
	x := uint64(step)*6364136223846793005 + 1442695040888963407
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return float64(x%1_000_000) / 1_000_000.0
}
