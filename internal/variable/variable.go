// Package variable implements the dynamically-typed VariableValue sum type
// and the named-variable addressing scheme (Variable) used by the Bali VM,
// grounded on original_source/core/src/vm/variable.rs.
package variable

import (
	"fmt"
	"math"

	"github.com/schollz/collidertracker/internal/fraction"
)

// Kind tags which alternative of VariableValue is populated.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindDecimal
	KindBool
	KindString
	KindDuration
	KindBlob
	KindMap
	KindVec
	KindProgram
	KindGenerator
)

// TimeSpan mirrors the original's Dur(TimeSpan) alternative: a duration
// expressed either in beats or in absolute micros.
type TimeSpan struct {
	Beats  bool
	Amount fraction.ConcreteFraction
	Micros int64
}

// Generator is a stateful sampler value (LFO state, random-step memory, ...).
// The scheduler/VM own concrete implementations; VariableValue only needs to
// move the interface around and sample it.
type Generator interface {
	Sample(speed float64) float64
}

// Value is the dynamically-typed sum of everything a Bali variable can hold.
type Value struct {
	Kind    Kind
	Integer int64
	Float   float64
	Decimal fraction.ConcreteFraction
	Bool    bool
	Str     string
	Dur     TimeSpan
	Blob    []byte
	Map     map[string]Value
	Vec     []Value
	Program []byte // first-class lambda: a serialized instruction slice
	Gen     Generator
}

// Int builds an integer Value.
func Int(v int64) Value { return Value{Kind: KindInteger, Integer: v} }

// Float64 builds a float Value.
func Float64(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// Dec builds a decimal (exact-rational) Value.
func Dec(v fraction.ConcreteFraction) Value { return Value{Kind: KindDecimal, Decimal: v} }

// Bool builds a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// Str builds a string Value.
func Str(v string) Value { return Value{Kind: KindString, Str: v} }

// DurationBeats builds a Dur Value in beats.
func DurationBeats(beats fraction.ConcreteFraction) Value {
	return Value{Kind: KindDuration, Dur: TimeSpan{Beats: true, Amount: beats}}
}

// DurationMicros builds a Dur Value in absolute micros.
func DurationMicros(micros int64) Value {
	return Value{Kind: KindDuration, Dur: TimeSpan{Micros: micros}}
}

// Zero is the default value used where a variable is read before being set.
var Zero = Int(0)

// AsFloat coerces any Value to a float64 using the universal casts described
// in spec.md §3 (VariableValue arithmetic is defined between any two
// VariableValues via well-defined casts).
func (v Value) AsFloat() float64 {
	switch v.Kind {
	case KindInteger:
		return float64(v.Integer)
	case KindFloat:
		return v.Float
	case KindDecimal:
		return v.Decimal.Float()
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindString:
		return 0
	case KindDuration:
		if v.Dur.Beats {
			return v.Dur.Amount.Float()
		}
		return float64(v.Dur.Micros)
	default:
		return 0
	}
}

// AsInt coerces to an int64, truncating floats.
func (v Value) AsInt() int64 {
	switch v.Kind {
	case KindInteger:
		return v.Integer
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	default:
		return int64(v.AsFloat())
	}
}

// AsBool coerces to a boolean: zero/empty values are false.
func (v Value) AsBool() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInteger:
		return v.Integer != 0
	case KindFloat:
		return v.Float != 0
	case KindString:
		return v.Str != ""
	case KindDecimal, KindDuration:
		return v.AsFloat() != 0
	default:
		return false
	}
}

// widestKind picks the promotion target for binary arithmetic: Decimal >
// Float > Integer; a pair with neither a Decimal nor a Float operand (e.g.
// booleans or durations) is combined as Integer. This mirrors
// the original's pairwise match over (VariableValue, VariableValue) by always
// widening to the richer of the two numeric representations.
func widestKind(a, b Kind) Kind {
	if a == KindDecimal || b == KindDecimal {
		return KindDecimal
	}
	if a == KindFloat || b == KindFloat {
		return KindFloat
	}
	return KindInteger
}

// Add implements the universal arithmetic cast-and-combine rule from
// spec.md §3: any two VariableValues may be added via well-defined casts.
func (v Value) Add(other Value) Value {
	if v.Kind == KindString || other.Kind == KindString {
		return Str(v.asDisplayString() + other.asDisplayString())
	}
	switch widestKind(v.Kind, other.Kind) {
	case KindDecimal:
		return Dec(fraction.FromFloat(v.AsFloat()).Add(fraction.FromFloat(other.AsFloat())))
	case KindFloat:
		return Float64(v.AsFloat() + other.AsFloat())
	default:
		return Int(v.AsInt() + other.AsInt())
	}
}

// Sub mirrors Add for subtraction.
func (v Value) Sub(other Value) Value {
	switch widestKind(v.Kind, other.Kind) {
	case KindDecimal:
		return Dec(fraction.FromFloat(v.AsFloat()).Sub(fraction.FromFloat(other.AsFloat())))
	case KindFloat:
		return Float64(v.AsFloat() - other.AsFloat())
	default:
		return Int(v.AsInt() - other.AsInt())
	}
}

// Mul mirrors Add for multiplication.
func (v Value) Mul(other Value) Value {
	switch widestKind(v.Kind, other.Kind) {
	case KindDecimal:
		return Dec(fraction.FromFloat(v.AsFloat()).Mul(fraction.FromFloat(other.AsFloat())))
	case KindFloat:
		return Float64(v.AsFloat() * other.AsFloat())
	default:
		return Int(v.AsInt() * other.AsInt())
	}
}

// Div mirrors Add for division. Division by zero yields +/-Inf rather than
// panicking, consistent with the VM's "never abort the caller" failure model
// (spec.md §4.C).
func (v Value) Div(other Value) Value {
	of := other.AsFloat()
	if of == 0 {
		if v.AsFloat() < 0 {
			return Float64(math.Inf(-1))
		}
		return Float64(math.Inf(1))
	}
	switch widestKind(v.Kind, other.Kind) {
	case KindDecimal:
		return Dec(fraction.FromFloat(v.AsFloat() / of))
	case KindInteger:
		if other.AsInt() != 0 {
			return Int(v.AsInt() / other.AsInt())
		}
		return Int(0)
	default:
		return Float64(v.AsFloat() / of)
	}
}

func (v Value) asDisplayString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// CloneType returns the default "zero" value of the same Kind, matching the
// original's clone_type used to seed scratch variables without copying data.
func (v Value) CloneType() Value {
	switch v.Kind {
	case KindInteger:
		return Int(0)
	case KindFloat:
		return Float64(0)
	case KindDecimal:
		return Dec(fraction.Zero)
	case KindBool:
		return Bool(false)
	case KindString:
		return Str("")
	case KindDuration:
		return DurationMicros(0)
	case KindBlob:
		return Value{Kind: KindBlob}
	case KindMap:
		return Value{Kind: KindMap, Map: map[string]Value{}}
	case KindVec:
		return Value{Kind: KindVec, Vec: []Value{}}
	default:
		return v
	}
}

// EnvFn names a read-only environment accessor (tempo, time, bounded random).
type EnvFn int

const (
	EnvTempo EnvFn = iota
	EnvTime
	EnvRandomUint
)

// Variable addresses a named slot: a read-only environment accessor, a
// scene-wide global, a per-line or per-frame value, per-execution scratch, a
// literal constant, or one of the two stack tokens. Grounded on
// original_source/core/src/vm/variable.rs's `enum Variable`.
type Variable struct {
	Tag      VarTag
	Name     string
	EnvFn    EnvFn
	Constant Value
}

// VarTag discriminates the Variable sum type. VarNone is the zero value and
// reads as Zero/writes nowhere, so a default-constructed Variable (e.g. an
// unused EventOperands field) is inert rather than accidentally addressing a
// live environment accessor.
type VarTag int

const (
	VarNone VarTag = iota
	VarEnvironment
	VarGlobal
	VarLine
	VarFrame
	VarInstance
	VarConstant
	VarStackBack
	VarStackFront
)

// IsMutable reports whether the variable may be the target of a store.
// Constants, environment reads, and the inert zero value are immutable.
func (v Variable) IsMutable() bool {
	return v.Tag != VarConstant && v.Tag != VarEnvironment && v.Tag != VarNone
}

// Reg builds an Instance-tag scratch register addressed by integer index,
// mirroring Variable::reg in the original.
func Reg(n int) Variable {
	return Variable{Tag: VarInstance, Name: fmt.Sprintf("%d", n)}
}

// Store holds named variables plus a watcher-driven delta log of changed
// keys, read and cleared by DrainDelta.
type Store struct {
	content  map[string]Value
	delta    []string
	watchers int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{content: make(map[string]Value)}
}

// Insert sets key to value, returning the previous value if any.
func (s *Store) Insert(key string, value Value) (Value, bool) {
	if s.watchers > 0 {
		s.delta = append(s.delta, key)
	}
	prev, ok := s.content[key]
	s.content[key] = value
	return prev, ok
}

// Get returns the value for key, if present.
func (s *Store) Get(key string) (Value, bool) {
	v, ok := s.content[key]
	return v, ok
}

// Has reports whether key has been set.
func (s *Store) Has(key string) bool {
	_, ok := s.content[key]
	return ok
}

// GetOrCreate returns the current value for key, inserting def first if
// absent.
func (s *Store) GetOrCreate(key string, def Value) Value {
	if v, ok := s.content[key]; ok {
		return v
	}
	s.Insert(key, def)
	return def
}

// Watch enables delta tracking: while at least one watcher is registered,
// Insert records each key it sets for DrainDelta.
func (s *Store) Watch() { s.watchers++ }

// Unwatch disables delta tracking once the last watcher unsubscribes.
func (s *Store) Unwatch() {
	if s.watchers > 0 {
		s.watchers--
	}
}

// DrainDelta returns and clears the set of keys changed since the last call.
func (s *Store) DrainDelta() []string {
	if len(s.delta) == 0 {
		return nil
	}
	d := s.delta
	s.delta = nil
	return d
}

// Snapshot returns a shallow copy of all stored key/value pairs, suitable for
// a GlobalVariablesUpdate broadcast payload.
func (s *Store) Snapshot() map[string]Value {
	out := make(map[string]Value, len(s.content))
	for k, v := range s.content {
		out[k] = v
	}
	return out
}
