package bali

import "testing"

func TestEuclideanBasicOnsets(t *testing.T) {
	onsets := GetEuclidean(3, 8, LoopContext{})
	want := []int64{0, 3, 6}
	assertInt64Slice(t, onsets, want)
}

func TestEuclideanReverse(t *testing.T) {
	onsets := GetEuclidean(3, 8, LoopContext{Reverse: true})
	want := []int64{1, 4, 7}
	assertInt64Slice(t, onsets, want)
}

func TestEuclideanShift(t *testing.T) {
	shift := int64(2)
	onsets := GetEuclidean(3, 8, LoopContext{Shift: &shift})
	want := []int64{0, 2, 5}
	assertInt64Slice(t, onsets, want)
}

func TestEuclideanBeatsExceedsSteps(t *testing.T) {
	onsets := GetEuclidean(20, 4, LoopContext{})
	if len(onsets) != 4 {
		t.Fatalf("expected clamp to steps, got %v", onsets)
	}
}

func TestEuclideanZeroIsEmpty(t *testing.T) {
	if onsets := GetEuclidean(0, 8, LoopContext{}); onsets != nil {
		t.Fatalf("expected nil, got %v", onsets)
	}
}

func TestBinaryPatternRepeatsEvery7Bits(t *testing.T) {
	// 0b1000001 = 65 -> MSB-first bits 1,0,0,0,0,0,1
	onsets := GetBinary(65, 14, LoopContext{})
	want := []int64{0, 6, 7, 13}
	assertInt64Slice(t, onsets, want)
}

func TestAsTimePointsNegate(t *testing.T) {
	onsets := asTimePoints([]int64{1, 0, 1, 0}, LoopContext{Negate: true})
	want := []int64{1, 3}
	assertInt64Slice(t, onsets, want)
}

func assertInt64Slice(t *testing.T, got, want []int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("mismatch at %d: got %v want %v", i, got, want)
		}
	}
}
