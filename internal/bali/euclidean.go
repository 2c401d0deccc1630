package bali

// GetEuclidean computes the Bjorklund-style Euclidean rhythm of beats onsets
// spread across steps steps, using the iterative "balanced merge" described
// in spec.md §4.C, then applies the LoopContext transform and converts to
// onset time-point indices. Grounded on bali_ast.rs's get_euclidean/
// is_simplifiable/as_time_points.
func GetEuclidean(beats, steps int64, ctx LoopContext) []int64 {
	if beats <= 0 || steps <= 0 {
		return nil
	}
	if beats > steps {
		beats = steps
	}

	seqs := make([][]int64, 0, beats)
	for i := int64(0); i < beats; i++ {
		seqs = append(seqs, []int64{1})
	}

	n := int64(len(seqs))
	for j := int64(0); j < steps-beats; j++ {
		idx := j % n
		seqs[idx] = append(seqs[idx], 0)
	}

	for isSimplifiable(seqs) {
		inPos := len(seqs) - 1
		outPos := 0
		last := len(seqs[inPos])
		for len(seqs[inPos]) == last {
			elem := seqs[inPos]
			seqs = seqs[:inPos]
			seqs[outPos] = append(seqs[outPos], elem...)
			inPos--
			outPos++
			if outPos >= len(seqs) || len(seqs[outPos]) == last {
				outPos = 0
			}
			if inPos < 0 {
				break
			}
		}
	}

	var bits []int64
	for _, g := range seqs {
		bits = append(bits, g...)
	}
	return asTimePoints(bits, ctx)
}

func isSimplifiable(seqs [][]int64) bool {
	if len(seqs) < 2 {
		return false
	}
	last := len(seqs[len(seqs)-1])
	secondLast := len(seqs[len(seqs)-2])
	first := len(seqs[0])
	return last == secondLast && last != first
}

// GetBinary reproduces bali_ast.rs's get_binary: take the low 7 bits of it
// (MSB first), repeat modulo 7 to fill steps, transform via ctx, and return
// onset indices.
func GetBinary(it, steps int64, ctx LoopContext) []int64 {
	if steps <= 0 {
		return nil
	}
	bits := make([]int64, 7)
	v := it
	for i := 0; i < 7; i++ {
		bits[i] = v % 2
		v /= 2
	}
	// reverse in place (MSB first)
	for i, j := 0, len(bits)-1; i < j; i, j = i+1, j-1 {
		bits[i], bits[j] = bits[j], bits[i]
	}

	seq := make([]int64, steps)
	for i := int64(0); i < steps; i++ {
		seq[i] = bits[i%7]
	}
	return asTimePoints(seq, ctx)
}

func asTimePoints(seq []int64, ctx LoopContext) []int64 {
	seq = append([]int64(nil), seq...)
	if ctx.Reverse {
		for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
			seq[i], seq[j] = seq[j], seq[i]
		}
	}
	if ctx.Negate {
		for i := range seq {
			seq[i] = 1 - seq[i]
		}
	}
	if ctx.Shift != nil && len(seq) > 0 {
		shift := int(((*ctx.Shift)%int64(len(seq)) + int64(len(seq))) % int64(len(seq)))
		seq = rotateRight(seq, shift)
	}

	var res []int64
	for i, v := range seq {
		if v == 1 {
			res = append(res, int64(i))
		}
	}
	return res
}

func rotateRight(s []int64, n int) []int64 {
	if len(s) == 0 {
		return s
	}
	n = n % len(s)
	if n == 0 {
		return s
	}
	out := make([]int64, len(s))
	copy(out, s[len(s)-n:])
	copy(out[n:], s[:len(s)-n])
	return out
}
