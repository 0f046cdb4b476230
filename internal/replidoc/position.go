package replidoc

// Cell ordering uses Logoot-style position identifiers: a position is a
// path of (digit, actor) pairs ordered lexicographically. Concurrent
// insertions at the same place allocate distinct positions, so both
// survive the merge in an order every replica computes identically.

const (
	minDigit uint64 = 0
	maxDigit uint64 = 1 << 32
)

type Ident struct {
	Digit uint64 `json:"d"`
	Actor string `json:"a"`
}

type Position []Ident

func compareIdent(a, b Ident) int {
	switch {
	case a.Digit < b.Digit:
		return -1
	case a.Digit > b.Digit:
		return 1
	case a.Actor < b.Actor:
		return -1
	case a.Actor > b.Actor:
		return 1
	default:
		return 0
	}
}

// ComparePositions orders positions lexicographically; a strict prefix
// sorts before its extensions.
func ComparePositions(a, b Position) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareIdent(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Between allocates a fresh position strictly between left and right for
// the given actor. Nil boundaries stand for the start and end of the
// sequence. Allocation is deterministic per actor.
func Between(left, right Position, actor string) Position {
	prefix := Position{}
	rightBounded := true
	for i := 0; ; i++ {
		lh := Ident{Digit: minDigit}
		if i < len(left) {
			lh = left[i]
		}
		rh := Ident{Digit: maxDigit}
		if rightBounded && i < len(right) {
			rh = right[i]
		}

		if compareIdent(lh, rh) == 0 {
			prefix = append(prefix, lh)
			continue
		}
		if rh.Digit > lh.Digit+1 {
			mid := lh.Digit + (rh.Digit-lh.Digit)/2
			return append(prefix, Ident{Digit: mid, Actor: actor})
		}
		// No room at this depth: allocate underneath the left position,
		// where the right boundary no longer constrains deeper digits.
		prefix = append(prefix, lh)
		rightBounded = false
	}
}

func (p Position) clone() Position {
	out := make(Position, len(p))
	copy(out, p)
	return out
}
