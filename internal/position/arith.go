package position

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// ErrInvalidNeighborOrder is returned when Midpoint is asked to bisect
// neighbours that are not strictly ordered.
var ErrInvalidNeighborOrder = errors.New("invalid neighbor order")

var (
	// DefaultOffset is the distance EdgeInsert keeps from the boundary key.
	DefaultOffset = MustParse("0.4")
	// Initial is the key given to the first item of an empty sequence.
	Initial = MustParse("0.4")

	half = apd.New(5, -1)
)

// Side selects the boundary EdgeInsert extends.
type Side int

const (
	Front Side = iota
	Back
)

func (s Side) String() string {
	if s == Back {
		return "back"
	}
	return "front"
}

// Midpoint returns the key halfway between a and b. a must sort strictly
// before b in dir. The result is exact, so repeated bisection between the
// same neighbours never collapses onto either of them.
func Midpoint(dir Direction, a, b Key) (Key, error) {
	if !dir.Before(a, b) {
		return Key{}, fmt.Errorf("midpoint(%s, %s) %s: %w", a, b, dir, ErrInvalidNeighborOrder)
	}
	ctx := exactContext(&a.d, &b.d, 2)
	var sum, mid apd.Decimal
	if _, err := ctx.Add(&sum, &a.d, &b.d); err != nil {
		return Key{}, fmt.Errorf("midpoint sum: %w", err)
	}
	if _, err := ctx.Mul(&mid, &sum, half); err != nil {
		return Key{}, fmt.Errorf("midpoint halve: %w", err)
	}
	var k Key
	k.d.Reduce(&mid)
	return k, nil
}

// EdgeInsert returns a key DefaultOffset away from neighbor on the given
// side, for inserts where the boundary has no second neighbour to bisect.
func EdgeInsert(dir Direction, neighbor Key, side Side) Key {
	return Offset(dir, neighbor, side, DefaultOffset)
}

// Offset is EdgeInsert with an explicit distance.
func Offset(dir Direction, neighbor Key, side Side, distance Key) Key {
	// Front in ascending order means a smaller key.
	subtract := (side == Front) == (dir == Ascending)
	ctx := exactContext(&neighbor.d, &distance.d, 1)
	var out apd.Decimal
	var err error
	if subtract {
		_, err = ctx.Sub(&out, &neighbor.d, &distance.d)
	} else {
		_, err = ctx.Add(&out, &neighbor.d, &distance.d)
	}
	if err != nil {
		// The context is sized for the operands; failing here is a bug.
		panic(fmt.Sprintf("position offset %s %s %s: %v", neighbor, side, distance, err))
	}
	var k Key
	k.d.Reduce(&out)
	return k
}

// Between picks a key for a slot bounded by prev and next, either of which
// may be absent.
func Between(dir Direction, prev, next *Key) (Key, error) {
	switch {
	case prev == nil && next == nil:
		return Initial, nil
	case prev == nil:
		return EdgeInsert(dir, *next, Front), nil
	case next == nil:
		return EdgeInsert(dir, *prev, Back), nil
	default:
		return Midpoint(dir, *prev, *next)
	}
}

// exactContext returns a context wide enough that adding x and y and then
// multiplying by a one-digit factor never rounds. Inexact results trap.
func exactContext(x, y *apd.Decimal, extra int64) *apd.Context {
	top := max(x.NumDigits()+int64(x.Exponent), y.NumDigits()+int64(y.Exponent))
	low := min(int64(x.Exponent), int64(y.Exponent))
	precision := top - low + 1 + extra
	if precision < 1 {
		precision = 1
	}
	ctx := apd.BaseContext.WithPrecision(uint32(precision))
	ctx.Traps |= apd.Inexact
	return ctx
}
