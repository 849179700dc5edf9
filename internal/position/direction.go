package position

import (
	"fmt"
	"strings"
)

// Direction is the sort direction of a collection kind. Every ordering
// operation on a sequence takes the direction of the collection owning it.
type Direction int

const (
	// Ascending puts the smallest key first.
	Ascending Direction = iota
	// Descending puts the largest key first.
	Descending
)

// ParseDirection accepts "asc"/"ascending" and "desc"/"descending".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown sort direction %q", s)
	}
}

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// Compare orders a and b for this direction: negative when a comes first.
func (d Direction) Compare(a, b Key) int {
	c := a.Cmp(b)
	if d == Descending {
		return -c
	}
	return c
}

// Before reports whether a sorts strictly before b.
func (d Direction) Before(a, b Key) bool {
	return d.Compare(a, b) < 0
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
