// Package position implements the decimal sort keys used to order items
// without renumbering their siblings.
package position

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

// Key is an arbitrary-precision decimal sort key. The zero value is 0.
// Keys are immutable once built.
type Key struct {
	d apd.Decimal
}

// Parse reads a finite decimal such as "9.6" or "1E-30".
func Parse(s string) (Key, error) {
	var k Key
	if _, _, err := k.d.SetString(s); err != nil {
		return Key{}, fmt.Errorf("parse position key %q: %w", s, err)
	}
	if k.d.Form != apd.Finite {
		return Key{}, fmt.Errorf("parse position key %q: not a finite number", s)
	}
	k.d.Reduce(&k.d)
	return k, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// FromInt returns the key n.
func FromInt(n int64) Key {
	var k Key
	k.d.SetInt64(n)
	return k
}

// Cmp compares keys numerically: -1, 0 or +1.
func (k Key) Cmp(other Key) int {
	return k.d.Cmp(&other.d)
}

// Equal reports numeric equality ("0.40" equals "0.4").
func (k Key) Equal(other Key) bool {
	return k.Cmp(other) == 0
}

func (k Key) String() string {
	var r apd.Decimal
	r.Reduce(&k.d)
	return r.Text('f')
}

// Float64 is lossy and only meant for display and SQL ordering hints.
func (k Key) Float64() float64 {
	f, _ := k.d.Float64()
	return f
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalJSON writes the key as a JSON number carrying every digit.
func (k Key) MarshalJSON() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (k *Key) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return fmt.Errorf("position key must not be null")
	}
	if len(s) > 0 && s[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("position key: %w", err)
		}
		s = unq
	} else {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("position key: %w", err)
		}
		s = n.String()
	}
	return k.UnmarshalText([]byte(s))
}

// Value stores keys as TEXT so no digits are lost.
func (k Key) Value() (driver.Value, error) {
	return k.String(), nil
}

func (k *Key) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return k.UnmarshalText([]byte(v))
	case []byte:
		return k.UnmarshalText(v)
	case int64:
		*k = FromInt(v)
		return nil
	case float64:
		return k.UnmarshalText([]byte(strconv.FormatFloat(v, 'f', -1, 64)))
	default:
		return fmt.Errorf("scan position key: unsupported type %T", src)
	}
}
