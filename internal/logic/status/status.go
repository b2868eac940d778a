// Package status defines the classification a visitor picks for a capture
// and the cyclic order used to step through the choices.
package status

import (
	"fmt"
	"strings"
)

// Classification is the status selected before a capture is confirmed.
// It drives which playback variant is chosen downstream.
type Classification int

const (
	Crazy Classification = iota
	Attacker
	Blocker
	Healer
)

var names = [...]string{
	Crazy:    "Crazy",
	Attacker: "Attacker",
	Blocker:  "Blocker",
	Healer:   "Healer",
}

// All returns every classification in declaration order.
func All() []Classification {
	return []Classification{Crazy, Attacker, Blocker, Healer}
}

func (c Classification) String() string {
	if c.Valid() {
		return names[c]
	}
	return fmt.Sprintf("Classification(%d)", int(c))
}

// Valid reports whether c is one of the declared classifications.
func (c Classification) Valid() bool {
	return c >= Crazy && int(c) < len(names)
}

// MarshalText implements encoding.TextMarshaler.
func (c Classification) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid classification %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Classification) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Parse resolves a classification name, case-insensitively.
func Parse(name string) (Classification, error) {
	for i, n := range names {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Classification(i), nil
		}
	}
	return 0, fmt.Errorf("unknown classification %q", name)
}

// Direction selects forward or backward navigation in an Order.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Order is an explicit cyclic ordering of classifications, independent of
// declaration order.
type Order struct {
	items []Classification
	pos   map[Classification]int
}

// DefaultOrder returns the declaration order.
func DefaultOrder() Order {
	o, _ := NewOrder(All())
	return o
}

// NewOrder builds an ordering. Every entry must be a valid classification and
// appear at most once.
func NewOrder(items []Classification) (Order, error) {
	if len(items) == 0 {
		return Order{}, fmt.Errorf("classification order is empty")
	}
	pos := make(map[Classification]int, len(items))
	for i, c := range items {
		if !c.Valid() {
			return Order{}, fmt.Errorf("classification order: invalid entry %d", int(c))
		}
		if _, dup := pos[c]; dup {
			return Order{}, fmt.Errorf("classification order: %s listed twice", c)
		}
		pos[c] = i
	}
	return Order{items: append([]Classification(nil), items...), pos: pos}, nil
}

// ParseOrder builds an ordering from classification names.
func ParseOrder(names []string) (Order, error) {
	items := make([]Classification, 0, len(names))
	for _, n := range names {
		c, err := Parse(n)
		if err != nil {
			return Order{}, err
		}
		items = append(items, c)
	}
	return NewOrder(items)
}

// Len returns the number of classifications in the cycle.
func (o Order) Len() int { return len(o.items) }

// Items returns a copy of the ordering.
func (o Order) Items() []Classification {
	return append([]Classification(nil), o.items...)
}

// Contains reports whether c takes part in the cycle.
func (o Order) Contains(c Classification) bool {
	_, ok := o.pos[c]
	return ok
}

// Step moves one position from c in direction d, wrapping around.
// A classification outside the cycle steps to the first entry.
func (o Order) Step(c Classification, d Direction) Classification {
	n := len(o.items)
	if n == 0 {
		return c
	}
	i, ok := o.pos[c]
	if !ok {
		return o.items[0]
	}
	if d == Backward {
		return o.items[(i-1+n)%n]
	}
	return o.items[(i+1)%n]
}

// Next is Step(c, Forward).
func (o Order) Next(c Classification) Classification { return o.Step(c, Forward) }

// Previous is Step(c, Backward).
func (o Order) Previous(c Classification) Classification { return o.Step(c, Backward) }
