package color

import (
	"fmt"
	"strings"
)

// ColorOrder is the byte order a strip expects on the wire.
type ColorOrder uint8

const (
	OrderRGB ColorOrder = iota
	OrderRBG
	OrderGRB
	OrderGBR
	OrderBRG
	OrderBGR
)

var orderNames = [...]string{"RGB", "RBG", "GRB", "GBR", "BRG", "BGR"}

func (o ColorOrder) String() string {
	if int(o) < len(orderNames) {
		return orderNames[o]
	}
	return fmt.Sprintf("ColorOrder(%d)", uint8(o))
}

// Valid reports whether o is one of the six permutations.
func (o ColorOrder) Valid() bool {
	return int(o) < len(orderNames)
}

// ParseColorOrder parses names like "grb" (case-insensitive).
func ParseColorOrder(s string) (ColorOrder, error) {
	for i, name := range orderNames {
		if strings.EqualFold(s, name) {
			return ColorOrder(i), nil
		}
	}
	return OrderGRB, fmt.Errorf("unknown color order %q", s)
}

// Reorder returns the three channel bytes in wire order.
func (o ColorOrder) Reorder(c RGB) [3]byte {
	switch o {
	case OrderRBG:
		return [3]byte{c.R, c.B, c.G}
	case OrderGRB:
		return [3]byte{c.G, c.R, c.B}
	case OrderGBR:
		return [3]byte{c.G, c.B, c.R}
	case OrderBRG:
		return [3]byte{c.B, c.R, c.G}
	case OrderBGR:
		return [3]byte{c.B, c.G, c.R}
	default:
		return [3]byte{c.R, c.G, c.B}
	}
}

// PackCorrection packs an order and per-channel correction into one word:
// order in the top byte, 0xRRGGBB below it.
func PackCorrection(order ColorOrder, correction RGB) uint32 {
	return uint32(order)<<24 | correction.Uint32()
}

// UnpackCorrection is the inverse of PackCorrection. Unknown orders fall back to GRB.
func UnpackCorrection(v uint32) (ColorOrder, RGB) {
	order := ColorOrder(v >> 24)
	if !order.Valid() {
		order = OrderGRB
	}
	return order, FromUint32(v)
}

// MarshalText encodes the order by name.
func (o ColorOrder) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an order name.
func (o *ColorOrder) UnmarshalText(b []byte) error {
	parsed, err := ParseColorOrder(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
