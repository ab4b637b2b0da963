// Package color holds the pixel type and the integer color helpers used by effects and the output pipeline.
package color

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dokzlo13/stripd/internal/math8"
)

// RGB is a single 24-bit pixel.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

var (
	Black = RGB{}
	White = RGB{R: 255, G: 255, B: 255}
)

// FromUint32 unpacks 0xRRGGBB. The top byte is ignored.
func FromUint32(v uint32) RGB {
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Uint32 packs the color as 0xRRGGBB.
func (c RGB) Uint32() uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

// ParseHex parses "#rrggbb". The leading hash is optional.
func ParseHex(s string) (RGB, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	return FromUint32(uint32(v)), nil
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Blend mixes a towards b by amountOfB/256 per channel.
func Blend(a, b RGB, amountOfB uint8) RGB {
	return RGB{
		R: math8.Blend8(a.R, b.R, amountOfB),
		G: math8.Blend8(a.G, b.G, amountOfB),
		B: math8.Blend8(a.B, b.B, amountOfB),
	}
}

// Scale multiplies every channel by scale/256. A scale of 255 leaves the color untouched.
func Scale(c RGB, scale uint8) RGB {
	if scale == 255 {
		return c
	}
	return RGB{
		R: math8.Scale8(c.R, scale),
		G: math8.Scale8(c.G, scale),
		B: math8.Scale8(c.B, scale),
	}
}

// Fill sets every pixel of dst to c.
func Fill(dst []RGB, c RGB) {
	for i := range dst {
		dst[i] = c
	}
}
