package color

// HSV is an 8-bit hue/saturation/value triple. Hue wraps at 256.
type HSV struct {
	H uint8
	S uint8
	V uint8
}

// sectorStarts are the first hues of the six sectors; 255 wraps back to red.
var sectorStarts = [...]uint8{0, 43, 85, 128, 170, 213, 255}

// ToRGB converts using six 43-step hue sectors and integer math only.
func (h HSV) ToRGB() RGB {
	sector := len(sectorStarts) - 1
	for sector > 0 && h.H < sectorStarts[sector] {
		sector--
	}

	v := uint16(h.V)
	s := uint16(h.S)
	f := uint16(h.H-sectorStarts[sector]) * 6

	p := uint8(v * (255 - s) / 255)
	q := uint8(v * (255 - (s*f)/255) / 255)
	t := uint8(v * (255 - (s*(255-f))/255) / 255)
	vv := uint8(v)

	switch sector {
	case 1:
		return RGB{R: q, G: vv, B: p}
	case 2:
		return RGB{R: p, G: vv, B: t}
	case 3:
		return RGB{R: p, G: q, B: vv}
	case 4:
		return RGB{R: t, G: p, B: vv}
	case 5:
		return RGB{R: vv, G: p, B: q}
	default:
		return RGB{R: vv, G: t, B: p}
	}
}

// Hue returns a fully saturated, full value color for hue.
func Hue(hue uint8) RGB {
	return HSV{H: hue, S: 255, V: 255}.ToRGB()
}
