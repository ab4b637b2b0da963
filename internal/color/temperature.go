package color

import "github.com/dokzlo13/stripd/internal/math8"

const (
	MinKelvin uint16 = 1500
	MaxKelvin uint16 = 6500
)

var (
	warmWhite = RGB{R: 255, G: 138, B: 18}
	coolWhite = RGB{R: 205, G: 220, B: 255}
)

// ClampKelvin bounds k to the supported white range.
func ClampKelvin(k uint16) uint16 {
	if k < MinKelvin {
		return MinKelvin
	}
	if k > MaxKelvin {
		return MaxKelvin
	}
	return k
}

// FromTemperature maps a Kelvin value onto a line between a warm and a cool white.
func FromTemperature(k uint16) RGB {
	k = ClampKelvin(k)
	if k == MaxKelvin {
		return coolWhite
	}
	amount := uint32(k-MinKelvin) * 255 / uint32(MaxKelvin-MinKelvin)
	return Blend(warmWhite, coolWhite, uint8(amount))
}

// KelvinToMireds converts for Home Assistant, which speaks mireds.
func KelvinToMireds(k uint16) uint16 {
	if k == 0 {
		return 0
	}
	return uint16(1_000_000 / uint32(k))
}

// MiredsToKelvin is the inverse of KelvinToMireds, clamped to the supported range.
func MiredsToKelvin(m uint16) uint16 {
	if m == 0 {
		return MaxKelvin
	}
	return ClampKelvin(uint16(min(1_000_000/uint32(m), 65535)))
}

// KelvinAt interpolates a temperature between the range bounds, used by scripts.
func KelvinAt(amount uint8) uint16 {
	return math8.Lerp16(MinKelvin, MaxKelvin, amount)
}
