// Package math8 provides 8-bit fixed-point helpers used by the render path.
package math8

import "time"

// Scale8 scales v by scale/256.
func Scale8(v, scale uint8) uint8 {
	return uint8((uint16(v) * uint16(scale)) >> 8)
}

// Blend8 blends a towards b by amountOfB/256.
func Blend8(a, b, amountOfB uint8) uint8 {
	da := int32(b) - int32(a)
	return uint8(int32(a) + ((da * int32(amountOfB)) >> 8))
}

// Progress8 maps elapsed/duration onto 0..255.
// A zero duration yields 0 and elapsed >= duration yields 255.
func Progress8(elapsed, duration time.Duration) uint8 {
	if duration <= 0 {
		return 0
	}
	if elapsed >= duration {
		return 255
	}
	if elapsed <= 0 {
		return 0
	}
	return uint8(int64(elapsed) * 255 / int64(duration))
}

// Lerp16 interpolates between a and b by amount/255.
func Lerp16(a, b uint16, amount uint8) uint16 {
	if amount == 255 {
		return b
	}
	return uint16(int32(a) + (int32(b)-int32(a))*int32(amount)/255)
}
