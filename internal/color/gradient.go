package color

// FillGradient blends linearly from `from` at dst[0] to `to` at the last pixel.
func FillGradient(dst []RGB, from, to RGB) {
	n := len(dst)
	switch n {
	case 0:
		return
	case 1:
		dst[0] = from
		return
	}
	last := n - 1
	for i := 0; i < last; i++ {
		dst[i] = Blend(from, to, uint8(i*255/last))
	}
	dst[last] = to
}

// FillGradient3 spreads a three-point gradient a -> b -> c over dst.
func FillGradient3(dst []RGB, a, b, c RGB) {
	n := len(dst)
	if n < 3 {
		FillGradient(dst, a, c)
		return
	}
	mid := (n - 1) / 2
	FillGradient(dst[:mid+1], a, b)
	FillGradient(dst[mid:], b, c)
}

// MirrorHalf copies the first half of leds onto the second half in reverse,
// so the strip is symmetric around its center.
func MirrorHalf(leds []RGB) {
	n := len(leds)
	if n == 0 {
		return
	}
	center := n / 2
	if n%2 != 0 {
		center++
	}
	for i := 0; i < center; i++ {
		leds[n-1-i] = leds[i]
	}
}
