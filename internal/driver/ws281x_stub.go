//go:build !ws281x

package driver

func NewWS281x(Config) (Output, error) {
	return nil, ErrUnsupported
}
