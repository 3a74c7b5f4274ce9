//go:build !linux

package transport

// Listen is only implemented on linux.
func Listen(address string) (Transport, error) {
	return nil, ErrUnsupported
}
