//go:build !darwin

package device

// ensureMicAccess is a no-op on platforms without an authorization gate;
// failures surface from the stream open instead.
func ensureMicAccess() error {
	return nil
}
