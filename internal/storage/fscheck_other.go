//go:build !linux && !darwin

package storage

// No reliable detection elsewhere; assume local.
func filesystemType(path string) (string, error) {
	return "local", nil
}
