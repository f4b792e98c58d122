//go:build darwin

package storage

import (
	"bytes"
	"fmt"
	"syscall"
)

func filesystemType(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	name := stat.Fstypename[:]
	if i := bytes.IndexByte(asBytes(name), 0); i >= 0 {
		return string(asBytes(name)[:i]), nil
	}
	return string(asBytes(name)), nil
}

func asBytes(in []int8) []byte {
	out := make([]byte, len(in))
	for i, c := range in {
		out[i] = byte(c)
	}
	return out
}
