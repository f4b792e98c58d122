package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckLocalFilesystem rejects database paths on known network filesystems.
// SQLite file locking is unreliable over NFS and SMB.
func CheckLocalFilesystem(path string) error {
	inspect, err := nearestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := filesystemType(inspect)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspect, err)
	}

	switch strings.ToLower(strings.TrimSpace(fsType)) {
	case "nfs", "cifs", "smbfs", "smb2", "afpfs", "webdav":
		return fmt.Errorf("database path %q is on network filesystem %q; "+
			"point history.path at local disk", path, fsType)
	}
	return nil
}

// nearestExisting walks up until it finds a path component that exists, so a
// not-yet-created data dir can still be checked.
func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for candidate := abs; ; candidate = filepath.Dir(candidate) {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		if filepath.Dir(candidate) == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
	}
}
