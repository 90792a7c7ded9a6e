package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrRemoteFilesystem is returned for paths on network mounts, where SQLite
// locking and flock(2) are unreliable.
var ErrRemoteFilesystem = errors.New("path is on a network filesystem")

var errUnknownFilesystem = errors.New("filesystem type unknown on this platform")

var remoteFilesystems = []string{"afpfs", "cifs", "fuse", "nfs", "nfs4", "smbfs", "smb2", "webdav"}

// CheckLocal reports ErrRemoteFilesystem when path, or its nearest existing
// parent, lives on a network mount. Platforms without detection pass.
func CheckLocal(path string) error {
	return checkLocal(path, filesystemType)
}

func checkLocal(path string, fsType func(string) (string, error)) error {
	if path == "" {
		return errors.New("path is empty")
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return err
	}

	kind, err := fsType(existing)
	if errors.Is(err, errUnknownFilesystem) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %s: %w", existing, err)
	}
	if isRemote(kind) {
		return fmt.Errorf("%s (%s): %w", path, kind, ErrRemoteFilesystem)
	}
	return nil
}

// nearestExisting walks up from path until it finds something that exists,
// so a database in a directory not yet created is checked against its parent.
func nearestExisting(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		p = parent
	}
}

func isRemote(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	for _, r := range remoteFilesystems {
		if kind == r {
			return true
		}
	}
	return false
}
