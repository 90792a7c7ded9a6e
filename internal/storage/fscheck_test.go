package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(kind string) func(string) (string, error) {
	return func(string) (string, error) { return kind, nil }
}

func TestCheckLocalAcceptsLocalDisk(t *testing.T) {
	t.Parallel()
	assert.NoError(t, checkLocal(filepath.Join(t.TempDir(), "history.db"), fixedFS("ext4")))
}

func TestCheckLocalRejectsNetworkMount(t *testing.T) {
	t.Parallel()

	err := checkLocal(filepath.Join(t.TempDir(), "history.db"), fixedFS("NFS"))
	require.ErrorIs(t, err, ErrRemoteFilesystem)
	assert.Contains(t, err.Error(), "NFS")
}

func TestCheckLocalInspectsNearestExistingParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocal(filepath.Join(root, "a", "b", "conductor.lock"), func(p string) (string, error) {
		inspected = p
		return "apfs", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestCheckLocalDetectionErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.NoError(t, checkLocal(dir, func(string) (string, error) { return "", errUnknownFilesystem }))

	boom := errors.New("statfs failed")
	assert.ErrorIs(t, checkLocal(dir, func(string) (string, error) { return "", boom }), boom)
	assert.Error(t, checkLocal("", fixedFS("ext4")))
}

func TestIsRemote(t *testing.T) {
	t.Parallel()

	assert.True(t, isRemote("smb2"))
	assert.True(t, isRemote(" CIFS "))
	assert.False(t, isRemote("ext4"))
	assert.False(t, isRemote("0x6969"))
}
