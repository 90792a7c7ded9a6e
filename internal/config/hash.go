package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumsFile = ".checksums"

// ChecksumManifest is the .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"` // file basename -> BLAKE3 hex
}

// ComputeBlake3Hash returns the BLAKE3 hex digest of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint digests every source file of cfg in order, so two processes
// started from byte-identical configuration report the same value.
func Fingerprint(cfg *Config) (string, error) {
	h := blake3.New()
	for _, path := range cfg.SourceFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		_, _ = h.Write([]byte(filepath.Base(path)))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Lock writes a .checksums manifest next to each directory of source files.
// It returns the manifest paths written.
func Lock(cfg *Config) ([]string, error) {
	byDir := groupByDir(cfg.SourceFiles)
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var written []string
	for _, dir := range dirs {
		manifest := ChecksumManifest{
			Version:     1,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			Hashes:      make(map[string]string),
		}
		for _, path := range byDir[dir] {
			hash, err := ComputeBlake3Hash(path)
			if err != nil {
				return written, fmt.Errorf("failed to hash %s: %w", path, err)
			}
			manifest.Hashes[filepath.Base(path)] = hash
		}

		data, err := yaml.Marshal(manifest)
		if err != nil {
			return written, fmt.Errorf("failed to marshal checksums: %w", err)
		}
		target := filepath.Join(dir, checksumsFile)
		if err := os.WriteFile(target, data, 0o600); err != nil {
			return written, fmt.Errorf("failed to write checksums: %w", err)
		}
		written = append(written, target)
	}
	return written, nil
}

// LoadChecksums reads the manifest in configDir.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, checksumsFile))
	if err != nil {
		return nil, err
	}
	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// verifyChecksums checks files in every directory that carries a manifest.
// Directories without one are not verified.
func verifyChecksums(paths []string) error {
	for dir, files := range groupByDir(paths) {
		manifest, err := LoadChecksums(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		for _, path := range files {
			name := filepath.Base(path)
			want, ok := manifest.Hashes[name]
			if !ok {
				return fmt.Errorf("config file %s has no hash in %s\n"+
					"Run: conductor config lock", name, filepath.Join(dir, checksumsFile))
			}
			got, err := ComputeBlake3Hash(path)
			if err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("config verification failed for %s: hash mismatch\n"+
					"If you edited this file intentionally, run: conductor config lock", path)
			}
		}
	}
	return nil
}

func groupByDir(paths []string) map[string][]string {
	out := make(map[string][]string)
	for _, p := range paths {
		dir := filepath.Dir(p)
		out[dir] = append(out[dir], p)
	}
	return out
}
