package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumFilename = ".checksums"

// ChecksumManifest pins config files to BLAKE3 hashes so unreviewed edits
// fail loudly at startup.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeHash returns the hex BLAKE3 hash of a file.
func ComputeHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksums checks configPath against the .checksums manifest in the
// same directory. No manifest means verification is not in use; a manifest
// that exists but does not list the file, or lists a different hash, is an
// error.
func VerifyChecksums(configPath string) error {
	dir := filepath.Dir(configPath)
	manifestPath := filepath.Join(dir, checksumFilename)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read checksum manifest: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse checksum manifest: %w", err)
	}

	name := filepath.Base(configPath)
	want, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("checksum manifest %s does not cover %s", manifestPath, name)
	}
	got, err := ComputeHash(configPath)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s\n"+
			"Hint: run 'hub config hash-update' after intentional edits", name, want, got)
	}
	return nil
}

// GenerateChecksums writes a fresh .checksums manifest covering the named
// files in configDir.
func GenerateChecksums(configDir string, files []string) error {
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}

	for _, name := range files {
		path := filepath.Join(configDir, name)
		hash, err := ComputeHash(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", name, err)
		}
		manifest.Hashes[name] = hash
	}

	out, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("marshal checksum manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, checksumFilename), out, 0o644); err != nil {
		return fmt.Errorf("write checksum manifest: %w", err)
	}
	return nil
}
