// Package module holds the immutable registry of runnable helper programs.
// The engine performs no discovery of its own at run time; descriptors come
// from configuration and optional manifest scanning at startup.
package module

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Descriptor identifies one runnable module. Unique by Key; immutable after
// registry construction.
type Descriptor struct {
	Key         string
	DisplayName string
	// Command is the argv vector: program first, then arguments.
	Command    []string
	WorkingDir string
	// Timeout overrides the engine default when positive.
	Timeout time.Duration
}

// Validate checks the descriptor is complete enough to launch.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Key) == "" {
		return fmt.Errorf("module key is empty")
	}
	if len(d.Command) == 0 || strings.TrimSpace(d.Command[0]) == "" {
		return fmt.Errorf("module %q: command is empty", d.Key)
	}
	return nil
}

// Label returns the display name, falling back to the key.
func (d Descriptor) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Key
}

// Resolve locates the module's executable: a bare name is looked up on PATH,
// anything with a path separator must exist on disk. Returns the resolved
// path or an error suitable for a fail-fast "script not found" response.
func (d Descriptor) Resolve() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	prog := d.Command[0]
	if strings.ContainsRune(prog, os.PathSeparator) {
		if _, err := os.Stat(prog); err != nil {
			return "", fmt.Errorf("script not found: %s", prog)
		}
		return prog, nil
	}
	path, err := exec.LookPath(prog)
	if err != nil {
		return "", fmt.Errorf("script not found: %s", prog)
	}
	return path, nil
}
