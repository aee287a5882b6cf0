// Package util provides shared helpers with no home of their own.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an external executable. An environment override
// (envVar, when non-empty) wins over everything and must point at a real
// executable; a bad override is an error, not a silent fallthrough.
// Without an override the search tries ./name in the working directory,
// then PATH.
func FindBinary(name string, envVar string) (string, error) {
	if envVar != "" {
		if override := os.Getenv(envVar); override != "" {
			if err := checkExecutable(override); err != nil {
				return "", fmt.Errorf("%s points at %s: %w", envVar, override, err)
			}
			return override, nil
		}
	}

	if local := "./" + name; checkExecutable(local) == nil {
		return local, nil
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s not found on PATH (set %s to its location)", name, envVar)
}

// checkExecutable reports why a path cannot be run, or nil if it can.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory")
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("not executable")
	}
	return nil
}
