// Package pathroot resolves the process-wide vault layout exactly once.
// Freezing the paths at startup closes the class of bug where a component
// captures a path before the caller (a smoke run injecting a temp dir, a
// test) has had the chance to override the user-data directory.
package pathroot

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Paths holds the resolved absolute locations of everything the vault owns.
type Paths struct {
	UserData  string
	Vault     string
	DB        string
	Artifacts string
}

var (
	mu          sync.Mutex
	initialized bool
	current     Paths
)

// Init resolves and freezes the layout under userData. Calling it twice is
// a programming error and fails fast.
func Init(userData string) (Paths, error) {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return Paths{}, fmt.Errorf("pathroot: already initialized (user data %s)", current.UserData)
	}
	abs, err := filepath.Abs(userData)
	if err != nil {
		return Paths{}, fmt.Errorf("pathroot: resolve user data dir: %w", err)
	}
	vault := filepath.Join(abs, "vault")
	current = Paths{
		UserData:  abs,
		Vault:     vault,
		DB:        filepath.Join(vault, "vault.db"),
		Artifacts: filepath.Join(vault, "artifacts"),
	}
	initialized = true
	return current, nil
}

// Get returns the frozen layout. Calling it before Init fails fast.
func Get() (Paths, error) {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return Paths{}, fmt.Errorf("pathroot: read before initialization")
	}
	return current, nil
}

// Reset clears the frozen state. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	current = Paths{}
}
