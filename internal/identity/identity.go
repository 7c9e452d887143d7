// Package identity describes the user account a backup was taken from or is
// being restored onto.
package identity

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Identity is a user name and its home directory.
type Identity struct {
	User    string
	HomeDir string
}

// Provider yields the identity of the running account.
type Provider interface {
	Identity() (Identity, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() (Identity, error)

func (f ProviderFunc) Identity() (Identity, error) { return f() }

// Static returns a provider that always yields id.
func Static(id Identity) Provider {
	return ProviderFunc(func() (Identity, error) { return id, nil })
}

// Current reads the process identity. It is the only place ambient user state
// is consulted; everything below the CLI takes an Identity argument.
func Current() (Identity, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	if name == "" {
		return Identity{}, fmt.Errorf("failed to resolve current user name")
	}

	return Identity{User: name, HomeDir: filepath.Clean(home)}, nil
}

// Rebase rewrites path from the oldHome prefix onto id's home directory. Only a
// whole leading path component sequence is replaced, so /home/al is not rewritten
// inside /home/alice. Paths outside oldHome are returned unchanged.
func (id Identity) Rebase(path, oldHome string) string {
	path = filepath.Clean(path)
	oldHome = filepath.Clean(oldHome)

	rel, err := filepath.Rel(oldHome, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	if rel == "." {
		return filepath.Clean(id.HomeDir)
	}
	return filepath.Join(id.HomeDir, rel)
}
