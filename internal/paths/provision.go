package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Provisioner creates phase directories according to their rule.
type Provisioner struct{}

// NewProvisioner creates a Provisioner.
func NewProvisioner() *Provisioner {
	return &Provisioner{}
}

// Ensure makes path exist. RecreateClean wipes previous contents first.
func (p *Provisioner) Ensure(path string, rule Rule) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("ensure %q: path must be absolute", path)
	}
	clean := filepath.Clean(path)
	if clean == filepath.Dir(clean) {
		return fmt.Errorf("ensure %q: refusing to manage filesystem root", path)
	}

	switch rule {
	case RecreateClean:
		if err := os.RemoveAll(clean); err != nil {
			return fmt.Errorf("remove %s: %w", clean, err)
		}
	case CreateIfMissing:
		if info, err := os.Stat(clean); err == nil {
			if !info.IsDir() {
				return fmt.Errorf("ensure %s: exists and is not a directory", clean)
			}
			return nil
		}
	default:
		return fmt.Errorf("ensure %s: unknown rule %d", clean, int(rule))
	}

	if err := os.MkdirAll(clean, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", clean, err)
	}
	return nil
}

// EnsureAll provisions every entry in order, stopping at the first failure.
func (p *Provisioner) EnsureAll(entries []Entry) error {
	for _, e := range entries {
		if err := p.Ensure(e.Path, e.Rule); err != nil {
			return fmt.Errorf("phase %s: %w", e.Phase, err)
		}
	}
	return nil
}
