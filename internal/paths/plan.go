// Package paths maps (runtime, phase) pairs to filesystem locations and
// provisions those locations at the start of a run.
package paths

import (
	"path/filepath"

	apperrors "github.com/lucasnoah/rita/internal/errors"
)

// Phase is a pipeline checkpoint that owns a filesystem location.
type Phase int

const (
	Compile Phase = iota
	Zip
	TestResults
	Logs
)

// Phases lists every declared phase in provisioning order.
var Phases = []Phase{Compile, Zip, TestResults, Logs}

func (p Phase) String() string {
	switch p {
	case Compile:
		return "compile"
	case Zip:
		return "zip"
	case TestResults:
		return "test-results"
	case Logs:
		return "logs"
	}
	return "unknown"
}

// Rule decides what Ensure does with an existing directory.
type Rule int

const (
	// CreateIfMissing creates the directory and never touches existing contents.
	CreateIfMissing Rule = iota
	// RecreateClean deletes the directory and creates it empty.
	RecreateClean
)

func (r Rule) String() string {
	if r == RecreateClean {
		return "recreate-clean"
	}
	return "create-if-missing"
}

// Entry is a resolved directory and its retention rule.
type Entry struct {
	Phase Phase  `json:"phase"`
	Path  string `json:"path"`
	Rule  Rule   `json:"rule"`
}

type layout struct {
	dir        string
	rule       Rule
	perRuntime bool
}

var defaultLayout = map[Phase]layout{
	Compile:     {dir: "compile", rule: RecreateClean, perRuntime: true},
	Zip:         {dir: "zip", rule: RecreateClean},
	TestResults: {dir: "test-results", rule: RecreateClean},
	Logs:        {dir: "logs", rule: CreateIfMissing},
}

// Plan is the immutable phase→path table for one run.
type Plan struct {
	root   string
	layout map[Phase]layout
}

// NewPlan builds a plan rooted at root. Relative roots are made absolute.
func NewPlan(root string) (*Plan, error) {
	if root == "" {
		return nil, apperrors.Configuration("output root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperrors.Configuration("resolve output root %q", root).WithCause(err)
	}
	return &Plan{root: filepath.Clean(abs), layout: defaultLayout}, nil
}

// Root returns the absolute output root.
func (p *Plan) Root() string {
	return p.root
}

// Resolve returns the directory for phase. Runtime only matters for
// runtime-dependent phases.
func (p *Plan) Resolve(rt Runtime, phase Phase) (string, error) {
	l, ok := p.layout[phase]
	if !ok {
		return "", apperrors.Configuration("no path declared for phase %d", int(phase))
	}
	if !l.perRuntime {
		return filepath.Join(p.root, l.dir), nil
	}
	if rt.Identifier == "" {
		return "", apperrors.Configuration("phase %s requires a runtime identifier", phase)
	}
	return filepath.Join(p.root, l.dir, rt.Identifier), nil
}

// Entry returns the resolved path and rule for phase.
func (p *Plan) Entry(rt Runtime, phase Phase) (Entry, error) {
	path, err := p.Resolve(rt, phase)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Phase: phase, Path: path, Rule: p.layout[phase].rule}, nil
}

// Entries returns every declared entry in phase order.
func (p *Plan) Entries(rt Runtime) ([]Entry, error) {
	entries := make([]Entry, 0, len(Phases))
	for _, ph := range Phases {
		e, err := p.Entry(rt, ph)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ArchivePath is the package file inside the Zip phase directory.
func (p *Plan) ArchivePath(rt Runtime) (string, error) {
	dir, err := p.Resolve(rt, Zip)
	if err != nil {
		return "", err
	}
	if rt.Identifier == "" {
		return "", apperrors.Configuration("archive path requires a runtime identifier")
	}
	return filepath.Join(dir, rt.Identifier+".zip"), nil
}
