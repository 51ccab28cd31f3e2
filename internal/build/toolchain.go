package build

import (
	"path/filepath"
	"strings"

	"github.com/lucasnoah/rita/internal/paths"
)

// DotNet builds argument vectors for the dotnet CLI.
type DotNet struct {
	// Binary is the dotnet executable; defaults to "dotnet".
	Binary string
}

func (d DotNet) bin() string {
	if d.Binary == "" {
		return "dotnet"
	}
	return d.Binary
}

// Clean returns the argv for cleaning a solution.
func (d DotNet) Clean(solution string) []string {
	return []string{d.bin(), "clean", solution}
}

// Restore returns the argv for restoring a solution's packages.
func (d DotNet) Restore(solution string) []string {
	return []string{d.bin(), "restore", solution}
}

// Test returns the argv for running one test project, writing a trx log
// named after the project into resultsDir.
func (d DotNet) Test(p Project, cfg paths.Configuration, resultsDir string) []string {
	return []string{
		d.bin(), "test", p.Path,
		"--configuration", string(cfg),
		"--results-directory", resultsDir,
		"--logger", "trx;LogFileName=" + p.Name() + ".trx",
	}
}

// Publish returns the argv for a self-contained single-file publish.
func (d DotNet) Publish(p Project, rt paths.Runtime, cfg paths.Configuration, outDir string) []string {
	return []string{
		d.bin(), "publish", p.Path,
		"--configuration", string(cfg),
		"--runtime", rt.Identifier,
		"--self-contained", "true",
		"--output", outDir,
		"-p:PublishSingleFile=true",
		"-p:PublishSelfContained=true",
		"-p:IncludeNativeLibrariesForSelfExtract=true",
		"-p:AssemblyName=" + p.Name(),
	}
}

// Project is a resolved project reference.
type Project struct {
	ID   string
	Path string
}

// Name is the project file name without its extension.
func (p Project) Name() string {
	base := filepath.Base(p.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
