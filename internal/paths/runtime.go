package paths

import (
	goruntime "runtime"
	"strings"

	apperrors "github.com/lucasnoah/rita/internal/errors"
)

// Runtime identifies a target platform. Identifier is the toolchain's runtime id.
type Runtime struct {
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	Identifier string `json:"identifier"`
}

func (r Runtime) String() string {
	return r.Identifier
}

// LinuxX64 is the release default: the deployment host platform.
var LinuxX64 = Runtime{OS: "linux", Arch: "x64", Identifier: "linux-x64"}

var goosNames = map[string]string{
	"linux":   "linux",
	"darwin":  "osx",
	"windows": "win",
	"freebsd": "freebsd",
}

var goarchNames = map[string]string{
	"amd64": "x64",
	"386":   "x86",
	"arm64": "arm64",
	"arm":   "arm",
}

// Host returns the runtime of the machine running the pipeline.
func Host() Runtime {
	return hostRuntime(goruntime.GOOS, goruntime.GOARCH)
}

func hostRuntime(goos, goarch string) Runtime {
	osName, ok := goosNames[goos]
	if !ok {
		osName = goos
	}
	arch, ok := goarchNames[goarch]
	if !ok {
		arch = goarch
	}
	return Runtime{OS: osName, Arch: arch, Identifier: osName + "-" + arch}
}

// Select picks the local default (host platform) or the release default.
func Select(local bool) Runtime {
	if local {
		return Host()
	}
	return LinuxX64
}

// ParseRuntime parses a runtime identifier such as "linux-x64" or "linux-musl-arm64".
// The architecture is the last dash-separated segment.
func ParseRuntime(id string) (Runtime, error) {
	id = strings.TrimSpace(id)
	idx := strings.LastIndex(id, "-")
	if idx <= 0 || idx == len(id)-1 {
		return Runtime{}, apperrors.Configuration("invalid runtime identifier %q: expected <os>-<arch>", id)
	}
	return Runtime{OS: id[:idx], Arch: id[idx+1:], Identifier: id}, nil
}

// Configuration is the toolchain build configuration.
type Configuration string

const (
	Debug   Configuration = "Debug"
	Release Configuration = "Release"
)

// SelectConfiguration mirrors Select: Debug for local runs, Release otherwise.
func SelectConfiguration(local bool) Configuration {
	if local {
		return Debug
	}
	return Release
}
