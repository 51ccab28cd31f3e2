// Package unit renders systemd service unit files.
package unit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/lucasnoah/rita/internal/errors"
)

// DefaultTemplate is the unit layout used when no override file is configured.
const DefaultTemplate = `[Unit]
Description={{description}}
After=network.target

[Service]
ExecStart={{exec_start}}
{{#if working_dir}}WorkingDirectory={{working_dir}}
{{/if}}{{#if user}}User={{user}}
{{/if}}{{#if environment}}{{environment}}{{/if}}Restart=always

[Install]
WantedBy=multi-user.target
`

// Service describes the unit to install on the remote host.
type Service struct {
	// Name is the unit file name, e.g. "projectshelly.service".
	Name        string
	Description string
	ExecStart   string
	WorkingDir  string
	User        string
	Environment map[string]string
}

// Validate checks the fields every unit needs.
func (s Service) Validate() error {
	if s.Name == "" {
		return apperrors.Configuration("service name is required")
	}
	if strings.ContainsAny(s.Name, "/ \t\n") {
		return apperrors.Configuration("service name %q must be a bare file name", s.Name)
	}
	if !strings.HasSuffix(s.Name, ".service") {
		return apperrors.Configuration("service name %q must end in .service", s.Name)
	}
	if s.ExecStart == "" {
		return apperrors.Configuration("service %s: exec_start is required", s.Name)
	}
	for k, v := range s.Environment {
		if strings.ContainsAny(k, "= \n") || strings.Contains(v, "\n") {
			return apperrors.Configuration("service %s: invalid environment entry %q", s.Name, k)
		}
	}
	return nil
}

// Vars returns the template variables for the service.
func (s Service) Vars() Vars {
	desc := s.Description
	if desc == "" {
		desc = strings.TrimSuffix(s.Name, ".service")
	}
	return Vars{
		"name":        s.Name,
		"description": desc,
		"exec_start":  s.ExecStart,
		"working_dir": s.WorkingDir,
		"user":        s.User,
		"environment": environmentLines(s.Environment),
	}
}

// environmentLines renders one Environment= line per key, sorted.
func environmentLines(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "Environment=%q\n", k+"="+env[k])
	}
	return b.String()
}

// Render produces the unit file for s from tmpl, or DefaultTemplate when tmpl is empty.
func Render(s Service, tmpl string) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	out, err := Expand(tmpl, s.Vars())
	if err != nil {
		return nil, apperrors.Configuration("render unit %s", s.Name).WithCause(err)
	}
	return []byte(out), nil
}

// LoadTemplate reads a unit template override. Relative paths resolve
// against workdir and may not escape it. An empty path yields DefaultTemplate.
func LoadTemplate(path, workdir string) (string, error) {
	if path == "" {
		return DefaultTemplate, nil
	}
	if !filepath.IsAbs(path) && workdir != "" {
		absWorkdir, err := filepath.Abs(workdir)
		if err != nil {
			return "", fmt.Errorf("resolve workdir: %w", err)
		}
		path = filepath.Join(absWorkdir, path)
		if !strings.HasPrefix(path, absWorkdir+string(filepath.Separator)) {
			return "", apperrors.Configuration("unit template %q escapes workdir", path)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.Configuration("read unit template %s", path).WithCause(err)
	}
	return string(data), nil
}
