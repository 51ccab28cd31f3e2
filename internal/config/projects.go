package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/lucasnoah/rita/internal/errors"
)

// ProjectRef is a project id resolved to its project file.
type ProjectRef struct {
	ID   string
	Path string
}

// Projects lists what to test and what to publish.
type Projects struct {
	Test  []ProjectRef
	Build []ProjectRef
}

// parameters is the shape of the parameters document.
type parameters struct {
	ProjectsToTest            []string `mapstructure:"ProjectsToTest"`
	ProjectsToBuildForDroplet []string `mapstructure:"ProjectsToBuildForDroplet"`
}

// readDocument loads a JSON, YAML or TOML document. The format follows the
// file extension; files without one are read as JSON.
func readDocument(path string) (*viper.Viper, error) {
	// Project ids may contain dots; keep them as flat keys.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.Configuration("read project document %s", path).WithCause(err)
	}
	return v, nil
}

// LoadProjects reads the parameters and project-path documents and resolves
// every listed id. Project paths are relative to the workspace unless absolute.
func (c *Config) LoadProjects() (*Projects, error) {
	paramsPath := c.Path(c.Projects.Parameters)
	pathsPath := c.Path(c.Projects.Paths)

	pv, err := readDocument(paramsPath)
	if err != nil {
		return nil, err
	}
	var params parameters
	if err := pv.Unmarshal(&params); err != nil {
		return nil, apperrors.Configuration("decode %s", paramsPath).WithCause(err)
	}

	lv, err := readDocument(pathsPath)
	if err != nil {
		return nil, err
	}
	// Viper lowercases keys; match ids case-insensitively against the raw map.
	lookup := make(map[string]string)
	for _, key := range lv.AllKeys() {
		lookup[key] = lv.GetString(key)
	}

	workspace := c.Path(c.Workspace)
	resolve := func(list []string, field string) ([]ProjectRef, error) {
		refs := make([]ProjectRef, 0, len(list))
		for _, id := range list {
			p, ok := lookup[strings.ToLower(id)]
			if !ok || p == "" {
				return nil, apperrors.Configuration("%s: project %q has no entry in %s", field, id, pathsPath)
			}
			if !filepath.IsAbs(p) {
				p = filepath.Join(workspace, p)
			}
			refs = append(refs, ProjectRef{ID: id, Path: p})
		}
		return refs, nil
	}

	out := &Projects{}
	if out.Test, err = resolve(params.ProjectsToTest, "ProjectsToTest"); err != nil {
		return nil, err
	}
	if out.Build, err = resolve(params.ProjectsToBuildForDroplet, "ProjectsToBuildForDroplet"); err != nil {
		return nil, err
	}
	if len(out.Build) == 0 {
		return nil, apperrors.Configuration("ProjectsToBuildForDroplet in %s is empty", paramsPath)
	}
	return out, nil
}
