package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lucasnoah/rita/internal/paths"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Stage names the configuration refers to.
var (
	// StageNames lists every pipeline stage in execution order.
	StageNames = []string{
		"init", "clean", "restore", "test", "compile", "compress",
		"authenticate", "transfer", "extract", "install-service", "start-service", "verify-service",
	}
	// tolerableStages are the only stages whose failure may be tolerated.
	// A failed test or anything after it always aborts the run.
	tolerableStages = map[string]bool{"clean": true, "restore": true}
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator, reporting yaml field names.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// structErrors validates s with its struct tags. Field paths are prefixed
// with root in place of the Go type name.
func structErrors(s any, root string) []ValidationError {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: root, Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, e := range verrs {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if root != "" {
			field = root + "." + field
		}
		out = append(out, ValidationError{Field: field, Message: tagMessage(e)})
	}
	return out
}

func tagMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "startswith":
		return fmt.Sprintf("must start with %q", e.Param())
	case "endswith":
		return fmt.Sprintf("must end with %q", e.Param())
	case "hostname_rfc1123|ip":
		return "must be a hostname or IP address"
	default:
		return "is invalid"
	}
}

// Validate checks the build side of a Config for structural and semantic
// errors. It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	errs := structErrors(cfg, "")

	seen := make(map[string]bool)
	for i, name := range cfg.Pipeline.TolerantStages {
		field := fmt.Sprintf("pipeline.tolerant_stages[%d]", i)
		switch {
		case !isStage(name):
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("unknown stage %q", name)})
		case !tolerableStages[name]:
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("stage %q cannot be tolerant; only clean and restore may fail without aborting", name),
			})
		case seen[name]:
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate stage %q", name)})
		}
		seen[name] = true
	}

	if !isStage(cfg.Pipeline.Terminal) {
		errs = append(errs, ValidationError{
			Field:   "pipeline.terminal",
			Message: fmt.Sprintf("unknown stage %q", cfg.Pipeline.Terminal),
		})
	}

	if _, err := paths.ParseRuntime(cfg.Runtime.Release); err != nil {
		errs = append(errs, ValidationError{Field: "runtime.release", Message: err.Error()})
	}
	if cfg.Runtime.Local != "" {
		if _, err := paths.ParseRuntime(cfg.Runtime.Local); err != nil {
			errs = append(errs, ValidationError{Field: "runtime.local", Message: err.Error()})
		}
	}

	for i, name := range cfg.Output.PruneFiles {
		if name == "" || strings.ContainsAny(name, `/\`) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("output.prune_files[%d]", i),
				Message: fmt.Sprintf("%q must be a plain file name", name),
			})
		}
	}

	if cfg.History.Enabled && cfg.History.DSN == "" {
		errs = append(errs, ValidationError{Field: "history.dsn", Message: "is required when history is enabled"})
	}

	return errs
}

// ValidateDeploy checks the remote and service sections. It is only
// needed when a run reaches a remote stage.
func ValidateDeploy(cfg *Config) []ValidationError {
	errs := structErrors(cfg.Remote, "remote")
	errs = append(errs, structErrors(cfg.Service, "service")...)

	if d, err := time.ParseDuration(cfg.Remote.Timeout); err != nil || d <= 0 {
		errs = append(errs, ValidationError{
			Field:   "remote.timeout",
			Message: fmt.Sprintf("invalid duration %q", cfg.Remote.Timeout),
		})
	}
	if cfg.Remote.KnownHosts != "" && cfg.Remote.HostKey != "" {
		errs = append(errs, ValidationError{
			Field:   "remote.host_key",
			Message: "set either known_hosts or host_key, not both",
		})
	}
	for k := range cfg.Service.Environment {
		if k == "" || strings.ContainsAny(k, "= \n") {
			errs = append(errs, ValidationError{
				Field:   "service.environment",
				Message: fmt.Sprintf("invalid variable name %q", k),
			})
		}
	}
	return errs
}

func isStage(name string) bool {
	for _, s := range StageNames {
		if s == name {
			return true
		}
	}
	return false
}
