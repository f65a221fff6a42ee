package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/promised/agent/pkg/policy"
)

// ResourceConfig represents one promise, authored in CUE, before it is
// lowered into a policy.Promise. "Resource" names the CUE-facing
// shape; "promise" names what it becomes once compiled.
type ResourceConfig struct {
	// ID is the unique identifier for this resource (e.g., "web_server_pkg").
	ID string `json:"id" validate:"required"`

	// Type is the promise type this resource compiles to (e.g.,
	// "packages", "files", or a custom promise module's type).
	Type string `json:"type" validate:"required"`

	// Name is the promiser: the package name, file path, or other
	// subject the promise is made about.
	Name string `json:"name" validate:"required"`

	// Config is the promise's attributes (constraints), keyed by
	// left-value.
	Config json.RawMessage `json:"config" validate:"required"`

	// Labels are key-value pairs for organizing and selecting resources.
	Labels map[string]string `json:"labels,omitempty"`

	// Annotations are additional metadata.
	Annotations map[string]string `json:"annotations,omitempty"`

	// Dependencies lists the dependencies for this resource.
	Dependencies []DependencyConfig `json:"dependencies,omitempty"`

	// Target specifies which hosts/targets this resource applies to.
	Target TargetSelector `json:"target,omitempty"`

	// Provider overrides the provider name and version for this resource.
	Provider *ProviderOverride `json:"provider,omitempty"`

	// ClassGuard is the promise's class expression; "any" if empty.
	ClassGuard string `json:"class_guard,omitempty"`
}

// DependencyType names how one resource depends on another.
type DependencyType string

const (
	DependencyRequire DependencyType = "require"
	DependencyNotify  DependencyType = "notify"
	DependencyOrder   DependencyType = "order"
)

// DependencyConfig represents a dependency relationship between resources.
// Dependencies are recorded for operator visibility (e.g. deciding bundle
// evaluation order); pkg/runner itself converges a bundle's sections in
// the fixed agent section order regardless of this graph.
type DependencyConfig struct {
	// ResourceID is the ID of the resource this depends on.
	ResourceID string `json:"resource_id" validate:"required"`

	// Type is the dependency type (require, notify, order).
	Type DependencyType `json:"type" validate:"required,oneof=require notify order"`
}

// ProviderOverride allows overriding provider details for a specific resource.
type ProviderOverride struct {
	// Name is the provider name (e.g., "linux.pkg").
	Name string `json:"name" validate:"required"`

	// Version is the provider version constraint (e.g., ">=1.0.0").
	Version string `json:"version,omitempty"`
}

// TargetSelector specifies which targets a resource applies to.
type TargetSelector struct {
	// Hosts lists specific host IDs or patterns.
	Hosts []string `json:"hosts,omitempty"`

	// Labels matches targets with these labels.
	Labels map[string]string `json:"labels,omitempty"`

	// Selector is a label selector expression (e.g., "env=prod,role=web").
	Selector string `json:"selector,omitempty"`

	// All indicates this resource applies to all targets.
	All bool `json:"all,omitempty"`
}

// ProviderConfig represents provider configuration from CUE.
type ProviderConfig struct {
	// Name is the provider name (e.g., "linux.pkg").
	Name string `json:"name" validate:"required"`

	// Version is the provider version or constraint.
	Version string `json:"version,omitempty"`

	// Source is where to fetch the provider (OCI registry URL).
	Source string `json:"source,omitempty"`

	// Config is provider-specific configuration.
	Config json.RawMessage `json:"config,omitempty"`

	// Capabilities are the capabilities this provider requires.
	Capabilities []string `json:"capabilities,omitempty"`
}

// WorkspaceConfig represents the workspace configuration.
type WorkspaceConfig struct {
	// Name is the workspace name.
	Name string `json:"name" validate:"required"`

	// Version is the configuration version.
	Version string `json:"version,omitempty"`

	// Providers lists the providers used in this workspace.
	Providers []ProviderConfig `json:"providers,omitempty"`

	// Variables are workspace-level variables.
	Variables map[string]interface{} `json:"variables,omitempty"`

	// Backend configures state storage.
	Backend *BackendConfig `json:"backend,omitempty"`

	// Policy configures policy enforcement.
	Policy *PolicyConfig `json:"policy,omitempty"`

	// Metadata contains additional workspace metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BackendConfig configures state storage backend.
type BackendConfig struct {
	// Type is the backend type (solo, cluster).
	Type string `json:"type" validate:"required,oneof=solo cluster"`

	// Path is the local path for solo backend.
	Path string `json:"path,omitempty"`

	// Config is backend-specific configuration.
	Config json.RawMessage `json:"config,omitempty"`
}

// PolicyConfig configures policy enforcement.
type PolicyConfig struct {
	// Enabled indicates if policy enforcement is enabled.
	Enabled bool `json:"enabled"`

	// Paths lists policy file paths.
	Paths []string `json:"paths,omitempty"`

	// Mode is the enforcement mode (advisory, enforcing).
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=advisory enforcing"`

	// OnViolation specifies the action on violation (warn, fail).
	OnViolation string `json:"on_violation,omitempty" validate:"omitempty,oneof=warn fail"`
}

// ParsedConfig represents the fully parsed configuration from CUE.
type ParsedConfig struct {
	// Workspace is the workspace configuration.
	Workspace WorkspaceConfig `json:"workspace"`

	// Resources are all resources defined in the configuration.
	Resources []ResourceConfig `json:"resources"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// Functions holds named Starlark scripts authored under the
	// configuration's top-level "functions" block. A promise attribute
	// written as a function call (e.g. render_template(name)) is
	// resolved at promise-expansion time by looking up the call's name
	// here and handing the script to pkg/config/functions.
	Functions map[string]string `json:"functions,omitempty"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "resources.web_server.config").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// ConfigSource represents a source of CUE configuration.
type ConfigSource struct {
	// Type is the source type (file, directory, inline).
	Type string `json:"type" validate:"required,oneof=file directory inline"`

	// Path is the file or directory path.
	Path string `json:"path,omitempty"`

	// Content is the inline CUE content.
	Content string `json:"content,omitempty"`
}

// MergeOptions controls how multiple configurations are merged.
type MergeOptions struct {
	// AllowConflicts allows conflicting values (last wins).
	AllowConflicts bool `json:"allow_conflicts"`

	// IncludePaths filters which paths to merge.
	IncludePaths []string `json:"include_paths,omitempty"`

	// ExcludePaths filters which paths to exclude from merge.
	ExcludePaths []string `json:"exclude_paths,omitempty"`
}

// EvaluateOptions controls CUE evaluation behavior.
type EvaluateOptions struct {
	// Package is the CUE package to evaluate.
	Package string `json:"package,omitempty"`

	// Tags are CUE build tags (e.g., "env=prod").
	Tags []string `json:"tags,omitempty"`

	// Concrete requires all values to be concrete (no unresolved references).
	Concrete bool `json:"concrete"`

	// ValidateSchemas enables schema validation during evaluation.
	ValidateSchemas bool `json:"validate_schemas"`

	// AllowStarlark enables Starlark function execution.
	AllowStarlark bool `json:"allow_starlark"`

	// StarlarkTimeout is the timeout for Starlark execution.
	StarlarkTimeout time.Duration `json:"starlark_timeout,omitempty"`
}

// StarlarkContext provides context for Starlark execution.
type StarlarkContext struct {
	// Input is the input data passed to Starlark.
	Input map[string]interface{} `json:"input,omitempty"`

	// Timeout is the execution timeout.
	Timeout time.Duration `json:"timeout"`

	// AllowedModules lists allowed Starlark modules.
	AllowedModules []string `json:"allowed_modules,omitempty"`

	// Builtins are additional built-in functions to provide.
	Builtins map[string]interface{} `json:"builtins,omitempty"`
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}

// ToPolicy lowers the CUE-authored resources into one agent bundle: each
// distinct resource Type becomes a BundleSection named after it, each
// resource becomes a Promise whose promiser is its Name and whose Config
// fields become constraints.
func (pc *ParsedConfig) ToPolicy() (*policy.Policy, error) {
	p := policy.New()
	bundleName := pc.Workspace.Name
	if bundleName == "" {
		bundleName = "main"
	}
	offset := policy.SourceOffset{Path: formatSourceFiles(pc.SourceFiles), Line: 1}
	bundle := p.AppendBundle("default", "agent", bundleName, nil, offset.Path, offset)

	sections := make(map[string]*policy.BundleSection)
	for _, rc := range pc.Resources {
		section, ok := sections[rc.Type]
		if !ok {
			section = bundle.AppendSection(rc.Type, offset)
			sections[rc.Type] = section
		}

		promise, err := section.AppendPromise(rc.Name, offset)
		if err != nil {
			return nil, fmt.Errorf("config: resource %s: %w", rc.ID, err)
		}
		if rc.ClassGuard != "" {
			promise.ClassGuard = rc.ClassGuard
		}

		var attrs map[string]json.RawMessage
		if len(rc.Config) > 0 {
			if err := json.Unmarshal(rc.Config, &attrs); err != nil {
				return nil, fmt.Errorf("config: resource %s: decoding config: %w", rc.ID, err)
			}
		}
		for lval, raw := range attrs {
			rval, err := rightValueFromJSON(raw)
			if err != nil {
				return nil, fmt.Errorf("config: resource %s: attribute %q: %w", rc.ID, lval, err)
			}
			promise.AppendConstraint(lval, rval, offset)
		}
	}
	return p, nil
}

// rightValueFromJSON decodes one CUE-sourced attribute value into the
// policy model's right-value union. Strings, numbers, and bools become
// scalars; arrays of any of those become lists; nested objects are kept
// as containers for promise types (custom modules) that consume
// structured data wholesale.
func rightValueFromJSON(raw json.RawMessage) (policy.RightValue, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return policy.RightValue{}, err
	}
	return rightValueFromAny(v)
}

func rightValueFromAny(v any) (policy.RightValue, error) {
	switch val := v.(type) {
	case string:
		return policy.Scalar(val), nil
	case bool:
		return policy.Scalar(fmt.Sprintf("%t", val)), nil
	case float64:
		return policy.Scalar(formatNumber(val)), nil
	case []any:
		items := make([]policy.RightValue, len(val))
		for i, item := range val {
			rv, err := rightValueFromAny(item)
			if err != nil {
				return policy.RightValue{}, err
			}
			items[i] = rv
		}
		return policy.ListOf(items...), nil
	case map[string]any:
		return policy.RightValue{Kind: policy.RightValueContainer, Container: val}, nil
	case nil:
		return policy.Scalar(""), nil
	default:
		return policy.RightValue{}, fmt.Errorf("unsupported attribute value type %T", v)
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// formatSourceFiles formats source files for display.
func formatSourceFiles(files []string) string {
	if len(files) == 0 {
		return "inline"
	}
	if len(files) == 1 {
		return files[0]
	}
	return files[0] + " (+" + string(rune(len(files)-1)) + " more)"
}
