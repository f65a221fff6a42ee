// Package config provides CUE configuration parsing and Starlark evaluation,
// the authoring surface that compiles down to the pkg/policy model
// pkg/runner evaluates.
//
// # Overview
//
// The config package implements the authoring phase that runs before a
// policy is ever evaluated: parsing CUE files, validating schemas, and
// compiling the result into an agent bundle. Starlark scripts embedded
// in a bundle's constraints are evaluated at promise-expansion time by
// pkg/config/functions, which layers a Starlark-backed expand.Resolver
// over $(var) interpolation.
//
// # Features
//
//   - CUE configuration parsing from files, directories, and inline content
//   - Schema validation with built-in schemas for resources, providers, and targets
//   - Starlark script execution for procedural configuration logic
//   - Type-safe configuration structures
//   - Error reporting with file locations and line numbers
//   - Configuration merging from multiple sources
//
// # Components
//
// CUEParser: Main parser for CUE configuration files. Evaluate compiles
// parsed resources straight into a *policy.Policy ready for pkg/runner.
//
// SchemaRegistry: Manages CUE schemas for validation. Provides built-in schemas
// for common configuration patterns and supports custom schema registration.
//
// StarlarkEvaluator: Safe Starlark script execution with timeout enforcement and
// sandboxing. Provides built-in functions and type conversion between Go and Starlark.
//
// # Usage Example
//
//	// Create a new parser
//	parser := config.NewCUEParser()
//
//	// Parse configuration files and compile straight to a policy
//	policy, err := parser.Evaluate(ctx, []string{"config.cue", "resources.cue"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Execute Starlark for procedural logic
//	input := map[string]interface{}{"count": 5}
//	output, err := parser.EvaluateStarlark(ctx, script, input)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # CUE Configuration Structure
//
// CUE defines the agent's promises with strong typing and validation.
// A typical configuration includes:
//
//	workspace: {
//	    name: "web-fleet"
//	    version: "1.0"
//	}
//
//	resources: {
//	    web_server: {
//	        type: "packages"
//	        name: "nginx"
//	        config: {
//	            package_policy: "present"
//	            package_version: "latest"
//	        }
//	        target: {
//	            labels: {env: "prod", role: "web"}
//	        }
//	    }
//	}
//
// # Starlark Integration
//
// Starlark scripts can be embedded in CUE configurations for procedural logic:
//
//	# Generate multiple resources programmatically
//	def generate_servers(count):
//	    servers = []
//	    for i in range(count):
//	        servers.append({
//	            "id": "server_" + str(i),
//	            "name": "server-" + str(i),
//	        })
//	    return servers
//
// # Schema Validation
//
// Built-in schemas enforce configuration correctness:
//
//   - Resource schema: Validates resource definitions with required fields
//   - Workspace schema: Validates workspace configuration
//   - Provider schema: Validates provider declarations
//   - Target schema: Validates target selectors
//   - Dependency schema: Validates resource dependencies
//
// Custom schemas can be registered for domain-specific validation.
//
// # Error Handling
//
// All parsing and validation errors include detailed location information:
//
//	ValidationError{
//	    File: "config.cue",
//	    Line: 42,
//	    Column: 5,
//	    Path: "resources.web_server.config",
//	    Message: "field 'package' is required",
//	    Severity: "error",
//	}
//
// # Security
//
// Starlark execution is sandboxed:
//   - No filesystem access
//   - No network access
//   - Timeout enforcement (default 30 seconds)
//   - Print statements suppressed
//   - Only safe built-in functions provided
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package config
