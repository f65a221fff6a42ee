package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/promised/agent/pkg/policy"
)

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		errCount  int
		checkFunc func(*testing.T, *ParsedConfig)
	}{
		{
			name: "valid simple config",
			content: `
workspace: {
	name: "test"
	version: "1.0"
}

resources: {
	test_resource: {
		id: "test_res"
		type: "packages"
		name: "nginx"
		config: {
			package_policy: "present"
		}
	}
}
`,
			wantErr: false,
			checkFunc: func(t *testing.T, pc *ParsedConfig) {
				if pc.Workspace.Name != "test" {
					t.Errorf("expected workspace name 'test', got %s", pc.Workspace.Name)
				}
				if len(pc.Resources) != 1 {
					t.Errorf("expected 1 resource, got %d", len(pc.Resources))
				}
				if len(pc.Resources) > 0 && pc.Resources[0].Type != "packages" {
					t.Errorf("expected resource type 'packages', got %s", pc.Resources[0].Type)
				}
			},
		},
		{
			name: "invalid CUE syntax",
			content: `
workspace: {
	name: "test"
	invalid syntax here
}
`,
			wantErr:  true,
			errCount: 1,
		},
		{
			name: "missing required field",
			content: `
resources: {
	test_resource: {
		type: "packages"
		config: {}
	}
}
`,
			wantErr:  true,
			errCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := parser.ParseInline(ctx, tt.content)

			if tt.wantErr {
				if err == nil && len(pc.Errors) == 0 {
					t.Errorf("expected error, got none")
				}
				if tt.errCount > 0 && len(pc.Errors) != tt.errCount {
					t.Errorf("expected %d errors, got %d", tt.errCount, len(pc.Errors))
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if len(pc.Errors) > 0 {
					t.Errorf("unexpected validation errors: %v", pc.Errors)
				}
				if tt.checkFunc != nil {
					tt.checkFunc(t, pc)
				}
			}
		})
	}
}

func TestCUEParser_ParseFile(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.cue")

	content := `
workspace: {
	name: "filetest"
	version: "1.0"
}

resources: {
	web_server: {
		id: "web"
		type: "packages"
		name: "nginx"
		config: {
			package_policy: "present"
		}
		labels: {
			env: "test"
		}
	}
}
`

	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	pc, err := parser.Parse(ctx, []string{testFile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected validation errors: %v", pc.Errors)
	}

	if pc.Workspace.Name != "filetest" {
		t.Errorf("expected workspace name 'filetest', got %s", pc.Workspace.Name)
	}

	if len(pc.Resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(pc.Resources))
	}

	res := pc.Resources[0]
	if res.ID != "web" {
		t.Errorf("expected resource ID 'web', got %s", res.ID)
	}
	if res.Labels["env"] != "test" {
		t.Errorf("expected label env='test', got %s", res.Labels["env"])
	}
}

func TestCUEParser_Evaluate(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "config.cue")

	content := `
workspace: {
	name: "integration"
	version: "1.0"
	providers: [{
		name: "packages"
		version: ">=1.0.0"
	}]
}

resources: {
	app: {
		id: "app"
		type: "packages"
		name: "myapp"
		config: {
			package_policy: "present"
		}
	}
}
`

	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	p, err := parser.Evaluate(ctx, []string{testFile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p == nil {
		t.Fatal("expected non-nil policy")
	}
	if !p.IsRunnable() {
		t.Error("expected compiled policy to declare a runnable agent bundle")
	}

	bundle := p.LookupBundle("default", "agent", "integration")
	if bundle == nil {
		t.Fatal("expected bundle named after the workspace")
	}
	section := findSection(bundle, "packages")
	if section == nil {
		t.Fatal("expected a packages section")
	}
	if len(section.Promises) != 1 {
		t.Errorf("expected 1 promise, got %d", len(section.Promises))
	}
}

func findSection(bundle *policy.Bundle, promiseType string) *policy.BundleSection {
	for _, s := range bundle.Sections {
		if s.PromiseType == promiseType {
			return s
		}
	}
	return nil
}

func TestCUEParser_MergeConfigs(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tmpDir := t.TempDir()

	file1 := filepath.Join(tmpDir, "config1.cue")
	file2 := filepath.Join(tmpDir, "config2.cue")

	content1 := `
workspace: {name: "merge1", version: "1.0"}
resources: {
	res1: {
		id: "res1"
		type: "packages"
		name: "pkg1"
		config: {package_policy: "present"}
	}
}
`

	content2 := `
workspace: {name: "merge2", version: "1.0"}
resources: {
	res2: {
		id: "res2"
		type: "packages"
		name: "pkg2"
		config: {package_policy: "present"}
	}
}
`

	if err := os.WriteFile(file1, []byte(content1), 0644); err != nil {
		t.Fatalf("failed to create file1: %v", err)
	}
	if err := os.WriteFile(file2, []byte(content2), 0644); err != nil {
		t.Fatalf("failed to create file2: %v", err)
	}

	cfg1, err := parser.Parse(ctx, []string{file1})
	if err != nil {
		t.Fatalf("failed to parse config1: %v", err)
	}

	cfg2, err := parser.Parse(ctx, []string{file2})
	if err != nil {
		t.Fatalf("failed to parse config2: %v", err)
	}

	merged, err := parser.MergeConfigs(ctx, []*ParsedConfig{cfg1, cfg2})
	if err != nil {
		t.Fatalf("failed to merge configs: %v", err)
	}

	bundle := merged.LookupBundle("default", "agent", "merge1")
	if bundle == nil {
		t.Fatal("expected merged bundle")
	}
	section := findSection(bundle, "packages")
	if section == nil {
		t.Fatal("expected a packages section")
	}
	if len(section.Promises) != 2 {
		t.Errorf("expected 2 promises in merged policy, got %d", len(section.Promises))
	}
}

func TestCUEParser_Dependencies(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	content := `
workspace: {name: "deps", version: "1.0"}

resources: {
	pkg: {
		id: "pkg"
		type: "packages"
		name: "nginx"
		config: {package_policy: "present"}
	}

	svc: {
		id: "svc"
		type: "packages"
		name: "nginx-service"
		config: {package_policy: "present"}
		dependencies: [
			{resource_id: "pkg", type: "require"}
		]
	}
}
`

	pc, err := parser.ParseInline(ctx, content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected validation errors: %v", pc.Errors)
	}

	var svcRes *ResourceConfig
	for i := range pc.Resources {
		if pc.Resources[i].ID == "svc" {
			svcRes = &pc.Resources[i]
			break
		}
	}

	if svcRes == nil {
		t.Fatal("service resource not found")
	}

	if len(svcRes.Dependencies) != 1 {
		t.Errorf("expected 1 dependency, got %d", len(svcRes.Dependencies))
	}

	if len(svcRes.Dependencies) > 0 {
		dep := svcRes.Dependencies[0]
		if dep.ResourceID != "pkg" {
			t.Errorf("expected dependency on 'pkg', got %s", dep.ResourceID)
		}
		if dep.Type != DependencyRequire {
			t.Errorf("expected require dependency, got %s", dep.Type)
		}
	}
}

func TestCUEParser_TargetSelectors(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	content := `
workspace: {name: "targets", version: "1.0"}

resources: {
	res_labels: {
		id: "res1"
		type: "packages"
		name: "pkg1"
		config: {package_policy: "present"}
		target: {
			labels: {env: "prod", role: "web"}
		}
	}

	res_hosts: {
		id: "res2"
		type: "packages"
		name: "pkg2"
		config: {package_policy: "present"}
		target: {
			hosts: ["host1", "host2"]
		}
	}

	res_all: {
		id: "res3"
		type: "packages"
		name: "pkg3"
		config: {package_policy: "present"}
		target: {
			all: true
		}
	}
}
`

	pc, err := parser.ParseInline(ctx, content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected validation errors: %v", pc.Errors)
	}

	if len(pc.Resources) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(pc.Resources))
	}

	res1 := pc.Resources[0]
	if len(res1.Target.Labels) != 2 {
		t.Errorf("expected 2 target labels, got %d", len(res1.Target.Labels))
	}

	res2 := pc.Resources[1]
	if len(res2.Target.Hosts) != 2 {
		t.Errorf("expected 2 target hosts, got %d", len(res2.Target.Hosts))
	}

	res3 := pc.Resources[2]
	if !res3.Target.All {
		t.Error("expected target.all to be true")
	}
}
