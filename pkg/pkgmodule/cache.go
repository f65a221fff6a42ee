package pkgmodule

import (
	"context"
	"strings"

	"github.com/promised/agent/pkg/agentlib"
)

// CacheKind distinguishes the three inventories a package module
// tracks: what's installed, what updates the default repositories
// offer, and what updates a caller-supplied local source offers.
type CacheKind string

const (
	CacheInstalled    CacheKind = "installed"
	CacheUpdates      CacheKind = "updates"
	CacheLocalUpdates CacheKind = "local-updates"
)

func (k CacheKind) verb() Verb {
	switch k {
	case CacheInstalled:
		return VerbListInstalled
	case CacheUpdates:
		return VerbListUpdates
	case CacheLocalUpdates:
		return VerbListUpdatesLocal
	default:
		return VerbListInstalled
	}
}

// Cache is the key-value contract the three inventories are persisted
// through. One key holds one module's one CacheKind as a newline-
// joined "name,version,arch" inventory list, matching the historical
// on-disk encoding.
type Cache interface {
	Get(moduleName string, kind CacheKind) (inventory string, ok bool, err error)
	Put(moduleName string, kind CacheKind, inventory string) error
}

// inventoryKey is the line format one package occupies inside a cached
// inventory list.
func inventoryLine(info *PackageInfo) string {
	return info.Name + "," + info.Version + "," + info.Arch
}

// ParseInventory splits a cached inventory blob back into PackageInfo
// records.
func ParseInventory(blob string) []PackageInfo {
	var out []PackageInfo
	for _, line := range strings.Split(strings.TrimRight(blob, "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		info := PackageInfo{Name: parts[0]}
		if len(parts) > 1 {
			info.Version = parts[1]
		}
		if len(parts) > 2 {
			info.Arch = parts[2]
		}
		out = append(out, info)
	}
	return out
}

// UpdateCache asks the adapter to list the packages for kind and
// rewrites the cache entry for moduleName with the result. It updates
// the cache even when the adapter reports an empty list, so a
// previously populated cache is correctly cleared.
func UpdateCache(ctx context.Context, w *Wrapper, cache Cache, options []string, kind CacheKind) error {
	req := NewRequest(kind.verb()).WithOptions(options)
	resp, err := w.Communicate(ctx, req)
	if err != nil {
		return err
	}

	records, err := groupPackageRecords(resp)
	if err != nil {
		return agentlib.NewPermanentError("pkgmodule: malformed %s response from %s: %v", kind, w.Name, err).
			WithCode(agentlib.CodeModuleFailed)
	}

	var b strings.Builder
	for _, rec := range records {
		b.WriteString(inventoryLine(&rec))
		b.WriteByte('\n')
	}
	return cache.Put(w.Name, kind, b.String())
}

// groupPackageRecords splits a flat list-installed/list-updates
// response into one PackageInfo per Name= line, matching the
// adapter's convention of repeating a fixed Name/Version/Architecture
// triple per package with no separator other than field repetition.
func groupPackageRecords(resp *Response) ([]PackageInfo, error) {
	var records []PackageInfo
	var cur PackageInfo
	flush := func() {
		if cur.Name != "" {
			records = append(records, cur)
		}
		cur = PackageInfo{}
	}

	for _, f := range resp.Fields {
		switch f.Key {
		case FieldName:
			if cur.Name != "" {
				flush()
			}
			cur.Name = f.Value
		case FieldVersion:
			cur.Version = f.Value
		case FieldArchitecture:
			cur.Arch = f.Value
		case FieldError, FieldErrorMessage:
			return records, newModuleError("%s", f.Value)
		}
	}
	flush()
	return records, nil
}

// IsInstalled reports whether name (optionally pinned to version and
// arch) appears in module's cached installed inventory.
func IsInstalled(cache Cache, moduleName, name, version, arch string) (bool, error) {
	blob, ok, err := cache.Get(moduleName, CacheInstalled)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	for _, info := range ParseInventory(blob) {
		if info.Name != name {
			continue
		}
		if version != "" && info.Version != version {
			continue
		}
		if arch != "" && info.Arch != arch {
			continue
		}
		return true, nil
	}
	return false, nil
}
