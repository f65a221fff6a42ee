package policy

// DataType enumerates the declared types a constraint's right-value
// may take, used by the validator's constraint type check.
type DataType string

const (
	DataTypeString       DataType = "string"
	DataTypeStringList   DataType = "stringList"
	DataTypeInt          DataType = "int"
	DataTypeReal         DataType = "real"
	DataTypeBool         DataType = "bool"
	DataTypeBodyRef      DataType = "bodyRef"
	DataTypeContainer    DataType = "container"
	DataTypeOption       DataType = "option" // one of a fixed enum of strings
)

// AttributeSyntax describes one promise-type or body attribute: its
// declared data type, whether it is required, and (for DataTypeOption)
// the allowed values.
type AttributeSyntax struct {
	LVal       string
	Type       DataType
	BodyType   string // required body type when Type == DataTypeBodyRef
	Options    []string
	Required   bool
}

// PromiseTypeSyntax describes the attributes legal on promises of one
// promise-type within one bundle-type.
type PromiseTypeSyntax struct {
	BundleType  string
	PromiseType string
	Attributes  map[string]AttributeSyntax
}

// commonAttributes are valid on every promise regardless of bundle or
// promise type.
var commonAttributes = map[string]AttributeSyntax{
	"if":         {LVal: "if", Type: DataTypeString},
	"ifvarclass": {LVal: "ifvarclass", Type: DataTypeString},
	"comment":    {LVal: "comment", Type: DataTypeString},
	"handle":     {LVal: "handle", Type: DataTypeString},
	"depends_on": {LVal: "depends_on", Type: DataTypeStringList},
	"meta":       {LVal: "meta", Type: DataTypeStringList},
	"action_policy": {LVal: "action_policy", Type: DataTypeBodyRef, BodyType: "action"},
	"expireafter": {LVal: "expireafter", Type: DataTypeInt},
	"ifelapsed":   {LVal: "ifelapsed", Type: DataTypeInt},
}

// commonControlAttributes are the attributes of the body
// default:common.control, consulted directly by the validator (e.g.
// require_comments) and by the runner for bundlesequence.
var commonControlAttributes = map[string]AttributeSyntax{
	"bundlesequence":  {LVal: "bundlesequence", Type: DataTypeStringList, Required: true},
	"inputs":          {LVal: "inputs", Type: DataTypeStringList},
	"require_comments": {LVal: "require_comments", Type: DataTypeBool},
	"version":         {LVal: "version", Type: DataTypeString},
}

// builtinPromiseTypes is the static description of every known
// promise type's attributes, keyed by bundle type then promise type.
// This is deliberately data, not code: the validator and expander
// consult it uniformly instead of special-casing promise types in
// control flow.
var builtinPromiseTypes = map[string]map[string]PromiseTypeSyntax{
	"agent": {
		"files": {
			BundleType: "agent", PromiseType: "files",
			Attributes: map[string]AttributeSyntax{
				"create":        {LVal: "create", Type: DataTypeBool},
				"perms":         {LVal: "perms", Type: DataTypeBodyRef, BodyType: "perms"},
				"edit_line":     {LVal: "edit_line", Type: DataTypeBodyRef, BodyType: "edit_line"},
				"edit_defaults": {LVal: "edit_defaults", Type: DataTypeBodyRef, BodyType: "edit_defaults"},
				"copy_from":     {LVal: "copy_from", Type: DataTypeBodyRef, BodyType: "copy_from"},
				"delete":        {LVal: "delete", Type: DataTypeBodyRef, BodyType: "delete"},
				"file_select":   {LVal: "file_select", Type: DataTypeBodyRef, BodyType: "file_select"},
				"depth_search":  {LVal: "depth_search", Type: DataTypeBodyRef, BodyType: "depth_search"},
				"changes":       {LVal: "changes", Type: DataTypeBodyRef, BodyType: "changes"},
			},
		},
		"packages": {
			BundleType: "agent", PromiseType: "packages",
			Attributes: map[string]AttributeSyntax{
				"package_policy": {LVal: "package_policy", Type: DataTypeOption, Options: []string{"present", "absent"}},
				"package_method": {LVal: "package_method", Type: DataTypeBodyRef, BodyType: "package_module"},
				"package_version": {LVal: "package_version", Type: DataTypeString},
				"package_architectures": {LVal: "package_architectures", Type: DataTypeStringList},
			},
		},
		"vars": {
			BundleType: "agent", PromiseType: "vars",
			Attributes: map[string]AttributeSyntax{
				"string": {LVal: "string", Type: DataTypeString},
				"slist":  {LVal: "slist", Type: DataTypeStringList},
				"int":    {LVal: "int", Type: DataTypeInt},
				"real":   {LVal: "real", Type: DataTypeReal},
				"data":   {LVal: "data", Type: DataTypeContainer},
			},
		},
		"classes": {
			BundleType: "agent", PromiseType: "classes",
			Attributes: map[string]AttributeSyntax{
				"expression": {LVal: "expression", Type: DataTypeString},
				"scope":      {LVal: "scope", Type: DataTypeOption, Options: []string{"namespace", "bundle"}},
				"persistence": {LVal: "persistence", Type: DataTypeInt},
				"policy":     {LVal: "policy", Type: DataTypeOption, Options: []string{"reset", "preserve"}},
			},
		},
		"reports": {
			BundleType: "agent", PromiseType: "reports",
			Attributes: map[string]AttributeSyntax{
				"friend_pattern": {LVal: "friend_pattern", Type: DataTypeString},
				"report_to_file": {LVal: "report_to_file", Type: DataTypeString},
			},
		},
	},
	"edit_line": {
		"vars": {
			BundleType: "edit_line", PromiseType: "vars",
			Attributes: map[string]AttributeSyntax{
				"string": {LVal: "string", Type: DataTypeString},
				"slist":  {LVal: "slist", Type: DataTypeStringList},
			},
		},
		"classes": {
			BundleType: "edit_line", PromiseType: "classes",
			Attributes: map[string]AttributeSyntax{
				"expression": {LVal: "expression", Type: DataTypeString},
			},
		},
		"delete_lines": {
			BundleType: "edit_line", PromiseType: "delete_lines",
			Attributes: map[string]AttributeSyntax{
				"select_region":      {LVal: "select_region", Type: DataTypeBodyRef, BodyType: "edit_region"},
				"not_matching":       {LVal: "not_matching", Type: DataTypeBool},
			},
		},
		"field_edits": {
			BundleType: "edit_line", PromiseType: "field_edits",
			Attributes: map[string]AttributeSyntax{
				"select_field":       {LVal: "select_field", Type: DataTypeInt},
				"value_separator":    {LVal: "value_separator", Type: DataTypeString},
				"field_value":        {LVal: "field_value", Type: DataTypeString},
				"field_operation":    {LVal: "field_operation", Type: DataTypeOption, Options: []string{"set", "delete", "prepend", "alphanum", "append"}},
				"extend_columns":     {LVal: "extend_columns", Type: DataTypeBool},
				"select_region":      {LVal: "select_region", Type: DataTypeBodyRef, BodyType: "edit_region"},
			},
		},
		"insert_lines": {
			BundleType: "edit_line", PromiseType: "insert_lines",
			Attributes: map[string]AttributeSyntax{
				"insert_type":            {LVal: "insert_type", Type: DataTypeOption, Options: []string{"literal", "preserve_all_lines", "preserve_block", "file", "file_preserve_block"}},
				"location":               {LVal: "location", Type: DataTypeBodyRef, BodyType: "location"},
				"whitespace_policy":      {LVal: "whitespace_policy", Type: DataTypeBodyRef, BodyType: "insert_match"},
				"select_region":          {LVal: "select_region", Type: DataTypeBodyRef, BodyType: "edit_region"},
				"select_line_matching":   {LVal: "select_line_matching", Type: DataTypeString},
				"not_matching":           {LVal: "not_matching", Type: DataTypeBool},
				"startwith_from_list":    {LVal: "startwith_from_list", Type: DataTypeStringList},
				"not_startwith_from_list": {LVal: "not_startwith_from_list", Type: DataTypeStringList},
				"match_from_list":        {LVal: "match_from_list", Type: DataTypeStringList},
				"not_match_from_list":    {LVal: "not_match_from_list", Type: DataTypeStringList},
				"contains_from_list":     {LVal: "contains_from_list", Type: DataTypeStringList},
				"not_contains_from_list": {LVal: "not_contains_from_list", Type: DataTypeStringList},
			},
		},
		"replace_patterns": {
			BundleType: "edit_line", PromiseType: "replace_patterns",
			Attributes: map[string]AttributeSyntax{
				"replace_value": {LVal: "replace_value", Type: DataTypeString},
				"occurrences":   {LVal: "occurrences", Type: DataTypeOption, Options: []string{"first", "all"}},
				"select_region": {LVal: "select_region", Type: DataTypeBodyRef, BodyType: "edit_region"},
			},
		},
		"reports": {
			BundleType: "edit_line", PromiseType: "reports",
			Attributes: map[string]AttributeSyntax{
				"friend_pattern": {LVal: "friend_pattern", Type: DataTypeString},
			},
		},
	},
}

// LookupPromiseType returns the static syntax for a (bundleType,
// promiseType) pair and whether it is known.
func LookupPromiseType(bundleType, promiseType string) (PromiseTypeSyntax, bool) {
	byPromise, ok := builtinPromiseTypes[bundleType]
	if !ok {
		return PromiseTypeSyntax{}, false
	}
	syn, ok := byPromise[promiseType]
	return syn, ok
}

// LookupAttribute resolves lval against the promise-type-specific
// table first, falling back to the attributes valid on every promise.
func LookupAttribute(bundleType, promiseType, lval string) (AttributeSyntax, bool) {
	if syn, ok := LookupPromiseType(bundleType, promiseType); ok {
		if attr, ok := syn.Attributes[lval]; ok {
			return attr, true
		}
	}
	attr, ok := commonAttributes[lval]
	return attr, ok
}

// KnownBundleTypes lists the fixed set of bundle types the syntax
// tables recognize. Bundles of other types are permitted (custom
// promise types define their own bundle type) but carry no static
// attribute checking beyond the common attributes.
var KnownBundleTypes = []string{"agent", "edit_line", "edit_xml", "server", "monitor", "knowledge", "common"}

// editLineSectionOrder is the fixed pass order: within one edit_line
// bundle, sections are evaluated in this order, looped up to
// maxEditLinePasses times until no section in the pass produced a
// change.
var editLineSectionOrder = []string{
	"vars", "classes", "delete_lines", "field_edits", "insert_lines", "replace_patterns", "reports",
}

// EditLineSectionOrder returns the fixed per-pass section order used
// by the edit-line engine.
func EditLineSectionOrder() []string {
	out := make([]string, len(editLineSectionOrder))
	copy(out, editLineSectionOrder)
	return out
}

// agentSectionOrder is the fixed promise-type evaluation order within
// one "agent"-type bundle: variables and classes resolve first so
// later sections can depend on them, state-changing sections follow in
// an order chosen so less disruptive promise types (packages, files)
// run before ones that depend on their effects (services restarting
// after a file they watch changes, commands running last so they can
// act on everything else).
var agentSectionOrder = []string{
	"meta", "vars", "defaults", "classes",
	"packages", "files", "commands", "processes", "services", "methods",
	"reports",
}

// AgentSectionOrder returns the fixed per-bundle section order used
// when evaluating an "agent"-type bundle.
func AgentSectionOrder() []string {
	out := make([]string, len(agentSectionOrder))
	copy(out, agentSectionOrder)
	return out
}
