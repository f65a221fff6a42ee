package policy

import "encoding/json"

// The JSON shapes below mirror the bundle/body/promise AST. Field
// names are chosen to match the wire contract exactly; Go-side
// consumers should use the typed model in model.go and only reach for
// these types at the serialization boundary (pkg/runner's --json
// output, tooling that inspects a policy without re-parsing it).

type jsonPolicy struct {
	ReleaseID string       `json:"releaseId,omitempty"`
	Bundles   []jsonBundle `json:"bundles"`
	Bodies    []jsonBody   `json:"bodies"`
}

type jsonBundle struct {
	Name         string            `json:"name"`
	Namespace    string            `json:"namespace"`
	BundleType   string            `json:"bundleType"`
	SourcePath   string            `json:"sourcePath"`
	Line         int               `json:"line"`
	Arguments    []string          `json:"arguments"`
	PromiseTypes []jsonPromiseType `json:"promiseTypes"`
}

type jsonPromiseType struct {
	Name     string        `json:"name"`
	Line     int           `json:"line"`
	Contexts []jsonContext `json:"contexts"`
}

// jsonContext groups promises by class guard ("context" in the wire
// vocabulary), matching how the legacy JSON bridge groups same-guard
// promises together rather than repeating the guard per promise.
type jsonContext struct {
	Name     string        `json:"name"`
	Promises []jsonPromise `json:"promises"`
}

type jsonPromise struct {
	Promiser   string          `json:"promiser"`
	Promisee   *jsonRightValue `json:"promisee,omitempty"`
	Line       int             `json:"line"`
	Comment    string          `json:"comment,omitempty"`
	Handle     string          `json:"handle,omitempty"`
	Attributes []jsonAttribute `json:"attributes"`
}

type jsonAttribute struct {
	LVal string         `json:"lval"`
	RVal jsonRightValue `json:"rval"`
	Line int            `json:"line"`
}

type jsonRightValue struct {
	Type      string            `json:"type"`
	Value     string            `json:"value,omitempty"`
	Name      string            `json:"name,omitempty"` // body name, for type == "symbol"
	List      []jsonRightValue  `json:"list,omitempty"`
	Arguments []jsonRightValue  `json:"arguments,omitempty"` // for type == "functionCall"
	Container json.RawMessage   `json:"container,omitempty"`
}

type jsonBody struct {
	Name       string          `json:"name"`
	Namespace  string          `json:"namespace"`
	BodyType   string          `json:"bodyType"`
	SourcePath string          `json:"sourcePath"`
	Line       int             `json:"line"`
	Arguments  []string        `json:"arguments"`
	Attributes []jsonAttribute `json:"attributes"`
}

func toJSONRightValue(r RightValue) jsonRightValue {
	out := jsonRightValue{Type: string(r.Kind)}
	switch r.Kind {
	case RightValueString:
		out.Value = r.String
	case RightValueSymbol:
		out.Name = r.String
	case RightValueList:
		out.List = make([]jsonRightValue, len(r.List))
		for i, item := range r.List {
			out.List[i] = toJSONRightValue(item)
		}
	case RightValueFunctionCall:
		out.Name = r.Call.Name
		out.Arguments = make([]jsonRightValue, len(r.Call.Args))
		for i, arg := range r.Call.Args {
			out.Arguments[i] = toJSONRightValue(arg)
		}
	case RightValueContainer:
		raw, _ := json.Marshal(r.Container)
		out.Container = raw
	}
	return out
}

func fromJSONRightValue(j jsonRightValue) RightValue {
	switch RightValueKind(j.Type) {
	case RightValueSymbol:
		return SymbolRef(j.Name)
	case RightValueList:
		items := make([]RightValue, len(j.List))
		for i, item := range j.List {
			items[i] = fromJSONRightValue(item)
		}
		return ListOf(items...)
	case RightValueFunctionCall:
		args := make([]RightValue, len(j.Arguments))
		for i, a := range j.Arguments {
			args[i] = fromJSONRightValue(a)
		}
		return RightValue{Kind: RightValueFunctionCall, Call: &FunctionCall{Name: j.Name, Args: args}}
	case RightValueContainer:
		var v any
		_ = json.Unmarshal(j.Container, &v)
		return RightValue{Kind: RightValueContainer, Container: v}
	default:
		return Scalar(j.Value)
	}
}

func toJSONAttributes(constraints []*Constraint) []jsonAttribute {
	out := make([]jsonAttribute, len(constraints))
	for i, c := range constraints {
		out[i] = jsonAttribute{LVal: c.LVal, RVal: toJSONRightValue(c.RVal), Line: c.Offset.Line}
	}
	return out
}

// ToJSON serializes a Policy to its wire shape. Promises within
// a section are grouped by class guard into "contexts" in source
// order of first appearance.
func ToJSON(p *Policy) ([]byte, error) {
	jp := jsonPolicy{ReleaseID: p.ReleaseID}
	for _, b := range p.Bundles {
		jb := jsonBundle{
			Name: b.Name, Namespace: b.Namespace, BundleType: b.Type,
			SourcePath: b.SourcePath, Line: b.Offset.Line, Arguments: b.Args,
		}
		for _, section := range b.Sections {
			jpt := jsonPromiseType{Name: section.PromiseType, Line: section.Offset.Line}
			order := make([]string, 0)
			byGuard := make(map[string][]jsonPromise)
			for _, promise := range section.Promises {
				jpr := jsonPromise{
					Promiser: promise.Promiser, Line: promise.Offset.Line,
					Comment: promise.Comment, Handle: promise.Handle,
					Attributes: toJSONAttributes(promise.Constraints),
				}
				if promise.Promisee != nil {
					v := toJSONRightValue(*promise.Promisee)
					jpr.Promisee = &v
				}
				if _, ok := byGuard[promise.ClassGuard]; !ok {
					order = append(order, promise.ClassGuard)
				}
				byGuard[promise.ClassGuard] = append(byGuard[promise.ClassGuard], jpr)
			}
			for _, guard := range order {
				jpt.Contexts = append(jpt.Contexts, jsonContext{Name: guard, Promises: byGuard[guard]})
			}
			jb.PromiseTypes = append(jb.PromiseTypes, jpt)
		}
		jp.Bundles = append(jp.Bundles, jb)
	}
	for _, b := range p.Bodies {
		jp.Bodies = append(jp.Bodies, jsonBody{
			Name: b.Name, Namespace: b.Namespace, BodyType: b.Type,
			SourcePath: b.SourcePath, Line: b.Offset.Line, Arguments: b.Args,
			Attributes: toJSONAttributes(b.Constraints),
		})
	}
	return json.Marshal(jp)
}

// FromJSON deserializes a Policy from its wire shape. Round-tripping
// ToJSON/FromJSON preserves the policy up to map ordering — the
// grouping-by-guard above is why contexts, not a flat promise list,
// is the unit that must round-trip exactly.
func FromJSON(data []byte) (*Policy, error) {
	var jp jsonPolicy
	if err := json.Unmarshal(data, &jp); err != nil {
		return nil, err
	}
	p := New()
	p.ReleaseID = jp.ReleaseID
	for _, jb := range jp.Bundles {
		b := p.AppendBundle(jb.Namespace, jb.BundleType, jb.Name, jb.Arguments, jb.SourcePath, SourceOffset{Path: jb.SourcePath, Line: jb.Line})
		for _, jpt := range jb.PromiseTypes {
			section := b.AppendSection(jpt.Name, SourceOffset{Path: jb.SourcePath, Line: jpt.Line})
			for _, ctx := range jpt.Contexts {
				for _, jpr := range ctx.Promises {
					promise, err := section.AppendPromise(jpr.Promiser, SourceOffset{Path: jb.SourcePath, Line: jpr.Line})
					if err != nil {
						return nil, err
					}
					promise.ClassGuard = ctx.Name
					promise.Comment = jpr.Comment
					promise.Handle = jpr.Handle
					if jpr.Promisee != nil {
						v := fromJSONRightValue(*jpr.Promisee)
						promise.Promisee = &v
					}
					for _, attr := range jpr.Attributes {
						promise.AppendConstraint(attr.LVal, fromJSONRightValue(attr.RVal), SourceOffset{Path: jb.SourcePath, Line: attr.Line})
					}
				}
			}
		}
	}
	for _, jbody := range jp.Bodies {
		body := p.AppendBody(jbody.Namespace, jbody.BodyType, jbody.Name, jbody.Arguments, jbody.SourcePath, SourceOffset{Path: jbody.SourcePath, Line: jbody.Line})
		for _, attr := range jbody.Attributes {
			body.AppendConstraint(attr.LVal, fromJSONRightValue(attr.RVal), "any", SourceOffset{Path: jbody.SourcePath, Line: attr.Line})
		}
	}
	return p, nil
}
