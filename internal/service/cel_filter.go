package service

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/common/types/ref"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/axxuxy/ax-image/internal/models"
)

// DownloadedFilter is a compiled CEL expression over downloaded records.
type DownloadedFilter struct {
	program   cel.Program
	prefilter DownloadedPrefilter
}

// DownloadedPrefilter is the part of a filter the store can apply. A nil set
// means any value.
type DownloadedPrefilter struct {
	Websites      []models.Website
	DownloadTypes []models.DownloadType
	Unsatisfiable bool
}

func CompileDownloadedFilter(raw string) (*DownloadedFilter, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("website", decls.String),
			decls.NewVar("id", decls.Int),
			decls.NewVar("download_type", decls.String),
			decls.NewVar("size", decls.Int),
			decls.NewVar("width", decls.Int),
			decls.NewVar("height", decls.Int),
			decls.NewVar("score", decls.Int),
			decls.NewVar("rating", decls.String),
			decls.NewVar("tags", decls.NewListType(decls.String)),
			decls.NewVar("md5", decls.String),
			decls.NewVar("source", decls.String),
			decls.NewVar("author", decls.String),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build CEL env: %w", err)
	}

	ast, issues := env.Compile(normalized)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid CEL filter: %w", issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build CEL program: %w", err)
	}
	return &DownloadedFilter{
		program:   program,
		prefilter: derivePrefilter(ast.Expr()),
	}, nil
}

func (f *DownloadedFilter) Matches(info models.DownloadedInfo) (bool, error) {
	if f == nil {
		return true, nil
	}
	_, _, width, height := info.Variant(info.DownloadType)
	out, _, err := f.program.Eval(map[string]any{
		"website":       string(info.Website),
		"id":            info.ID,
		"download_type": string(info.DownloadType),
		"size":          info.Size,
		"width":         width,
		"height":        height,
		"score":         info.Score,
		"rating":        info.Rating,
		"tags":          info.TagList(),
		"md5":           info.MD5,
		"source":        info.Source,
		"author":        info.Author,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate CEL filter: %w", err)
	}
	return asBool(out)
}

func (f *DownloadedFilter) Prefilter() DownloadedPrefilter {
	if f == nil {
		return DownloadedPrefilter{}
	}
	return f.prefilter
}

func asBool(v ref.Val) (bool, error) {
	switch val := v.Value().(type) {
	case bool:
		return val, nil
	default:
		return false, fmt.Errorf("filter expression must return bool, got %T", val)
	}
}

func derivePrefilter(expr *exprpb.Expr) DownloadedPrefilter {
	if expr == nil {
		return DownloadedPrefilter{}
	}
	if c := expr.GetConstExpr(); c != nil {
		if v, ok := constBool(c); ok && !v {
			return DownloadedPrefilter{Unsatisfiable: true}
		}
		return DownloadedPrefilter{}
	}

	call := expr.GetCallExpr()
	if call == nil {
		return DownloadedPrefilter{}
	}
	switch call.Function {
	case "_&&_":
		if len(call.Args) != 2 {
			return DownloadedPrefilter{}
		}
		return mergePrefilterAnd(derivePrefilter(call.Args[0]), derivePrefilter(call.Args[1]))
	case "_||_":
		if len(call.Args) != 2 {
			return DownloadedPrefilter{}
		}
		return mergePrefilterOr(derivePrefilter(call.Args[0]), derivePrefilter(call.Args[1]))
	case "_==_":
		if len(call.Args) != 2 {
			return DownloadedPrefilter{}
		}
		name, c, ok := identAndConst(call.Args[0], call.Args[1])
		if !ok {
			name, c, ok = identAndConst(call.Args[1], call.Args[0])
		}
		if !ok {
			return DownloadedPrefilter{}
		}
		value, ok := constString(c)
		if !ok {
			return DownloadedPrefilter{}
		}
		return prefilterFor(name, []string{value})
	case "@in":
		if len(call.Args) != 2 {
			return DownloadedPrefilter{}
		}
		id := call.Args[0].GetIdentExpr()
		list := call.Args[1].GetListExpr()
		if id == nil || list == nil {
			return DownloadedPrefilter{}
		}
		values := make([]string, 0, len(list.Elements))
		for _, element := range list.Elements {
			value, ok := constString(element.GetConstExpr())
			if !ok {
				return DownloadedPrefilter{}
			}
			values = append(values, value)
		}
		return prefilterFor(id.Name, values)
	default:
		return DownloadedPrefilter{}
	}
}

func prefilterFor(name string, values []string) DownloadedPrefilter {
	switch name {
	case "website":
		websites := make([]models.Website, 0, len(values))
		for _, v := range values {
			websites = append(websites, models.Website(v))
		}
		return normalizePrefilter(DownloadedPrefilter{Websites: websites})
	case "download_type":
		types := make([]models.DownloadType, 0, len(values))
		for _, v := range values {
			types = append(types, models.DownloadType(v))
		}
		return normalizePrefilter(DownloadedPrefilter{DownloadTypes: types})
	default:
		return DownloadedPrefilter{}
	}
}

func mergePrefilterAnd(a DownloadedPrefilter, b DownloadedPrefilter) DownloadedPrefilter {
	if a.Unsatisfiable || b.Unsatisfiable {
		return DownloadedPrefilter{Unsatisfiable: true}
	}
	return normalizePrefilter(DownloadedPrefilter{
		Websites:      intersectSet(a.Websites, b.Websites),
		DownloadTypes: intersectSet(a.DownloadTypes, b.DownloadTypes),
	})
}

func mergePrefilterOr(a DownloadedPrefilter, b DownloadedPrefilter) DownloadedPrefilter {
	if a.Unsatisfiable {
		return b
	}
	if b.Unsatisfiable {
		return a
	}
	// A disjunction only narrows a column both sides narrow, and only when
	// neither side narrows anything else.
	out := DownloadedPrefilter{}
	if a.DownloadTypes == nil && b.DownloadTypes == nil && a.Websites != nil && b.Websites != nil {
		out.Websites = unionSet(a.Websites, b.Websites)
	}
	if a.Websites == nil && b.Websites == nil && a.DownloadTypes != nil && b.DownloadTypes != nil {
		out.DownloadTypes = unionSet(a.DownloadTypes, b.DownloadTypes)
	}
	return normalizePrefilter(out)
}

func normalizePrefilter(pf DownloadedPrefilter) DownloadedPrefilter {
	if pf.Websites != nil {
		pf.Websites = slices.DeleteFunc(pf.Websites, func(w models.Website) bool { return !w.IsValid() })
	}
	if pf.DownloadTypes != nil {
		pf.DownloadTypes = slices.DeleteFunc(pf.DownloadTypes, func(t models.DownloadType) bool { return !t.IsValid() })
	}
	if (pf.Websites != nil && len(pf.Websites) == 0) || (pf.DownloadTypes != nil && len(pf.DownloadTypes) == 0) {
		return DownloadedPrefilter{Unsatisfiable: true}
	}
	return pf
}

func intersectSet[T comparable](a []T, b []T) []T {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := make([]T, 0)
	for _, v := range a {
		if slices.Contains(b, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func unionSet[T comparable](a []T, b []T) []T {
	out := slices.Clone(a)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func identAndConst(left *exprpb.Expr, right *exprpb.Expr) (string, *exprpb.Constant, bool) {
	id := left.GetIdentExpr()
	if id == nil {
		return "", nil, false
	}
	c := right.GetConstExpr()
	if c == nil {
		return "", nil, false
	}
	return id.Name, c, true
}

func constString(c *exprpb.Constant) (string, bool) {
	if c == nil {
		return "", false
	}
	switch v := c.ConstantKind.(type) {
	case *exprpb.Constant_StringValue:
		return v.StringValue, true
	default:
		return "", false
	}
}

func constBool(c *exprpb.Constant) (bool, bool) {
	if c == nil {
		return false, false
	}
	switch v := c.ConstantKind.(type) {
	case *exprpb.Constant_BoolValue:
		return v.BoolValue, true
	default:
		return false, false
	}
}
