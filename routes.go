package authn

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/goliatone/go-errors"
)

// RouteAnnotation flags route level guard metadata
type RouteAnnotation uint8

const (
	// AnnotationPublic bypasses every check
	AnnotationPublic RouteAnnotation = 1 << iota
	// AnnotationInternalOnly requires basic credentials
	AnnotationInternalOnly
	// AnnotationRefresh marks the refresh endpoint
	AnnotationRefresh
)

// Has reports whether flag is set
func (a RouteAnnotation) Has(flag RouteAnnotation) bool {
	return a&flag != 0
}

type routeRule struct {
	method      string
	pattern     string
	matcher     glob.Glob
	annotations RouteAnnotation
}

// RouteTable maps method and path patterns to annotations. Patterns use glob
// syntax with / as separator: * matches one segment, ** any number.
type RouteTable struct {
	rules []routeRule
}

// NewRouteTable returns an empty table
func NewRouteTable() *RouteTable {
	return &RouteTable{}
}

// Annotate adds annotations for method and pattern. An empty method or "*"
// matches every method.
func (t *RouteTable) Annotate(method, pattern string, annotations RouteAnnotation) error {
	matcher, err := compilePattern(pattern)
	if err != nil {
		return err
	}

	t.rules = append(t.rules, routeRule{
		method:      normalizeMethod(method),
		pattern:     pattern,
		matcher:     matcher,
		annotations: annotations,
	})
	return nil
}

// Public marks method and pattern as public, panics on a bad pattern
func (t *RouteTable) Public(method, pattern string) *RouteTable {
	return t.mustAnnotate(method, pattern, AnnotationPublic)
}

// InternalOnly marks method and pattern as basic auth guarded, panics on a bad pattern
func (t *RouteTable) InternalOnly(method, pattern string) *RouteTable {
	return t.mustAnnotate(method, pattern, AnnotationInternalOnly)
}

// Refresh marks method and pattern as the refresh endpoint, panics on a bad pattern
func (t *RouteTable) Refresh(method, pattern string) *RouteTable {
	return t.mustAnnotate(method, pattern, AnnotationRefresh)
}

// Lookup returns the union of annotations of every matching rule
func (t *RouteTable) Lookup(method, path string) RouteAnnotation {
	if t == nil {
		return 0
	}

	method = normalizeMethod(method)
	var out RouteAnnotation
	for _, r := range t.rules {
		if r.method != "" && r.method != method {
			continue
		}
		if r.matcher.Match(path) {
			out |= r.annotations
		}
	}
	return out
}

// HasInternalOnly reports whether any rule requires basic credentials
func (t *RouteTable) HasInternalOnly() bool {
	if t == nil {
		return false
	}
	for _, r := range t.rules {
		if r.annotations.Has(AnnotationInternalOnly) {
			return true
		}
	}
	return false
}

func (t *RouteTable) mustAnnotate(method, pattern string, a RouteAnnotation) *RouteTable {
	if err := t.Annotate(method, pattern, a); err != nil {
		panic(err)
	}
	return t
}

func compilePattern(pattern string) (glob.Glob, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, errors.New("route pattern must not be empty", errors.CategoryBadInput)
	}

	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid route pattern").
			WithMetadata(map[string]any{"pattern": pattern})
	}
	return g, nil
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "*" {
		return ""
	}
	return method
}
