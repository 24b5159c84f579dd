package compiletest

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// RequiredMethods are the executor methods a candidate type must declare.
var RequiredMethods = []string{"ValidateParameters", "Execute", "OutputColumns"}

// ErrNoExecutor reports source with no type declaring every required method.
var ErrNoExecutor = errors.New("no executor type found")

// Shape is what the structural check learned about a candidate.
type Shape struct {
	Package      string
	ExecutorType string
}

// Inspect parses source and finds the first type, in declaration order, that
// declares all RequiredMethods. It checks syntax and method names only.
func Inspect(source string) (Shape, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "candidate.go", source, parser.SkipObjectResolution)
	if err != nil {
		return Shape{}, fmt.Errorf("parsing source: %w", err)
	}
	shape := Shape{Package: file.Name.Name}

	methods := map[string]map[string]bool{}
	var order []string
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || len(fn.Recv.List) != 1 {
			continue
		}
		recv := receiverName(fn.Recv.List[0].Type)
		if recv == "" {
			continue
		}
		if methods[recv] == nil {
			methods[recv] = map[string]bool{}
			order = append(order, recv)
		}
		methods[recv][fn.Name.Name] = true
	}

	best, bestMissing := "", RequiredMethods
	for _, recv := range order {
		var missing []string
		for _, m := range RequiredMethods {
			if !methods[recv][m] {
				missing = append(missing, m)
			}
		}
		if len(missing) == 0 {
			shape.ExecutorType = recv
			return shape, nil
		}
		if len(missing) < len(bestMissing) {
			best, bestMissing = recv, missing
		}
	}

	if best == "" {
		return shape, fmt.Errorf("%w: source must declare %s on one type",
			ErrNoExecutor, strings.Join(RequiredMethods, ", "))
	}
	return shape, fmt.Errorf("%w: type %s is missing %s",
		ErrNoExecutor, best, strings.Join(bestMissing, ", "))
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	default:
		return ""
	}
}
