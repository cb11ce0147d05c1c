package architecture_test

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Layers from the bottom up. A package may import its own layer and anything
// below it, never above.
var layerRank = map[string]int{
	"platform":      0,
	"domain":        1,
	"data":          2,
	"realtime":      2,
	"observability": 2,
	"ingestion":     3,
	"jobs":          3,
	"services":      4,
	"http":          5,
	"app":           6,
	"cli":           7,
}

// Only the composition root may import these.
var entrypoints = map[string]string{
	"internal/app": "internal/cli/",
	"internal/cli": "cmd/",
}

// Transport libraries stay out of everything below the http layer.
var httpOnly = []string{"github.com/gin-gonic/gin", "github.com/gin-contrib/"}

type importEdge struct {
	file   string // module-relative, slash separated
	target string
	test   bool
}

var (
	scanOnce  sync.Once
	scanned   []importEdge
	modPath   string
	scanError error
)

func edges(t *testing.T) ([]importEdge, string) {
	t.Helper()
	scanOnce.Do(func() { scanned, modPath, scanError = scanModule() })
	if scanError != nil {
		t.Fatalf("scan module: %v", scanError)
	}
	return scanned, modPath
}

func TestLayerImports(t *testing.T) {
	all, mod := edges(t)
	var bad []string
	for _, e := range all {
		from, ok := layerOf(e.file)
		if !ok {
			continue
		}
		rel, local := strings.CutPrefix(e.target, mod+"/")
		if !local {
			continue
		}
		to, ok := layerOf(rel)
		if !ok {
			continue
		}
		if layerRank[to] > layerRank[from] {
			bad = append(bad, fmt.Sprintf("- %s (%s) imports %s (%s)", e.file, from, e.target, to))
		}
	}
	if len(bad) > 0 {
		t.Fatalf("upward imports:\n%s", strings.Join(bad, "\n"))
	}
}

func TestEntrypointPackagesNotImported(t *testing.T) {
	all, mod := edges(t)
	var bad []string
	for _, e := range all {
		for pkg, allowedFrom := range entrypoints {
			full := mod + "/" + pkg
			if e.target != full && !strings.HasPrefix(e.target, full+"/") {
				continue
			}
			if strings.HasPrefix(e.file, pkg+"/") || strings.HasPrefix(e.file, allowedFrom) {
				continue
			}
			bad = append(bad, fmt.Sprintf("- %s imports %q", e.file, e.target))
		}
	}
	if len(bad) > 0 {
		t.Fatalf("entrypoint packages imported outside the composition root:\n%s", strings.Join(bad, "\n"))
	}
}

func TestTransportStaysInHTTPLayer(t *testing.T) {
	all, _ := edges(t)
	var bad []string
	for _, e := range all {
		layer, ok := layerOf(e.file)
		if !ok || e.test || layerRank[layer] >= layerRank["http"] {
			continue
		}
		for _, lib := range httpOnly {
			if strings.HasPrefix(e.target, lib) {
				bad = append(bad, fmt.Sprintf("- %s imports %q", e.file, e.target))
			}
		}
	}
	if len(bad) > 0 {
		t.Fatalf("transport imports below the http layer:\n%s", strings.Join(bad, "\n"))
	}
}

func layerOf(rel string) (string, bool) {
	rest, ok := strings.CutPrefix(rel, "internal/")
	if !ok {
		return "", false
	}
	top, _, _ := strings.Cut(rest, "/")
	_, known := layerRank[top]
	return top, known
}

func scanModule() ([]importEdge, string, error) {
	start, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	root, err := findModuleRoot(start)
	if err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return nil, "", err
	}
	mod := modulePath(string(raw))
	if mod == "" {
		return nil, "", fmt.Errorf("module path not found in go.mod")
	}

	fset := token.NewFileSet()
	var out []importEdge
	for _, dir := range []string{"internal", "cmd"} {
		err := filepath.WalkDir(filepath.Join(root, dir), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".go") {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return err
			}
			for _, spec := range f.Imports {
				imp, err := strconv.Unquote(spec.Path.Value)
				if err != nil {
					continue
				}
				out = append(out, importEdge{
					file:   filepath.ToSlash(rel),
					target: imp,
					test:   strings.HasSuffix(path, "_test.go"),
				})
			}
			return nil
		})
		if err != nil {
			return nil, "", err
		}
	}
	return out, mod, nil
}

func findModuleRoot(start string) (string, error) {
	for dir := start; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found from %s", start)
		}
		dir = parent
	}
}

func modulePath(gomod string) string {
	for _, line := range strings.Split(gomod, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "module "); ok {
			return strings.Trim(strings.TrimSpace(rest), `"`)
		}
	}
	return ""
}
