package architecture_test

import (
	"bufio"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// layers lists internal packages from the bottom up, with the packages each
// layer must not import. observability sits with platform.
var layers = []struct {
	name    string
	dirs    []string
	forbids []string
}{
	{"domain", []string{"domain"}, []string{"platform", "observability", "data", "realtime", "services", "agent", "http", "app"}},
	{"platform", []string{"platform", "observability"}, []string{"realtime", "services", "agent", "http", "app"}},
	{"data", []string{"data"}, []string{"realtime", "services", "agent", "http", "app"}},
	{"realtime", []string{"realtime"}, []string{"data", "services", "agent", "http", "app"}},
	{"services", []string{"services"}, []string{"agent", "http", "app"}},
	{"agent", []string{"agent"}, []string{"http", "app"}},
	{"http", []string{"http"}, []string{"app"}},
}

type fileImports struct {
	rel     string
	test    bool
	imports []string
}

func TestImportBoundaries(t *testing.T) {
	root, modulePath := moduleRoot(t)

	var problems []string
	for _, f := range scanImports(t, root, "internal") {
		layer, forbids := layerOf(f.rel)
		if layer == "" {
			continue
		}
		for _, imp := range f.imports {
			for _, pkg := range forbids {
				base := modulePath + "/internal/" + pkg
				if imp == base || strings.HasPrefix(imp, base+"/") {
					problems = append(problems, fmt.Sprintf("%s (%s) imports %s", f.rel, layer, imp))
				}
			}
		}
	}
	failIf(t, "import boundary violations", problems)
}

func TestTestutilOnlyImportedFromTests(t *testing.T) {
	root, modulePath := moduleRoot(t)
	fixtures := modulePath + "/internal/data/repos/testutil"

	var problems []string
	for _, dir := range []string{"internal", "cmd"} {
		for _, f := range scanImports(t, root, dir) {
			if f.test || strings.Contains(f.rel, "/testutil/") {
				continue
			}
			for _, imp := range f.imports {
				if imp == fixtures {
					problems = append(problems, f.rel+" imports test fixtures")
				}
			}
		}
	}
	failIf(t, "fixtures reachable from production code", problems)
}

func layerOf(rel string) (string, []string) {
	for _, l := range layers {
		for _, d := range l.dirs {
			if strings.HasPrefix(rel, "internal/"+d+"/") {
				return l.name, l.forbids
			}
		}
	}
	return "", nil
}

// scanImports parses the import block of every .go file under root/dir.
func scanImports(t *testing.T, root, dir string) []fileImports {
	t.Helper()
	fset := token.NewFileSet()
	var out []fileImports
	err := filepath.WalkDir(filepath.Join(root, dir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
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
		fi := fileImports{rel: filepath.ToSlash(rel), test: strings.HasSuffix(path, "_test.go")}
		for _, spec := range f.Imports {
			if imp, err := strconv.Unquote(spec.Path.Value); err == nil {
				fi.imports = append(fi.imports, imp)
			}
		}
		out = append(out, fi)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s/: %v", dir, err)
	}
	return out
}

func failIf(t *testing.T, title string, problems []string) {
	t.Helper()
	if len(problems) == 0 {
		return
	}
	t.Fatalf("%s:\n- %s", title, strings.Join(problems, "\n- "))
}

func moduleRoot(t *testing.T) (root, modulePath string) {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
	mp, err := readModulePath(filepath.Join(dir, "go.mod"))
	if err != nil {
		t.Fatalf("read module path: %v", err)
	}
	return dir, mp
}

func readModulePath(goModPath string) (string, error) {
	f, err := os.Open(goModPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if mp, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "module "); ok {
			return strings.TrimSpace(mp), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("module path not found in %s", goModPath)
}
