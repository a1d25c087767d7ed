package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInternalImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"repobatch/internal/core", true},
		{"example.com/some/internal/deep", true},
		{"example.com/internal", false},
		{"repobatch/pkg/repository", false},
		{"notinternal", false},
		{"", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestStorageDriverImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"modernc.org/sqlite", true},
		{"github.com/jackc/pgx/v5/stdlib", true},
		{"github.com/redis/go-redis/v9", true},
		{"github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"github.com/aws/aws-sdk-go-v2-extra", false},
		{"github.com/google/uuid", false},
		{"database/sql", false},
	}
	for _, c := range cases {
		if got := StorageDriverImportForbidden(c.in); got != c.want {
			t.Fatalf("StorageDriverImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestAnyOf(t *testing.T) {
	pred := AnyOf(InternalImportForbidden, StorageDriverImportForbidden)
	if !pred("repobatch/internal/x") || !pred("modernc.org/sqlite") || pred("fmt") {
		t.Fatalf("unexpected AnyOf results")
	}
	if AnyOf()("anything") {
		t.Fatalf("empty AnyOf must match nothing")
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\talias \"forbidden/pkg\"\n)\nvar _ = fmt.Sprint\nvar _ = alias.X\n")
	writeFile(t, dir, "a_test.go", "package tmp\nimport \"forbidden/other\"\n")
	writeFile(t, dir, "notes.txt", "import \"forbidden/txt\"")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "s.go", "package sub\nimport \"forbidden/sub\"\n")

	viols, err := directImportViolations(dir, func(p string) bool { return filepath.Dir(p) == "forbidden" })
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "forbidden/pkg (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "not go")
	if _, err := directImportViolations(dir, func(string) bool { return false }); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), func(string) bool { return false }); err == nil {
		t.Fatalf("expected read dir error")
	}
}

func TestAssertNoDirectImportsPasses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestAssertNoTransitiveDependencyPasses(t *testing.T) {
	AssertNoTransitiveDependency(t, ".", func(path string) bool {
		return path == "github.com/some/nonexistent/package"
	}, "none")
}
