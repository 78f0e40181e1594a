package lang

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

/* ================= catálogo embebido ================= */

func TestDefaultCatalog(t *testing.T) {
	r, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, id := range []string{"python", "javascript", "c", "cpp", "java"} {
		if !r.Has(id) {
			t.Fatalf("falta %q en el catálogo embebido", id)
		}
	}
	if r.Has("cobol") {
		t.Fatal("Has no debería inventar lenguajes")
	}
}

func TestJavaRequiresFixedSourceName(t *testing.T) {
	r, _ := Default()
	j, ok := r.Get("java")
	if !ok {
		t.Fatal("falta java")
	}
	if j.SourceFile != "Main.java" {
		t.Fatalf("java exige Main.java, got %q", j.SourceFile)
	}
}

func TestCompiledLanguagesHaveCompileCmd(t *testing.T) {
	r, _ := Default()
	for _, id := range r.IDs() {
		l, _ := r.Get(id)
		if l.Compiled && len(l.CompileCmd) == 0 {
			t.Fatalf("%s: compilado sin compile_cmd", id)
		}
		if len(l.RunCmd) == 0 {
			t.Fatalf("%s: sin run_cmd", id)
		}
		if l.TimeoutMs <= 0 {
			t.Fatalf("%s: sin timeout", id)
		}
	}
}

func TestIDsSorted(t *testing.T) {
	r, _ := Default()
	ids := r.IDs()
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("IDs sin ordenar: %v", ids)
	}
}

func TestPublicViewStripsInternals(t *testing.T) {
	r, _ := Default()
	pv := r.PublicView()
	p, ok := pv["python"]
	if !ok {
		t.Fatal("falta python en la vista pública")
	}
	if p.Name == "" || p.Extension != "py" || p.TimeoutMs <= 0 {
		t.Fatalf("vista pública incompleta: %+v", p)
	}
	// la vista pública no tiene campos de rutas: garantizado por el tipo
}

/* ================= override desde disco ================= */

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "languages.toml")
	const body = `
[languages.shell]
name = "Shell"
extension = "sh"
source_file = "main.sh"
compiled = false
run_cmd = ["/bin/sh", "{{SRC}}"]
timeout_ms = 1000
sandbox_template = "shell.cfg"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("escribir catálogo: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !r.Has("shell") || r.Has("python") {
		t.Fatal("el override debe sustituir al catálogo, no extenderlo")
	}
}

func TestLoadRejectsInvalidCatalog(t *testing.T) {
	cases := map[string]string{
		"sin run_cmd": `
[languages.x]
name = "X"
source_file = "main.x"
timeout_ms = 1000
sandbox_template = "x.cfg"
`,
		"compilado sin compile_cmd": `
[languages.x]
name = "X"
source_file = "main.x"
compiled = true
run_cmd = ["/bin/x"]
timeout_ms = 1000
sandbox_template = "x.cfg"
`,
		"sin timeout": `
[languages.x]
name = "X"
source_file = "main.x"
run_cmd = ["/bin/x"]
sandbox_template = "x.cfg"
`,
		"id con separador reservado": `
[languages."a:b"]
name = "X"
source_file = "main.x"
run_cmd = ["/bin/x"]
timeout_ms = 1000
sandbox_template = "x.cfg"
`,
	}
	dir := t.TempDir()
	for name, body := range cases {
		path := filepath.Join(dir, "bad.toml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("%s: escribir: %v", name, err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: Load debería fallar", name)
		}
	}
}

/* ================= plantillas de argv ================= */

func TestExpandArgs(t *testing.T) {
	vars := map[string]string{
		"WORKSPACE": "/jobs/job_1",
		"SRC":       "main.py",
		"BIN":       "/jobs/job_1/prog",
	}
	in := []string{"/usr/bin/gcc", "-o", "{{BIN}}", "{{WORKSPACE}}/{{SRC}}", "sin-tokens"}
	out := ExpandArgs(in, vars)
	want := []string{"/usr/bin/gcc", "-o", "/jobs/job_1/prog", "/jobs/job_1/main.py", "sin-tokens"}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("arg %d: %q, esperaba %q", i, out[i], want[i])
		}
	}
	// el argv original no debe mutar
	if in[2] != "{{BIN}}" {
		t.Fatal("ExpandArgs mutó la plantilla")
	}
}
