// Package lang mantiene el catálogo estático de lenguajes soportados:
// rutas de compilador/intérprete, límites y plantilla de sandbox.
package lang

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed languages.toml
var embeddedCatalog []byte

// Language describe los parámetros de ejecución de un lenguaje.
type Language struct {
	Name            string            `toml:"name"`
	Extension       string            `toml:"extension"`
	SourceFile      string            `toml:"source_file"`
	Compiled        bool              `toml:"compiled"`
	CompileCmd      []string          `toml:"compile_cmd"`
	RunCmd          []string          `toml:"run_cmd"`
	TimeoutMs       int               `toml:"timeout_ms"`
	MemoryBytes     int64             `toml:"memory_bytes"`
	MaxProcs        int               `toml:"max_procs"`
	SandboxTemplate string            `toml:"sandbox_template"`
	Env             map[string]string `toml:"env"`
}

// PublicLanguage es la vista para /languages: sin rutas internas.
type PublicLanguage struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Compiled  bool   `json:"compiled"`
	TimeoutMs int    `json:"timeout_ms"`
}

type catalog struct {
	Languages map[string]Language `toml:"languages"`
}

// Registry es un mapeo de solo lectura id → Language.
type Registry struct {
	langs map[string]Language
}

// Default carga el catálogo embebido.
func Default() (*Registry, error) {
	return parse(embeddedCatalog)
}

// Load carga un catálogo TOML desde disco (override de operador).
func Load(path string) (*Registry, error) {
	var c catalog
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("lang: leer catálogo %s: %w", path, err)
	}
	return build(c)
}

func parse(data []byte) (*Registry, error) {
	var c catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("lang: catálogo embebido: %w", err)
	}
	return build(c)
}

func build(c catalog) (*Registry, error) {
	if len(c.Languages) == 0 {
		return nil, fmt.Errorf("lang: catálogo vacío")
	}
	for id, l := range c.Languages {
		if err := validate(id, l); err != nil {
			return nil, err
		}
	}
	return &Registry{langs: c.Languages}, nil
}

func validate(id string, l Language) error {
	// ':' rompería la huella de contenido (separador reservado).
	if id == "" || strings.ContainsAny(id, ": \t\n") {
		return fmt.Errorf("lang: id inválido %q", id)
	}
	if l.SourceFile == "" || len(l.RunCmd) == 0 {
		return fmt.Errorf("lang: %s sin source_file o run_cmd", id)
	}
	if l.Compiled && len(l.CompileCmd) == 0 {
		return fmt.Errorf("lang: %s compilado sin compile_cmd", id)
	}
	if l.TimeoutMs <= 0 {
		return fmt.Errorf("lang: %s sin timeout_ms", id)
	}
	if l.SandboxTemplate == "" {
		return fmt.Errorf("lang: %s sin sandbox_template", id)
	}
	return nil
}

// Has informa si el lenguaje existe en el catálogo.
func (r *Registry) Has(id string) bool {
	_, ok := r.langs[id]
	return ok
}

// Get devuelve el registro del lenguaje.
func (r *Registry) Get(id string) (Language, bool) {
	l, ok := r.langs[id]
	return l, ok
}

// IDs lista los identificadores en orden estable.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.langs))
	for id := range r.langs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PublicView produce el catálogo sin rutas para el endpoint /languages.
func (r *Registry) PublicView() map[string]PublicLanguage {
	out := make(map[string]PublicLanguage, len(r.langs))
	for id, l := range r.langs {
		out[id] = PublicLanguage{
			Name:      l.Name,
			Extension: l.Extension,
			Compiled:  l.Compiled,
			TimeoutMs: l.TimeoutMs,
		}
	}
	return out
}

// ExpandArgs sustituye los tokens de plantilla en un argv.
// vars usa claves sin llaves: "WORKSPACE", "SRC", "BIN".
func ExpandArgs(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		for k, v := range vars {
			a = strings.ReplaceAll(a, "{{"+k+"}}", v)
		}
		out[i] = a
	}
	return out
}
