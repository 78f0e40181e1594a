// Package sandbox compone e invoca el launcher externo de aislamiento
// (namespaces, seccomp, rlimits). El launcher es una caja negra: aquí
// solo se renderiza su config, se arma el argv y se supervisa el hijo
// con captura acotada y watchdog de pared.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxCaptureBytes acota cada stream capturado (stdout y stderr).
const MaxCaptureBytes = 64 * 1024

// WorkspaceToken es el único token definido para plantillas de config.
const WorkspaceToken = "{{WORKSPACE}}"

// configName es el nombre del config renderizado dentro del workspace.
const configName = "sandbox.cfg"

// Launcher describe el binario de aislamiento y sus plantillas.
type Launcher struct {
	Bin       string // ruta del binario
	ConfigDir string // directorio de plantillas por lenguaje
	noise     *regexp.Regexp
}

// New construye el launcher. noisePattern filtra líneas de log del
// propio launcher en stderr (p. ej. `^\[.*nsjail.*`); vacío desactiva
// el filtro.
func New(bin, configDir, noisePattern string) (*Launcher, error) {
	l := &Launcher{Bin: bin, ConfigDir: configDir}
	if noisePattern != "" {
		re, err := regexp.Compile(noisePattern)
		if err != nil {
			return nil, fmt.Errorf("sandbox: patrón de ruido inválido: %w", err)
		}
		l.noise = re
	}
	return l, nil
}

// RenderConfig carga la plantilla, sustituye el workspace y escribe
// <workspace>/sandbox.cfg. Devuelve la ruta del config renderizado.
func (l *Launcher) RenderConfig(templateName, workspace string) (string, error) {
	tmpl, err := os.ReadFile(filepath.Join(l.ConfigDir, templateName))
	if err != nil {
		return "", fmt.Errorf("sandbox: leer plantilla %s: %w", templateName, err)
	}
	rendered := strings.ReplaceAll(string(tmpl), WorkspaceToken, workspace)
	cfgPath := filepath.Join(workspace, configName)
	if err := os.WriteFile(cfgPath, []byte(rendered), 0o600); err != nil {
		return "", fmt.Errorf("sandbox: escribir config: %w", err)
	}
	return cfgPath, nil
}

// Command arma el argv completo del launcher para un programa dado.
func (l *Launcher) Command(cfgPath string, program []string) []string {
	argv := []string{l.Bin, "--config", cfgPath, "--"}
	return append(argv, program...)
}

// FilterNoise elimina de stderr las líneas de log del launcher para que
// el usuario no vea ruido de infraestructura.
func (l *Launcher) FilterNoise(stderr string) string {
	if l.noise == nil || stderr == "" {
		return stderr
	}
	lines := strings.Split(stderr, "\n")
	out := lines[:0]
	for _, ln := range lines {
		if l.noise.MatchString(ln) {
			continue
		}
		out = append(out, ln)
	}
	return strings.Join(out, "\n")
}
