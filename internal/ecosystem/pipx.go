package ecosystem

import (
	"fmt"
	"path/filepath"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// PipxPlugin handles Python packages. Each package gets its own pipx-managed
// virtual environment under the staging directory: a plain pip install into
// a shared interpreter pollutes site-packages and causes dependency
// collisions between servers, which is exactly the failure mode pipx exists
// to prevent.
type PipxPlugin struct{}

func (p *PipxPlugin) Ecosystem() descriptor.Ecosystem { return descriptor.EcosystemPipx }

// Parse understands:
//
//	pipx run name[==version] [extra args...]
//	pipx install name[==version]
func (p *PipxPlugin) Parse(installCommand string) (descriptor.ResolvedPackage, error) {
	words := strings.Fields(installCommand)
	i := 0
	if i < len(words) && words[i] == "pipx" {
		i++
	}
	for i < len(words) && (words[i] == "run" || words[i] == "install" || strings.HasPrefix(words[i], "--")) {
		i++
	}
	if i >= len(words) {
		return descriptor.ResolvedPackage{}, &InstallError{Ecosystem: p.Ecosystem(), Stage: StageParse, Err: fmt.Errorf("no package in %q", installCommand)}
	}
	name := words[i]
	version := ""
	if idx := strings.Index(name, "=="); idx > 0 {
		version = name[idx+2:]
		name = name[:idx]
	}
	return descriptor.ResolvedPackage{
		Ecosystem: p.Ecosystem(),
		Name:      name,
		Version:   version,
		ExtraArgs: append([]string(nil), words[i+1:]...),
	}, nil
}

// InstallArgs installs through pipx itself, pointed at the staging directory
// via PIPX_HOME/PIPX_BIN_DIR so nothing touches the user's environments.
func (p *PipxPlugin) InstallArgs(res descriptor.ResolvedPackage, stagingDir string) []Invocation {
	spec := res.Name
	if res.Version != "" {
		spec += "==" + res.Version
	}
	return []Invocation{{
		Argv: []string{"pipx", "install", spec},
		Env: map[string]string{
			"PIPX_HOME":    filepath.Join(stagingDir, "pipx"),
			"PIPX_BIN_DIR": filepath.Join(stagingDir, "bin"),
		},
	}}
}

// LocateExecutable resolves the venv's own bin directory, never the ambient
// PATH.
func (p *PipxPlugin) LocateExecutable(installRoot string, res descriptor.ResolvedPackage) (string, error) {
	searched := []string{}
	for _, base := range []string{res.Name, strings.ReplaceAll(res.Name, "_", "-"), strings.ReplaceAll(res.Name, "-", "_")} {
		candidate := filepath.Join(installRoot, "bin", base)
		searched = append(searched, candidate)
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	venvBin := filepath.Join(installRoot, "pipx", "venvs", res.Name, "bin", res.Name)
	searched = append(searched, venvBin)
	if fileExists(venvBin) {
		return venvBin, nil
	}
	return "", &ExecutableNotFoundError{Ecosystem: p.Ecosystem(), Package: res.Spec(), Searched: searched}
}

func (p *PipxPlugin) Launch(entry string, res descriptor.ResolvedPackage, passEnv []string) (descriptor.LaunchSpec, error) {
	return descriptor.NewLaunchSpec(entry, res.ExtraArgs, "", nil)
}
