package ecosystem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// NPMPlugin handles Node packages. Installs go into an isolated prefix
// (npm install --prefix) instead of a global node_modules so two packages
// can never collide, then the executable is resolved from the package's
// declared bin entry with node_modules/.bin as fallback.
type NPMPlugin struct{}

func (p *NPMPlugin) Ecosystem() descriptor.Ecosystem { return descriptor.EcosystemNPM }

// Parse understands the npx/npm forms the registry scrapes:
//
//	npx [-y] [@scope/]name[@version] [extra args...]
//	npm exec [-y] [@scope/]name[@version]
func (p *NPMPlugin) Parse(installCommand string) (descriptor.ResolvedPackage, error) {
	words := strings.Fields(installCommand)
	if len(words) == 0 {
		return descriptor.ResolvedPackage{}, &InstallError{Ecosystem: p.Ecosystem(), Stage: StageParse, Err: fmt.Errorf("empty install command")}
	}
	i := 0
	if words[i] == "npx" || words[i] == "npm" {
		i++
	}
	for i < len(words) {
		w := words[i]
		if w == "exec" || w == "install" || w == "-y" || w == "--yes" || strings.HasPrefix(w, "--") {
			i++
			continue
		}
		break
	}
	if i >= len(words) {
		return descriptor.ResolvedPackage{}, &InstallError{Ecosystem: p.Ecosystem(), Stage: StageParse, Err: fmt.Errorf("no package in %q", installCommand)}
	}
	name, version := splitNameVersion(words[i])
	return descriptor.ResolvedPackage{
		Ecosystem: p.Ecosystem(),
		Name:      name,
		Version:   version,
		ExtraArgs: append([]string(nil), words[i+1:]...),
	}, nil
}

func (p *NPMPlugin) InstallArgs(res descriptor.ResolvedPackage, stagingDir string) []Invocation {
	spec := res.Name
	if res.Version != "" {
		spec += "@" + res.Version
	}
	return []Invocation{{
		Argv: []string{"npm", "install", "--prefix", stagingDir, "--no-fund", "--no-audit", "--loglevel", "error", spec},
	}}
}

// LocateExecutable checks the package's declared bin entries first, then the
// conventional node_modules/.bin directory.
func (p *NPMPlugin) LocateExecutable(installRoot string, res descriptor.ResolvedPackage) (string, error) {
	searched := []string{}

	pkgDir := filepath.Join(installRoot, "node_modules", filepath.FromSlash(res.Name))
	if bins, err := declaredBins(pkgDir); err == nil {
		for _, rel := range bins {
			candidate := filepath.Join(pkgDir, filepath.FromSlash(rel))
			searched = append(searched, candidate)
			if fileExists(candidate) {
				return candidate, nil
			}
		}
	}

	binDir := filepath.Join(installRoot, "node_modules", ".bin")
	base := res.Name
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	candidate := filepath.Join(binDir, base)
	searched = append(searched, candidate)
	if fileExists(candidate) {
		return candidate, nil
	}

	// A package with a single shim is unambiguous even under a different name.
	if entries, err := os.ReadDir(binDir); err == nil {
		var files []string
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(binDir, e.Name()))
			}
		}
		if len(files) == 1 {
			return files[0], nil
		}
	}

	return "", &ExecutableNotFoundError{Ecosystem: p.Ecosystem(), Package: res.Spec(), Searched: searched}
}

func (p *NPMPlugin) Launch(entry string, res descriptor.ResolvedPackage, passEnv []string) (descriptor.LaunchSpec, error) {
	return descriptor.NewLaunchSpec(entry, res.ExtraArgs, "", nil)
}

// declaredBins reads a package.json bin field, which is either a string or a
// map of command name to relative path.
func declaredBins(pkgDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Bin json.RawMessage `json:"bin"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	if len(manifest.Bin) == 0 {
		return nil, fmt.Errorf("no bin entry")
	}
	var single string
	if err := json.Unmarshal(manifest.Bin, &single); err == nil {
		return []string{single}, nil
	}
	var multi map[string]string
	if err := json.Unmarshal(manifest.Bin, &multi); err == nil {
		out := make([]string, 0, len(multi))
		for _, rel := range multi {
			out = append(out, rel)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unrecognized bin entry")
}

// splitNameVersion splits name[@version], keeping the scope marker of
// @scope/name intact.
func splitNameVersion(spec string) (name, version string) {
	at := strings.LastIndex(spec, "@")
	if at <= 0 {
		return spec, ""
	}
	return spec[:at], spec[at+1:]
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// soleFile returns the single regular file in dir when exactly one exists.
func soleFile(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var match string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if match != "" {
			return "", false
		}
		match = filepath.Join(dir, e.Name())
	}
	return match, match != ""
}
