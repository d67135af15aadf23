package ecosystem

import (
	"fmt"
	"path/filepath"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// CargoPlugin handles Rust packages. cargo install produces a standalone
// static binary under the install root's bin directory. No interpreter, a
// single direct path, the fastest launch of the six ecosystems.
type CargoPlugin struct{}

func (p *CargoPlugin) Ecosystem() descriptor.Ecosystem { return descriptor.EcosystemCargo }

// Parse understands:
//
//	cargo install name [--version x.y.z]
func (p *CargoPlugin) Parse(installCommand string) (descriptor.ResolvedPackage, error) {
	words := strings.Fields(installCommand)
	i := 0
	if i < len(words) && words[i] == "cargo" {
		i++
	}
	if i < len(words) && words[i] == "install" {
		i++
	}
	name, version := "", ""
	var extra []string
	for ; i < len(words); i++ {
		switch {
		case words[i] == "--version" && i+1 < len(words):
			version = words[i+1]
			i++
		case strings.HasPrefix(words[i], "--version="):
			version = strings.TrimPrefix(words[i], "--version=")
		case strings.HasPrefix(words[i], "--"):
			// cargo flags are not package identity
		case name == "":
			name, version = splitCargoSpec(words[i], version)
		default:
			extra = append(extra, words[i])
		}
	}
	if name == "" {
		return descriptor.ResolvedPackage{}, &InstallError{Ecosystem: p.Ecosystem(), Stage: StageParse, Err: fmt.Errorf("no crate in %q", installCommand)}
	}
	return descriptor.ResolvedPackage{Ecosystem: p.Ecosystem(), Name: name, Version: version, ExtraArgs: extra}, nil
}

func splitCargoSpec(spec, fallback string) (string, string) {
	if at := strings.LastIndex(spec, "@"); at > 0 {
		return spec[:at], spec[at+1:]
	}
	return spec, fallback
}

func (p *CargoPlugin) InstallArgs(res descriptor.ResolvedPackage, stagingDir string) []Invocation {
	argv := []string{"cargo", "install", res.Name, "--root", stagingDir, "--locked"}
	if res.Version != "" {
		argv = append(argv, "--version", res.Version)
	}
	return []Invocation{{Argv: argv}}
}

func (p *CargoPlugin) LocateExecutable(installRoot string, res descriptor.ResolvedPackage) (string, error) {
	candidate := filepath.Join(installRoot, "bin", res.Name)
	if fileExists(candidate) {
		return candidate, nil
	}
	// Crates may ship a binary under a different name; a lone binary is
	// unambiguous.
	if only, ok := soleFile(filepath.Join(installRoot, "bin")); ok {
		return only, nil
	}
	return "", &ExecutableNotFoundError{Ecosystem: p.Ecosystem(), Package: res.Spec(), Searched: []string{candidate}}
}

func (p *CargoPlugin) Launch(entry string, res descriptor.ResolvedPackage, passEnv []string) (descriptor.LaunchSpec, error) {
	return descriptor.NewLaunchSpec(entry, res.ExtraArgs, "", nil)
}
