package ecosystem

import (
	"fmt"
	"path/filepath"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// GoPlugin handles Go module binaries via go install. GOBIN is pointed at
// the staging directory so the toolchain's global bin dir never sees the
// artifact.
type GoPlugin struct{}

func (p *GoPlugin) Ecosystem() descriptor.Ecosystem { return descriptor.EcosystemGo }

// Parse understands:
//
//	go install module/path[@version]
func (p *GoPlugin) Parse(installCommand string) (descriptor.ResolvedPackage, error) {
	words := strings.Fields(installCommand)
	i := 0
	if i < len(words) && words[i] == "go" {
		i++
	}
	if i < len(words) && words[i] == "install" {
		i++
	}
	name, version := "", ""
	var extra []string
	for ; i < len(words); i++ {
		if strings.HasPrefix(words[i], "-") {
			continue
		}
		if name == "" {
			name, version = splitNameVersion(words[i])
			continue
		}
		extra = append(extra, words[i])
	}
	if name == "" {
		return descriptor.ResolvedPackage{}, &InstallError{Ecosystem: p.Ecosystem(), Stage: StageParse, Err: fmt.Errorf("no module path in %q", installCommand)}
	}
	return descriptor.ResolvedPackage{Ecosystem: p.Ecosystem(), Name: name, Version: version, ExtraArgs: extra}, nil
}

func (p *GoPlugin) InstallArgs(res descriptor.ResolvedPackage, stagingDir string) []Invocation {
	version := res.Version
	if version == "" {
		version = "latest"
	}
	return []Invocation{{
		Argv: []string{"go", "install", res.Name + "@" + version},
		Env:  map[string]string{"GOBIN": filepath.Join(stagingDir, "bin")},
	}}
}

func (p *GoPlugin) LocateExecutable(installRoot string, res descriptor.ResolvedPackage) (string, error) {
	base := filepath.Base(res.Name)
	candidate := filepath.Join(installRoot, "bin", base)
	if fileExists(candidate) {
		return candidate, nil
	}
	if only, ok := soleFile(filepath.Join(installRoot, "bin")); ok {
		return only, nil
	}
	return "", &ExecutableNotFoundError{Ecosystem: p.Ecosystem(), Package: res.Spec(), Searched: []string{candidate}}
}

func (p *GoPlugin) Launch(entry string, res descriptor.ResolvedPackage, passEnv []string) (descriptor.LaunchSpec, error) {
	return descriptor.NewLaunchSpec(entry, res.ExtraArgs, "", nil)
}
