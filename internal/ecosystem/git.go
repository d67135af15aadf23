package ecosystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// GitPlugin clones a repository and runs a script or binary it ships.
// A trailing #ref on the URL pins a branch, tag, or commit; without one
// the default branch is fetched at depth 1. The entry point inside the
// clone, when the descriptor declares one, rides in ExtraArgs[0] as a
// repo-relative path.
type GitPlugin struct{}

func (p *GitPlugin) Ecosystem() descriptor.Ecosystem { return descriptor.EcosystemGit }

// Parse understands:
//
//	git clone url[#ref] [relative/entry/path]
func (p *GitPlugin) Parse(installCommand string) (descriptor.ResolvedPackage, error) {
	words := strings.Fields(installCommand)
	i := 0
	if i < len(words) && words[i] == "git" {
		i++
	}
	if i < len(words) && words[i] == "clone" {
		i++
	}
	url, ref := "", ""
	var extra []string
	for ; i < len(words); i++ {
		if strings.HasPrefix(words[i], "-") {
			continue
		}
		if url == "" {
			url = words[i]
			if hash := strings.LastIndex(url, "#"); hash > 0 {
				ref = url[hash+1:]
				url = url[:hash]
			}
			continue
		}
		extra = append(extra, words[i])
	}
	if url == "" {
		return descriptor.ResolvedPackage{}, &InstallError{Ecosystem: p.Ecosystem(), Stage: StageParse, Err: fmt.Errorf("no repository url in %q", installCommand)}
	}
	return descriptor.ResolvedPackage{Ecosystem: p.Ecosystem(), Name: url, Version: ref, ExtraArgs: extra}, nil
}

func (p *GitPlugin) InstallArgs(res descriptor.ResolvedPackage, stagingDir string) []Invocation {
	src := filepath.Join(stagingDir, "src")
	if res.Version != "" {
		// A pinned ref may be a commit outside any shallow history, so the
		// clone must carry the full history before checkout.
		return []Invocation{
			{Argv: []string{"git", "clone", res.Name, src}},
			{Argv: []string{"git", "-C", src, "checkout", res.Version}},
		}
	}
	return []Invocation{{Argv: []string{"git", "clone", "--depth", "1", res.Name, src}}}
}

func (p *GitPlugin) LocateExecutable(installRoot string, res descriptor.ResolvedPackage) (string, error) {
	src := filepath.Join(installRoot, "src")
	var searched []string
	if len(res.ExtraArgs) > 0 {
		declared := filepath.Join(src, filepath.FromSlash(res.ExtraArgs[0]))
		if fileExists(declared) {
			return declared, nil
		}
		searched = append(searched, declared)
	}
	base := strings.TrimSuffix(filepath.Base(res.Name), ".git")
	for _, rel := range []string{base, "index.js", "main.py", "server.py", filepath.Join("bin", base)} {
		candidate := filepath.Join(src, rel)
		if fileExists(candidate) {
			return candidate, nil
		}
		searched = append(searched, candidate)
	}
	return "", &ExecutableNotFoundError{Ecosystem: p.Ecosystem(), Package: res.Spec(), Searched: searched}
}

// Launch picks an interpreter from the entry's extension. Scripts in a
// clone are not guaranteed an executable bit, so .js and .py always go
// through their runtime.
func (p *GitPlugin) Launch(entry string, res descriptor.ResolvedPackage, passEnv []string) (descriptor.LaunchSpec, error) {
	args := res.ExtraArgs
	if len(args) > 0 {
		// ExtraArgs[0] is the declared entry path, not a runtime argument.
		args = args[1:]
	}
	switch filepath.Ext(entry) {
	case ".js", ".mjs", ".cjs":
		return descriptor.NewLaunchSpec("node", append([]string{entry}, args...), filepath.Dir(entry), nil)
	case ".py":
		return descriptor.NewLaunchSpec("python3", append([]string{entry}, args...), filepath.Dir(entry), nil)
	}
	info, err := os.Stat(entry)
	if err != nil {
		return descriptor.LaunchSpec{}, fmt.Errorf("stat entry point: %w", err)
	}
	if info.Mode()&0o111 == 0 {
		return descriptor.LaunchSpec{}, fmt.Errorf("entry point %s is not executable", entry)
	}
	return descriptor.NewLaunchSpec(entry, args, filepath.Dir(entry), nil)
}
