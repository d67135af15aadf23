package ecosystem

import (
	"fmt"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// ContainerPlugin runs servers shipped as OCI images. Install is a docker
// pull; there is no local binary, so LocateExecutable hands back the image
// reference and Launch wraps it in docker run with stdin held open for the
// stdio transport.
type ContainerPlugin struct{}

func (p *ContainerPlugin) Ecosystem() descriptor.Ecosystem { return descriptor.EcosystemContainer }

// Parse understands:
//
//	docker run [-i] [--rm] image[:tag] [args]
//	docker pull image[:tag]
func (p *ContainerPlugin) Parse(installCommand string) (descriptor.ResolvedPackage, error) {
	words := strings.Fields(installCommand)
	i := 0
	if i < len(words) && words[i] == "docker" {
		i++
	}
	if i < len(words) && (words[i] == "run" || words[i] == "pull") {
		i++
	}
	image, tag := "", ""
	var extra []string
	for ; i < len(words); i++ {
		if strings.HasPrefix(words[i], "-") {
			// -e and --env take a value argument
			if (words[i] == "-e" || words[i] == "--env") && i+1 < len(words) {
				i++
			}
			continue
		}
		if image == "" {
			image, tag = splitImageTag(words[i])
			continue
		}
		extra = append(extra, words[i])
	}
	if image == "" {
		return descriptor.ResolvedPackage{}, &InstallError{Ecosystem: p.Ecosystem(), Stage: StageParse, Err: fmt.Errorf("no image in %q", installCommand)}
	}
	return descriptor.ResolvedPackage{Ecosystem: p.Ecosystem(), Name: image, Version: tag, ExtraArgs: extra}, nil
}

// splitImageTag separates image:tag without treating a registry port
// (registry:5000/img) as a tag.
func splitImageTag(ref string) (image, tag string) {
	colon := strings.LastIndex(ref, ":")
	if colon < 0 || strings.Contains(ref[colon:], "/") {
		return ref, ""
	}
	return ref[:colon], ref[colon+1:]
}

func (p *ContainerPlugin) InstallArgs(res descriptor.ResolvedPackage, stagingDir string) []Invocation {
	return []Invocation{{Argv: []string{"docker", "pull", p.imageRef(res)}}}
}

// LocateExecutable returns the pulled image reference. The cache records it
// as the entry so Launch can rebuild the run vector without re-resolving.
func (p *ContainerPlugin) LocateExecutable(installRoot string, res descriptor.ResolvedPackage) (string, error) {
	return p.imageRef(res), nil
}

func (p *ContainerPlugin) Launch(entry string, res descriptor.ResolvedPackage, passEnv []string) (descriptor.LaunchSpec, error) {
	args := []string{"run", "-i", "--rm"}
	for _, key := range passEnv {
		// Bare -e KEY forwards the host value without the value itself ever
		// appearing in the argv.
		args = append(args, "-e", key)
	}
	args = append(args, entry)
	args = append(args, res.ExtraArgs...)
	return descriptor.NewLaunchSpec("docker", args, "", nil)
}

func (p *ContainerPlugin) imageRef(res descriptor.ResolvedPackage) string {
	if res.Version == "" {
		return res.Name + ":latest"
	}
	return res.Name + ":" + res.Version
}
