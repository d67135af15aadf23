// Package ecosystem implements one install plugin per supported
// package-management toolchain. Plugins are stateless: they parse install
// commands, build argv vectors, and locate the executables an install
// produced. They never spawn processes themselves; the orchestrator owns
// all side effects.
package ecosystem

import (
	"fmt"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// Invocation is a single process invocation an install requires: an argv
// vector plus environment overrides. Argv is always a vector; commands are
// never concatenated into shell strings.
type Invocation struct {
	Argv []string
	Env  map[string]string
}

// Plugin is the contract every ecosystem implements.
type Plugin interface {
	// Ecosystem returns the toolchain this plugin handles.
	Ecosystem() descriptor.Ecosystem

	// Parse extracts the canonical package identity from a raw install
	// command. The command has already passed the security validator.
	Parse(installCommand string) (descriptor.ResolvedPackage, error)

	// InstallArgs returns the invocations that install the package into
	// stagingDir. Invocations run in order; any failure aborts the install.
	InstallArgs(res descriptor.ResolvedPackage, stagingDir string) []Invocation

	// LocateExecutable finds the runnable entry point inside a completed
	// install root. For file-based ecosystems this is an absolute path;
	// the container plugin returns the image reference instead. A missing
	// entry point is an *ExecutableNotFoundError, never a silent success.
	LocateExecutable(installRoot string, res descriptor.ResolvedPackage) (string, error)

	// Launch builds the spec that starts the installed package as an MCP
	// server. passEnv names environment variables that must be forwarded
	// to the child (the container plugin turns them into -e flags).
	Launch(entry string, res descriptor.ResolvedPackage, passEnv []string) (descriptor.LaunchSpec, error)
}

// ForEcosystem returns the plugin for eco. The plugin set is closed; an
// unknown ecosystem is a programming error surfaced as an error value so
// the orchestrator can turn it into a structured failure.
func ForEcosystem(eco descriptor.Ecosystem) (Plugin, error) {
	switch eco {
	case descriptor.EcosystemNPM:
		return &NPMPlugin{}, nil
	case descriptor.EcosystemPipx:
		return &PipxPlugin{}, nil
	case descriptor.EcosystemCargo:
		return &CargoPlugin{}, nil
	case descriptor.EcosystemGo:
		return &GoPlugin{}, nil
	case descriptor.EcosystemGit:
		return &GitPlugin{}, nil
	case descriptor.EcosystemContainer:
		return &ContainerPlugin{}, nil
	default:
		return nil, fmt.Errorf("no plugin for ecosystem %q", eco)
	}
}
