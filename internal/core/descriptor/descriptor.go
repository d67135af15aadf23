package descriptor

import (
	"fmt"
	"sort"
	"strings"
)

// Ecosystem identifies one package-management toolchain.
type Ecosystem string

const (
	EcosystemNPM       Ecosystem = "npm"
	EcosystemPipx      Ecosystem = "pipx"
	EcosystemCargo     Ecosystem = "cargo"
	EcosystemGo        Ecosystem = "go"
	EcosystemGit       Ecosystem = "git"
	EcosystemContainer Ecosystem = "container"
)

// KnownEcosystems returns the closed set of supported ecosystems.
func KnownEcosystems() []Ecosystem {
	return []Ecosystem{
		EcosystemNPM,
		EcosystemPipx,
		EcosystemCargo,
		EcosystemGo,
		EcosystemGit,
		EcosystemContainer,
	}
}

// ParseEcosystem maps a registry "type" value to an Ecosystem. Registry data
// uses a few aliases ("python" for pipx installs, "docker" for container
// images) that are normalized here.
func ParseEcosystem(value string) (Ecosystem, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "npm", "npx", "node":
		return EcosystemNPM, nil
	case "pipx", "python", "pip":
		return EcosystemPipx, nil
	case "cargo", "rust":
		return EcosystemCargo, nil
	case "go", "golang":
		return EcosystemGo, nil
	case "git":
		return EcosystemGit, nil
	case "container", "docker", "oci":
		return EcosystemContainer, nil
	default:
		return "", fmt.Errorf("unknown ecosystem: %q", value)
	}
}

// InstallMethod is one way to install a package, as advertised by the
// registry. A descriptor may carry several methods for the same package;
// Priority and Confidence order them.
type InstallMethod struct {
	Type       string  `json:"type"`
	Command    string  `json:"command"`
	Priority   int     `json:"priority"`
	Confidence float64 `json:"confidence"`
}

// PackageDescriptor is the registry-provided record naming a package and how
// to install it. It is plain data received at the registry boundary and is
// never mutated after parsing.
type PackageDescriptor struct {
	Slug            string          `json:"slug"`
	InstallMethods  []InstallMethod `json:"installation_methods"`
	RequiredEnvVars []string        `json:"required_env_vars,omitempty"`
	AuthMethod      string          `json:"auth_method,omitempty"`
}

// Validate checks the structural minimum the core requires from a
// descriptor: a slug and at least one install method with a command.
func (d PackageDescriptor) Validate() error {
	if strings.TrimSpace(d.Slug) == "" {
		return fmt.Errorf("descriptor has no slug")
	}
	if len(d.InstallMethods) == 0 {
		return fmt.Errorf("descriptor %q has no installation methods", d.Slug)
	}
	for i, m := range d.InstallMethods {
		if strings.TrimSpace(m.Command) == "" {
			return fmt.Errorf("descriptor %q method %d has no command", d.Slug, i)
		}
	}
	return nil
}

// MethodsByPreference returns the install methods ordered best-first:
// higher priority wins, confidence breaks ties, original order breaks the
// rest. The receiver's slice is not modified.
func (d PackageDescriptor) MethodsByPreference() []InstallMethod {
	methods := append([]InstallMethod(nil), d.InstallMethods...)
	sort.SliceStable(methods, func(i, j int) bool {
		if methods[i].Priority != methods[j].Priority {
			return methods[i].Priority > methods[j].Priority
		}
		return methods[i].Confidence > methods[j].Confidence
	})
	return methods
}
