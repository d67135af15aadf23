// Package auth implements best-effort detection of missing credentials
// before and after launching a packaged server. Detection is advisory: a
// wrong guess costs one failed launch with a clear error, never a blocked
// launch of a working server.
package auth

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"mcpforge.dev/cli/internal/core/descriptor"
)

// Assessment is the outcome of an auth check for one package.
type Assessment struct {
	Required     bool
	AuthType     string
	MissingVars  []string
	Instructions []string
}

// serviceEnvVars maps well-known service names to the environment variables
// their servers conventionally require. Matched as substrings against the
// package slug and name.
var serviceEnvVars = map[string][]string{
	"stripe":    {"STRIPE_SECRET_KEY", "STRIPE_API_KEY"},
	"github":    {"GITHUB_TOKEN"},
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"brave":     {"BRAVE_SEARCH_API_KEY"},
	"slack":     {"SLACK_BOT_TOKEN"},
	"notion":    {"NOTION_API_KEY"},
	"postgres":  {"DATABASE_URL"},
	"supabase":  {"SUPABASE_URL", "SUPABASE_ANON_KEY"},
}

// missingVarPatterns recognize the phrasings servers use when they exit for
// want of a credential. Each pattern's first capture group is the variable
// name.
var missingVarPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)missing required environment variable:?\s+([A-Z][A-Z0-9_]+)`),
	regexp.MustCompile(`(?i)\b([A-Z][A-Z0-9_]+) is not set`),
	regexp.MustCompile(`(?i)set the ([A-Z][A-Z0-9_]+) environment variable`),
	regexp.MustCompile(`(?i)environment variable ([A-Z][A-Z0-9_]+) is required`),
}

// Environment abstracts env lookup so tests inject fixed environments.
type Environment func(key string) (string, bool)

// OSEnvironment reads the real process environment.
func OSEnvironment(key string) (string, bool) {
	return os.LookupEnv(key)
}

// AssessDescriptor checks a package before launch. Declared requirements
// win; when the descriptor declares nothing, the service table fills in.
func AssessDescriptor(d descriptor.PackageDescriptor, env Environment) Assessment {
	required := d.RequiredEnvVars
	authType := d.AuthMethod
	if len(required) == 0 {
		required = guessServiceVars(d.Slug)
		if len(required) > 0 && authType == "" {
			authType = "api_key"
		}
	}

	missing := missingFrom(required, env)
	if len(missing) == 0 {
		return Assessment{AuthType: authType}
	}
	return Assessment{
		Required:     true,
		AuthType:     authType,
		MissingVars:  missing,
		Instructions: instructions(d.Slug, missing),
	}
}

// ScanOutput inspects early stderr/stdout from a server that died or went
// silent, looking for credential complaints. Variables already present in
// env are excluded: a set-but-rejected credential is a different failure.
func ScanOutput(slug, output string, env Environment) Assessment {
	seen := map[string]struct{}{}
	var missing []string
	for _, pattern := range missingVarPatterns {
		for _, match := range pattern.FindAllStringSubmatch(output, -1) {
			name := strings.ToUpper(match[1])
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if _, set := env(name); !set {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) == 0 {
		return Assessment{}
	}
	sort.Strings(missing)
	return Assessment{
		Required:     true,
		AuthType:     "api_key",
		MissingVars:  missing,
		Instructions: instructions(slug, missing),
	}
}

// guessServiceVars returns the conventional variables for any service whose
// name appears in the slug.
func guessServiceVars(slug string) []string {
	lower := strings.ToLower(slug)
	var names []string
	for service := range serviceEnvVars {
		if strings.Contains(lower, service) {
			names = append(names, service)
		}
	}
	sort.Strings(names)
	var vars []string
	for _, service := range names {
		vars = append(vars, serviceEnvVars[service]...)
	}
	return vars
}

func missingFrom(required []string, env Environment) []string {
	var missing []string
	for _, name := range required {
		if _, set := env(name); !set {
			missing = append(missing, name)
		}
	}
	return missing
}

// instructions renders the remediation lines shown to the user. Values are
// placeholders; real credential values never pass through this package.
func instructions(slug string, missing []string) []string {
	lines := []string{
		fmt.Sprintf("%s requires credentials before it can run:", slug),
	}
	for _, name := range missing {
		lines = append(lines, fmt.Sprintf("  export %s=<your-%s>", name, strings.ToLower(strings.ReplaceAll(name, "_", "-"))))
	}
	lines = append(lines, "then re-run the command.")
	return lines
}
