// Package services wires the installer, the session engine, the registry
// client, and the auth heuristics into the operations the CLI exposes.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mcpforge.dev/cli/internal/auth"
	"mcpforge.dev/cli/internal/cache"
	"mcpforge.dev/cli/internal/core/descriptor"
	"mcpforge.dev/cli/internal/ecosystem"
	"mcpforge.dev/cli/internal/logging"
	"mcpforge.dev/cli/internal/runtime"
)

// DescriptorSource resolves a slug to a package descriptor. The registry
// client is the production implementation; tests inject fixtures.
type DescriptorSource interface {
	FetchDescriptor(ctx context.Context, slug string) (descriptor.PackageDescriptor, error)
}

// PackageInstaller is the slice of the installer this service needs.
type PackageInstaller interface {
	InstallFromDescriptor(ctx context.Context, d descriptor.PackageDescriptor) (cache.Entry, descriptor.ResolvedPackage, error)
	ResolveCached(d descriptor.PackageDescriptor) (cache.Entry, descriptor.ResolvedPackage, bool)
}

// SessionEngine is the slice of the runtime engine this service needs.
type SessionEngine interface {
	CreateSession(ctx context.Context, slug string, spec descriptor.LaunchSpec) (*runtime.Session, error)
	CloseSession(id string) error
}

// ExecutionService runs the full pipeline for one package: descriptor fetch,
// auth pre-flight, install (or cache hit), launch, handshake, capability
// discovery.
type ExecutionService struct {
	source     DescriptorSource
	installer  PackageInstaller
	engine     SessionEngine
	env        auth.Environment
	logger     logging.Logger
	closeGrace time.Duration
}

// NewExecutionService creates an execution service.
func NewExecutionService(source DescriptorSource, installer PackageInstaller, engine SessionEngine, env auth.Environment, logger logging.Logger) *ExecutionService {
	if env == nil {
		env = auth.OSEnvironment
	}
	return &ExecutionService{
		source:     source,
		installer:  installer,
		engine:     engine,
		env:        env,
		logger:     logger,
		closeGrace: 3 * time.Second,
	}
}

// Install fetches a package's descriptor and installs it without launching.
func (s *ExecutionService) Install(ctx context.Context, slug string) (cache.Entry, error) {
	d, err := s.source.FetchDescriptor(ctx, slug)
	if err != nil {
		return cache.Entry{}, err
	}
	entry, _, err := s.installer.InstallFromDescriptor(ctx, d)
	return entry, err
}

// ExecuteOptions tune one execute invocation.
type ExecuteOptions struct {
	// SkipAuthCheck launches even when declared credentials look missing.
	// The heuristics can misjudge; this is the escape hatch.
	SkipAuthCheck bool
}

// Execute installs a package if needed, launches it, and performs capability
// discovery. On success the returned session is live and owned by the
// caller. Credential problems produce a failed result carrying guidance, not
// a bare error.
func (s *ExecutionService) Execute(ctx context.Context, slug string, opts ExecuteOptions) (descriptor.ExecutionResult, *runtime.Session, error) {
	started := time.Now()

	d, err := s.source.FetchDescriptor(ctx, slug)
	if err != nil {
		return failedResult(started, err), nil, err
	}

	// Pre-flight: when the descriptor declares its credentials (or the
	// service table knows them) and they are missing, skip the install
	// entirely and hand back setup guidance.
	if !opts.SkipAuthCheck {
		if assessment := auth.AssessDescriptor(d, s.env); assessment.Required && len(assessment.MissingVars) > 0 {
			return authResult(started, assessment), nil, nil
		}
	}

	entry, res, err := s.ensureInstalled(ctx, d)
	if err != nil {
		return failedResult(started, err), nil, err
	}

	spec, err := s.launchSpec(entry, res, d.RequiredEnvVars)
	if err != nil {
		return failedResult(started, err), nil, err
	}

	session, err := s.engine.CreateSession(ctx, slug, spec)
	if err != nil {
		// A server that dies during the handshake often printed why.
		var hsErr *runtime.HandshakeError
		if errors.As(err, &hsErr) {
			if assessment := auth.ScanOutput(slug, hsErr.StderrTail, s.env); assessment.Required {
				result := authResult(started, assessment)
				result.Error = err.Error()
				result.CachePath = entry.Executable
				return result, nil, err
			}
		}
		result := failedResult(started, err)
		result.CachePath = entry.Executable
		return result, nil, err
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		_ = session.Close(s.closeGrace)
		return failedResult(started, err), nil, err
	}

	// Resources and prompts round out the capability report. Servers lacking
	// either answer with a method-not-found error, reported as an empty list,
	// so only transport failures surface here and those are not fatal.
	resources, err := session.ListResources(ctx)
	if err != nil {
		s.logger.Log(logging.LevelDebug, "resources/list failed", map[string]interface{}{
			"slug": slug,
		})
	}
	prompts, err := session.ListPrompts(ctx)
	if err != nil {
		s.logger.Log(logging.LevelDebug, "prompts/list failed", map[string]interface{}{
			"slug": slug,
		})
	}

	result := descriptor.ExecutionResult{
		Success:         true,
		Command:         spec.String(),
		CachePath:       entry.Executable,
		Tools:           tools,
		Resources:       resources,
		Prompts:         prompts,
		ProtocolVersion: session.Protocol(),
		ServerName:      session.ServerName(),
		Duration:        time.Since(started),
	}
	return result, session, nil
}

// CallTool executes a package, invokes one tool, and tears the session down.
func (s *ExecutionService) CallTool(ctx context.Context, slug, tool string, arguments map[string]interface{}) (json.RawMessage, descriptor.ExecutionResult, error) {
	result, session, err := s.Execute(ctx, slug, ExecuteOptions{})
	if err != nil || session == nil {
		if err == nil {
			err = fmt.Errorf("%s requires credentials before tools can be invoked", slug)
		}
		return nil, result, err
	}
	defer func() { _ = s.engine.CloseSession(session.ID()) }()

	raw, err := session.CallTool(ctx, tool, arguments)
	if err != nil {
		return nil, result, fmt.Errorf("tool %s: %w", tool, err)
	}
	result.Output = string(raw)
	return raw, result, nil
}

func (s *ExecutionService) ensureInstalled(ctx context.Context, d descriptor.PackageDescriptor) (cache.Entry, descriptor.ResolvedPackage, error) {
	if entry, res, ok := s.installer.ResolveCached(d); ok {
		s.logger.Log(logging.LevelDebug, "cache hit", map[string]interface{}{
			"slug": d.Slug,
			"key":  entry.Key,
		})
		return entry, res, nil
	}
	return s.installer.InstallFromDescriptor(ctx, d)
}

// launchSpec builds the spawn spec for a ready entry and injects the values
// of the declared credentials present in the environment. Injection happens
// here, at launch time; the cache never sees a secret.
func (s *ExecutionService) launchSpec(entry cache.Entry, res descriptor.ResolvedPackage, requiredEnvVars []string) (descriptor.LaunchSpec, error) {
	plugin, err := ecosystem.ForEcosystem(descriptor.Ecosystem(entry.Ecosystem))
	if err != nil {
		return descriptor.LaunchSpec{}, err
	}
	spec, err := plugin.Launch(entry.Executable, res, requiredEnvVars)
	if err != nil {
		return descriptor.LaunchSpec{}, err
	}

	overrides := make(map[string]string)
	for _, name := range requiredEnvVars {
		if value, ok := s.env(name); ok {
			overrides[name] = value
		}
	}
	if len(overrides) > 0 {
		spec = spec.WithEnv(overrides)
	}
	return spec, nil
}

func failedResult(started time.Time, err error) descriptor.ExecutionResult {
	return descriptor.ExecutionResult{
		Success:  false,
		Error:    err.Error(),
		Duration: time.Since(started),
	}
}

func authResult(started time.Time, assessment auth.Assessment) descriptor.ExecutionResult {
	return descriptor.ExecutionResult{
		Success:      false,
		AuthRequired: true,
		AuthType:     assessment.AuthType,
		Instructions: assessment.Instructions,
		Error:        fmt.Sprintf("missing credentials: %v", assessment.MissingVars),
		Duration:     time.Since(started),
	}
}
