// Package installer orchestrates package installation: validation, method
// selection, cache transactions, and the toolchain invocations that ecosystem
// plugins describe. It owns every install-time side effect.
package installer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"mcpforge.dev/cli/internal/cache"
	"mcpforge.dev/cli/internal/core/descriptor"
	"mcpforge.dev/cli/internal/core/security"
	"mcpforge.dev/cli/internal/ecosystem"
	"mcpforge.dev/cli/internal/logging"
	"mcpforge.dev/cli/internal/process"
)

// Runner executes one install invocation to completion. Satisfied by
// process.Executor; tests substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, cmd process.Command) (process.RunResult, error)
}

// Installer turns resolved packages into ready cache entries.
type Installer struct {
	cache         *cache.Manager
	runner        Runner
	logger        logging.Logger
	timeout       time.Duration
	retryInterval time.Duration
	group         singleflight.Group
}

// New creates an installer. timeout bounds each full install attempt.
func New(cacheManager *cache.Manager, runner Runner, logger logging.Logger, timeout time.Duration) *Installer {
	return &Installer{
		cache:         cacheManager,
		runner:        runner,
		logger:        logger,
		timeout:       timeout,
		retryInterval: 2 * time.Second,
	}
}

const stderrExcerptLimit = 2000

// EnsureInstalled returns a ready cache entry for res, installing it if
// needed. Concurrent calls for the same package share one installation.
// secrets lists credential values to redact from any surfaced output.
func (i *Installer) EnsureInstalled(ctx context.Context, res descriptor.ResolvedPackage, secrets []string) (cache.Entry, error) {
	if err := security.ValidateResolved(res); err != nil {
		return cache.Entry{}, err
	}

	key := cache.Key(res.CacheKey())
	if entry, ok := i.cache.Lookup(key); ok && entry.State == cache.StateReady {
		return entry, nil
	}

	result, err, _ := i.group.Do(key, func() (interface{}, error) {
		return i.install(ctx, key, res, secrets)
	})
	if err != nil {
		return cache.Entry{}, err
	}
	return result.(cache.Entry), nil
}

func (i *Installer) install(ctx context.Context, key string, res descriptor.ResolvedPackage, secrets []string) (cache.Entry, error) {
	installCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	tx, err := i.cache.Begin(installCtx, key)
	if err != nil {
		return cache.Entry{}, err
	}

	// Another process may have finished while we waited for the lock.
	if entry, ok := i.cache.Lookup(key); ok && entry.State == cache.StateReady {
		_ = tx.Abort()
		return entry, nil
	}

	plugin, err := ecosystem.ForEcosystem(res.Ecosystem)
	if err != nil {
		_ = tx.Abort()
		return cache.Entry{}, err
	}

	i.logger.Log(logging.LevelInfo, "installing package", map[string]interface{}{
		"package":   res.Spec(),
		"ecosystem": res.Ecosystem,
	})

	meta := cache.Entry{
		Spec:      res.CacheKey(),
		Ecosystem: string(res.Ecosystem),
		Name:      res.Name,
		Version:   res.Version,
	}

	// The transaction context folds in cache clears: a clear of this key
	// mid-install cancels the toolchain run instead of waiting behind it.
	if err := i.runInvocations(tx.Context(), plugin, res, tx.StagingDir(), secrets); err != nil {
		if failErr := tx.Fail(meta, err); failErr != nil {
			i.logger.LogError(failErr, "failed to record install failure", nil)
		}
		return cache.Entry{}, err
	}

	executable, err := plugin.LocateExecutable(tx.StagingDir(), res)
	if err != nil {
		if failErr := tx.Fail(meta, err); failErr != nil {
			i.logger.LogError(failErr, "failed to record install failure", nil)
		}
		return cache.Entry{}, err
	}

	entry, err := tx.Publish(meta, executable)
	if err != nil {
		return cache.Entry{}, err
	}

	i.logger.Log(logging.LevelInfo, "package installed", map[string]interface{}{
		"package":    res.Spec(),
		"executable": entry.Executable,
	})
	return entry, nil
}

// runInvocations executes the plugin's install commands in order. A
// transient failure earns exactly one retry of the whole sequence.
func (i *Installer) runInvocations(ctx context.Context, plugin ecosystem.Plugin, res descriptor.ResolvedPackage, stagingDir string, secrets []string) error {
	attempt := func() error {
		for _, invocation := range plugin.InstallArgs(res, stagingDir) {
			cmd, err := process.NewCommand(invocation.Argv[0], invocation.Argv[1:], "", invocation.Env)
			if err != nil {
				return backoff.Permanent(err)
			}
			result, err := i.runner.Run(ctx, cmd)
			if err != nil {
				excerpt := Redact(tail(result.Stderr, stderrExcerptLimit), secrets)
				installErr := &ecosystem.InstallError{
					Ecosystem:     plugin.Ecosystem(),
					Stage:         ecosystem.StageInstall,
					StderrExcerpt: excerpt,
					Transient:     ecosystem.ClassifyStderr(result.Stderr) && ctx.Err() == nil,
					Err:           err,
				}
				if !installErr.Transient {
					return backoff.Permanent(error(installErr))
				}
				i.logger.Log(logging.LevelWarn, "transient install failure, retrying", map[string]interface{}{
					"package": res.Spec(),
				})
				return installErr
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(i.retryInterval), 1), ctx)
	return backoff.Retry(attempt, policy)
}

// Redact replaces each secret value in text with a placeholder. Empty and
// very short secrets are skipped to avoid shredding unrelated text.
func Redact(text string, secrets []string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		text = strings.ReplaceAll(text, secret, "[redacted]")
	}
	return text
}

// SecretsFromEnv collects the current values of the named variables for
// redaction purposes.
func SecretsFromEnv(names []string) []string {
	var secrets []string
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			secrets = append(secrets, v)
		}
	}
	return secrets
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

// InstallFromDescriptor validates a descriptor and tries its install methods
// best-first until one produces a ready entry. The resolved package of the
// winning method is returned alongside the entry so callers can launch it.
func (i *Installer) InstallFromDescriptor(ctx context.Context, d descriptor.PackageDescriptor) (cache.Entry, descriptor.ResolvedPackage, error) {
	if err := d.Validate(); err != nil {
		return cache.Entry{}, descriptor.ResolvedPackage{}, err
	}
	if err := security.ValidateDescriptor(d); err != nil {
		return cache.Entry{}, descriptor.ResolvedPackage{}, err
	}

	secrets := SecretsFromEnv(d.RequiredEnvVars)

	var errs []string
	for _, method := range d.MethodsByPreference() {
		eco, err := descriptor.ParseEcosystem(method.Type)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		plugin, err := ecosystem.ForEcosystem(eco)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		res, err := plugin.Parse(method.Command)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		entry, err := i.EnsureInstalled(ctx, res, secrets)
		if err == nil {
			return entry, res, nil
		}
		if security.IsSecurityError(err) || ctx.Err() != nil {
			return cache.Entry{}, descriptor.ResolvedPackage{}, err
		}
		errs = append(errs, fmt.Sprintf("%s: %v", method.Type, err))
	}
	return cache.Entry{}, descriptor.ResolvedPackage{}, fmt.Errorf("all install methods failed for %s: %s", d.Slug, strings.Join(errs, "; "))
}

// ResolveCached returns the ready entry and resolved package for a
// descriptor if one of its methods is already installed, without running
// any toolchain.
func (i *Installer) ResolveCached(d descriptor.PackageDescriptor) (cache.Entry, descriptor.ResolvedPackage, bool) {
	for _, method := range d.MethodsByPreference() {
		eco, err := descriptor.ParseEcosystem(method.Type)
		if err != nil {
			continue
		}
		plugin, err := ecosystem.ForEcosystem(eco)
		if err != nil {
			continue
		}
		res, err := plugin.Parse(method.Command)
		if err != nil {
			continue
		}
		if entry, ok := i.cache.Lookup(cache.Key(res.CacheKey())); ok && entry.State == cache.StateReady {
			return entry, res, true
		}
	}
	return cache.Entry{}, descriptor.ResolvedPackage{}, false
}
