// Package preflight checks that the environment can run rigging: config,
// data directory, store, schemas, an optional server and helper binaries.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/cameronsjo/rigging/internal/config"
	"github.com/cameronsjo/rigging/internal/fileutil"
	"github.com/cameronsjo/rigging/internal/lock"
	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/server"
	"github.com/cameronsjo/rigging/internal/store"
)

// Check is one environment check.
type Check struct {
	Name     string
	Required bool   // false = warning only
	Hint     string // shown when the check fails
	Run      func(ctx context.Context) (string, error)
}

// Result is the outcome of one check.
type Result struct {
	Name     string
	Required bool
	Detail   string
	Hint     string
	Err      error
}

// OK reports whether the check passed.
func (r Result) OK() bool { return r.Err == nil }

// BinaryCheck represents a helper binary and its purpose.
type BinaryCheck struct {
	Name        string
	InstallHint string
}

// optionalBinaries are not needed to compose manifests but are used with
// the output.
var optionalBinaries = []BinaryCheck{
	{
		Name:        "kubectl",
		InstallHint: "Install kubectl to apply rendered manifests: https://kubernetes.io/docs/tasks/tools/",
	},
}

// Checks returns the checks for a loaded config. serverURL adds a health
// check against a running server.
func Checks(cfg *config.Config, serverURL string) []Check {
	checks := []Check{
		{
			Name:     "schemas",
			Required: true,
			Hint:     "The binary is broken; reinstall rigging",
			Run: func(context.Context) (string, error) {
				return fmt.Sprintf("%d kinds", len(manifest.SupportedKinds)), manifest.CheckSchemas()
			},
		},
	}

	if serverURL != "" {
		checks = append(checks, Check{
			Name:     "server",
			Required: true,
			Hint:     "Start it with 'rigging serve' or unset --server / RIGGING_SERVER",
			Run: func(ctx context.Context) (string, error) {
				h, err := server.NewClient(serverURL).Health(ctx)
				if err != nil {
					return "", err
				}
				return serverURL + " " + h.Status, nil
			},
		})
		return append(checks, binaryChecks()...)
	}

	checks = append(checks,
		Check{
			Name:     "data directory",
			Required: true,
			Hint:     "Set data_dir in rigging.yaml or RIGGING_DATA_DIR to a writable directory",
			Run: func(context.Context) (string, error) {
				return cfg.DataDir, checkWritable(cfg.DataDir)
			},
		},
		Check{
			Name:     "store",
			Required: true,
			Hint:     "Check store.driver and store.path",
			Run: func(ctx context.Context) (string, error) {
				return checkStore(ctx, cfg)
			},
		},
	)
	if cfg.Store.Driver == store.DriverSQLite {
		checks = append(checks, Check{
			Name: "lock",
			Hint: "A server is running on this data directory; use --server for changes",
			Run: func(context.Context) (string, error) {
				lk := lock.New(cfg.DataDir, lock.StoreName)
				if err := lk.Acquire(); err != nil {
					return "", err
				}
				return "free", lk.Release()
			},
		})
	}
	return append(checks, binaryChecks()...)
}

func binaryChecks() []Check {
	checks := make([]Check, 0, len(optionalBinaries))
	for _, bin := range optionalBinaries {
		checks = append(checks, Check{
			Name: bin.Name,
			Hint: bin.InstallHint,
			Run: func(context.Context) (string, error) {
				return exec.LookPath(bin.Name)
			},
		})
	}
	return checks
}

// checkWritable creates dir if needed and writes a probe file into it.
func checkWritable(dir string) error {
	if err := fileutil.EnsureDir(dir); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %w", err)
	}
	name := f.Name()
	return errors.Join(f.Close(), os.Remove(name))
}

func checkStore(ctx context.Context, cfg *config.Config) (string, error) {
	st, err := cfg.OpenStore()
	if err != nil {
		return "", err
	}
	defer st.Close()

	profiles, err := st.ListProfiles(ctx, store.ProfileFilter{})
	if err != nil {
		return "", err
	}
	composites, err := st.ListComposites(ctx, store.CompositeFilter{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, %d profile(s), %d composite(s)", cfg.Store.Driver, len(profiles), len(composites)), nil
}

// Run executes checks in order.
func Run(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		detail, err := c.Run(ctx)
		results = append(results, Result{
			Name:     c.Name,
			Required: c.Required,
			Detail:   detail,
			Hint:     c.Hint,
			Err:      err,
		})
	}
	return results
}

// Summarize splits failed results into errors (required checks) and
// warnings (optional checks).
func Summarize(results []Result) (warnings []string, errs []string) {
	for _, r := range results {
		if r.OK() {
			continue
		}
		line := r.Name + ": " + r.Err.Error()
		if r.Required {
			errs = append(errs, line)
		} else {
			warnings = append(warnings, line)
		}
	}
	return warnings, errs
}
