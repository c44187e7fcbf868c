// Package replay sequences one reconciliation run: load metadata,
// resolve the build string, then either fix up a previously extracted
// package tree against its canonical manifest or hand the update off
// to the download stage untouched.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/update-tools/restitch/api"
	"github.com/update-tools/restitch/internal/buildstring"
	"github.com/update-tools/restitch/internal/ledger"
	"github.com/update-tools/restitch/internal/license"
	"github.com/update-tools/restitch/internal/manifest"
	"github.com/update-tools/restitch/internal/reconcile"
)

// Downloader is the external download/processing collaborator that
// receives updates when no fix-up was requested.
type Downloader interface {
	Process(ctx context.Context, update *api.UpdateMetadata) error
}

// Options configures one run.
type Options struct {
	// PackagesRoot is the reconciliation root holding loose files.
	PackagesRoot string
	// ContainersRoot holds archive containers for the license map.
	// Empty falls back to PackagesRoot.
	ContainersRoot string
	// Fixup selects the reconciliation branch instead of download
	// hand-off.
	Fixup bool
	// Workers bounds parallel hashing.
	Workers int
	// LoosePatterns identify loose files; nil means the defaults.
	LoosePatterns []string
}

// Result is the run-level outcome surfaced to the caller. Failed
// covers loose-file outcomes; LicenseFailures covers phase-two license
// writes.
type Result struct {
	BuildString     string
	Outcome         string
	Placed          int
	Unmatched       int
	Failed          int
	Licenses        int
	LicenseFailures int
}

// Orchestrator wires the selector, license builder, and reconciler to
// their external collaborators.
type Orchestrator struct {
	Logger *slog.Logger
	// Source refreshes manifest sets; may be nil when offline.
	Source manifest.Source
	// Decoder is the archive collaborator for license extraction.
	// Required for fix-up runs.
	Decoder license.Decoder
	// Downloader receives the update when no fix-up was requested.
	Downloader Downloader
	// Ledger records run history; may be nil.
	Ledger *ledger.Ledger

	// PackagesFS and ContainersFS override the filesystems used for
	// reconciliation and container discovery. When nil they are rooted
	// at the option roots on the host filesystem.
	PackagesFS   billy.Filesystem
	ContainersFS billy.Filesystem
}

// Run executes one reconciliation run. Expected not-found conditions
// (no canonical manifest) complete the run with OutcomeSkipped;
// collaborator failures abort it.
func (o *Orchestrator) Run(ctx context.Context, update *api.UpdateMetadata, opts Options) (*Result, error) {
	o.Logger.Info("processing update", "title", update.Title, "description", update.Description)

	result := &Result{
		BuildString: buildstring.Resolve(o.Logger, update.Manifests, update.Title),
	}
	o.Logger.Info("resolved build", "build", result.BuildString)

	if !opts.Fixup {
		if o.Downloader == nil {
			return nil, fmt.Errorf("no download collaborator configured")
		}
		if err := o.Downloader.Process(ctx, update); err != nil {
			return nil, fmt.Errorf("download hand-off: %w", err)
		}
		result.Outcome = ledger.OutcomeCompleted
		return result, nil
	}

	runID, err := o.beginRun(update.Title, result.BuildString)
	if err != nil {
		return nil, err
	}

	reconciled, err := o.fixup(ctx, update, opts)
	switch {
	case errors.Is(err, manifest.ErrNoCanonical):
		o.Logger.Warn("no canonical manifest with package detail, skipping reconciliation",
			"title", update.Title)
		result.Outcome = ledger.OutcomeSkipped
		o.finishRun(runID, result)
		return result, nil
	case err != nil:
		result.Outcome = ledger.OutcomeAborted
		o.finishRun(runID, result)
		return nil, err
	}

	result.Outcome = ledger.OutcomeCompleted
	result.Placed = reconciled.Placed
	result.Unmatched = reconciled.Unmatched
	result.Failed = reconciled.Failed
	result.Licenses = reconciled.LicensesWritten
	result.LicenseFailures = reconciled.LicenseFailures
	o.recordFiles(runID, reconciled.Files)
	o.finishRun(runID, result)

	o.Logger.Info("reconciliation finished",
		"placed", result.Placed, "unmatched", result.Unmatched,
		"failed", result.Failed, "licenses", result.Licenses,
		"licenseFailures", result.LicenseFailures)
	return result, nil
}

func (o *Orchestrator) fixup(ctx context.Context, update *api.UpdateMetadata, opts Options) (*reconcile.Result, error) {
	selector := &manifest.Selector{Logger: o.Logger, Source: o.Source}
	canonical, err := selector.Select(ctx, update)
	if err != nil {
		return nil, err
	}

	packagesFS := o.PackagesFS
	if packagesFS == nil {
		packagesFS = osfs.New(opts.PackagesRoot)
	}
	containersFS := o.ContainersFS
	if containersFS == nil {
		root := opts.ContainersRoot
		if root == "" {
			root = opts.PackagesRoot
		}
		containersFS = osfs.New(root)
	}

	if o.Decoder == nil {
		return nil, fmt.Errorf("no archive collaborator configured")
	}
	containers, err := license.FindContainers(containersFS, ".")
	if err != nil {
		return nil, err
	}
	builder := &license.Builder{Logger: o.Logger, Decoder: o.Decoder}
	licenses, err := builder.Build(ctx, containers)
	if err != nil {
		return nil, err
	}

	loose, err := reconcile.ListLoose(packagesFS, ".", opts.LoosePatterns)
	if err != nil {
		return nil, err
	}
	o.Logger.Info("reconciling extracted packages",
		"looseFiles", len(loose), "containers", len(containers))

	reconciler := &reconcile.Reconciler{
		FS:      packagesFS,
		Logger:  o.Logger,
		Workers: opts.Workers,
	}
	return reconciler.Reconcile(ctx, canonical, loose, licenses)
}

func (o *Orchestrator) beginRun(title, buildString string) (int64, error) {
	if o.Ledger == nil {
		return 0, nil
	}
	id, err := o.Ledger.BeginRun(title, buildString)
	if err != nil {
		return 0, fmt.Errorf("ledger: %w", err)
	}
	return id, nil
}

func (o *Orchestrator) recordFiles(runID int64, outcomes []reconcile.Outcome) {
	if o.Ledger == nil {
		return
	}
	if err := o.Ledger.RecordFiles(runID, outcomes); err != nil {
		o.Logger.Error("recording file outcomes failed", "error", err)
	}
}

func (o *Orchestrator) finishRun(runID int64, result *Result) {
	if o.Ledger == nil {
		return
	}
	if err := o.Ledger.FinishRun(runID, result.Outcome, result.Placed, result.Unmatched, result.Failed); err != nil {
		o.Logger.Error("finishing ledger run failed", "error", err)
	}
}
