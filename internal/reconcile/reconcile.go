// Package reconcile restores loosely-named extracted package files to
// their manifest-declared identity. Files are matched to manifest
// packages purely by content hash, so they can be renamed,
// re-extracted, or retried without losing identity.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sync/errgroup"

	"github.com/update-tools/restitch/api"
	"github.com/update-tools/restitch/internal/license"
)

// Per-file outcome statuses.
const (
	StatusPlaced    = "placed"
	StatusUnmatched = "unmatched"
	StatusFailed    = "failed"
)

// Outcome records what happened to one loose file.
type Outcome struct {
	// LoosePath is the file's original path under the root.
	LoosePath string
	// Hash is the base64 SHA-256 of the file's content, empty when
	// hashing itself failed.
	Hash string
	// Destination is the manifest-declared path the file was moved to,
	// set only for placed files.
	Destination string
	// Status is one of StatusPlaced, StatusUnmatched, StatusFailed.
	Status string
	// Err holds the failure for StatusFailed outcomes.
	Err error
}

// Result summarizes one reconciliation run. Failed counts loose-file
// outcomes only; license-write problems are tallied separately so the
// two kinds of failure stay distinguishable in run reports.
type Result struct {
	Placed          int
	Unmatched       int
	Failed          int
	LicensesWritten int
	LicenseFailures int
	Files           []Outcome
}

// Reconciler matches loose files against a canonical manifest and
// relocates them under the reconciliation root.
type Reconciler struct {
	// FS is rooted at the reconciliation root. All destinations are
	// relative to it.
	FS     billy.Filesystem
	Logger *slog.Logger
	// Workers bounds parallel hashing. Zero or negative means
	// sequential.
	Workers int
}

// Reconcile runs the two reconciliation phases: first every loose file
// is hashed, matched against the manifest's package payload hashes,
// and moved to its declared destination; then licenses are attached
// for every package that carries license data. Phase two starts only
// after phase one has completed for the whole batch. Individual file
// failures are logged and skipped; only cancellation and nil inputs
// end the run early.
func (r *Reconciler) Reconcile(ctx context.Context, canonical *api.Manifest, looseFiles []string, licenses license.Map) (*Result, error) {
	if canonical == nil || canonical.Packages == nil {
		return nil, fmt.Errorf("canonical manifest carries no package set")
	}

	byHash := indexPackages(canonical.Packages.Packages)
	result := &Result{}

	outcomes, err := r.hashAll(ctx, looseFiles)
	if err != nil {
		return nil, err
	}

	// Phase 1: match and move. Moves are applied in input order on a
	// single goroutine, so destination-directory creation needs no
	// serialization beyond MkdirAll's own idempotence.
	for i := range outcomes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome := &outcomes[i]
		if outcome.Status == StatusFailed {
			r.Logger.Error("hashing loose file failed", "file", outcome.LoosePath, "error", outcome.Err)
			result.Failed++
			continue
		}
		pkg, ok := byHash[outcome.Hash]
		if !ok {
			r.Logger.Info("no package matches loose file, skipping",
				"file", outcome.LoosePath, "hash", outcome.Hash)
			outcome.Status = StatusUnmatched
			result.Unmatched++
			continue
		}
		destination, err := r.place(outcome.LoosePath, pkg)
		if err != nil {
			r.Logger.Error("relocating loose file failed",
				"file", outcome.LoosePath, "destination", pkg.Destination, "error", err)
			outcome.Status = StatusFailed
			outcome.Err = err
			result.Failed++
			continue
		}
		r.Logger.Info("placed package file", "file", outcome.LoosePath, "destination", destination)
		outcome.Status = StatusPlaced
		outcome.Destination = destination
		result.Placed++
	}

	// Phase 2: license attachment, after every move has settled.
	for i := range canonical.Packages.Packages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkg := &canonical.Packages.Packages[i]
		if pkg.License == "" {
			continue
		}
		written, err := r.attachLicense(pkg, licenses)
		if err != nil {
			r.Logger.Error("writing license failed",
				"package", pkg.Destination, "error", err)
			result.LicenseFailures++
			continue
		}
		if written {
			result.LicensesWritten++
		}
	}

	result.Files = outcomes
	return result, nil
}

// hashAll computes content hashes for all loose files, in parallel up
// to Workers. Read failures are recorded per file, not returned; the
// only error out of here is context cancellation.
func (r *Reconciler) hashAll(ctx context.Context, looseFiles []string) ([]Outcome, error) {
	outcomes := make([]Outcome, len(looseFiles))
	group, ctx := errgroup.WithContext(ctx)
	if r.Workers > 1 {
		group.SetLimit(r.Workers)
	} else {
		group.SetLimit(1)
	}
	for i, loose := range looseFiles {
		i, loose := i, loose
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := HashFile(r.FS, loose)
			outcomes[i] = Outcome{LoosePath: loose, Hash: hash}
			if err != nil {
				outcomes[i].Status = StatusFailed
				outcomes[i].Err = err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// place moves one matched loose file to the package's declared
// destination, creating the destination directory as needed. An
// existing file at the destination is overwritten.
func (r *Reconciler) place(loose string, pkg *api.Package) (string, error) {
	destination, err := NormalizeDestination(pkg.Destination)
	if err != nil {
		return "", err
	}
	// A root-level destination shows up in the next loose-file scan,
	// so a rerun can hand us a file that already sits exactly where it
	// belongs. Removing it before the rename would destroy it.
	if path.Clean(loose) == destination {
		return destination, nil
	}
	if dir := path.Dir(destination); dir != "." {
		if err := r.FS.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	// Rename does not overwrite on every backend; clear the target
	// first. The only legitimate occupant is a previous copy of this
	// same content.
	if _, err := r.FS.Stat(destination); err == nil {
		if err := r.FS.Remove(destination); err != nil {
			return "", fmt.Errorf("clearing %s: %w", destination, err)
		}
	}
	if err := r.FS.Rename(loose, destination); err != nil {
		return "", fmt.Errorf("moving %s to %s: %w", loose, destination, err)
	}
	return destination, nil
}

// attachLicense writes the package's license payload next to its
// placed file, named by the license map entry for the file's base
// name. A missing map entry writes nothing.
func (r *Reconciler) attachLicense(pkg *api.Package, licenses license.Map) (bool, error) {
	destination, err := NormalizeDestination(pkg.Destination)
	if err != nil {
		return false, err
	}
	name, ok := licenses[path.Base(destination)]
	if !ok {
		r.Logger.Debug("no license map entry for package file", "file", path.Base(destination))
		return false, nil
	}
	dir := path.Dir(destination)
	if dir != "." {
		if err := r.FS.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	target := path.Join(dir, name)
	if err := util.WriteFile(r.FS, target, []byte(pkg.License), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", target, err)
	}
	r.Logger.Info("attached license", "package", path.Base(destination), "license", target)
	return true, nil
}

// HashFile computes the base64-encoded SHA-256 digest of a file's
// bytes, the same encoding manifests use for payload hashes.
func HashFile(fsys billy.Filesystem, name string) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", name, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// NormalizeDestination converts a manifest-declared relative path to a
// clean, slash-separated path under the reconciliation root. Manifests
// regularly use backslash separators. Paths that escape the root are
// rejected.
func NormalizeDestination(declared string) (string, error) {
	p := strings.ReplaceAll(declared, `\`, "/")
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if p == "." || p == "" {
		return "", fmt.Errorf("package destination %q is empty", declared)
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("package destination %q escapes the reconciliation root", declared)
	}
	return p, nil
}

// indexPackages maps each package's primary payload hash to the
// package. Packages without a payload hash cannot be matched and are
// left out. On duplicate hashes the first package wins, matching
// collection order elsewhere.
func indexPackages(packages []api.Package) map[string]*api.Package {
	byHash := make(map[string]*api.Package, len(packages))
	for i := range packages {
		hash, ok := packages[i].PrimaryHash()
		if !ok {
			continue
		}
		if _, exists := byHash[hash]; !exists {
			byHash[hash] = &packages[i]
		}
	}
	return byHash
}
