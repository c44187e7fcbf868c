// Package manifest selects the authoritative composition manifest for
// an update, refreshing the manifest set through the metadata
// collaborator when the loaded set carries no package detail.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/update-tools/restitch/api"
)

// Canonical manifests carry this descriptive tag.
const (
	tagName      = "UpdateType"
	tagCanonical = "Canonical"
)

// ErrNoCanonical reports that no manifest tagged canonical carries
// package detail, even after a refresh. This is an expected outcome:
// callers log it and skip reconciliation instead of aborting.
var ErrNoCanonical = errors.New("no canonical manifest with package detail")

// Source is the metadata collaborator. It can produce a replacement
// manifest set for an update whose loaded set is insufficient.
type Source interface {
	RefreshManifests(ctx context.Context, update *api.UpdateMetadata) ([]api.Manifest, error)
}

// Selector picks the canonical manifest from an update's manifest set.
type Selector struct {
	Logger *slog.Logger
	// Source refreshes the manifest set when no loaded manifest has
	// package detail. May be nil when no collaborator is available, in
	// which case selection proceeds on the loaded set only.
	Source Source
}

// Select returns the first manifest tagged UpdateType=Canonical (case
// insensitive) that carries a package set. When no loaded manifest
// carries package detail at all, the entire manifest set is refreshed
// once through the Source before retrying. Returns ErrNoCanonical when
// nothing qualifies; collaborator failures are returned unchanged.
func (s *Selector) Select(ctx context.Context, update *api.UpdateMetadata) (*api.Manifest, error) {
	if m := findCanonical(update.Manifests); m != nil {
		return m, nil
	}

	if !update.HasPackageDetail() && s.Source != nil {
		s.Logger.Info("no manifest carries package detail, refreshing manifest set",
			"title", update.Title, "manifests", len(update.Manifests))
		refreshed, err := s.Source.RefreshManifests(ctx, update)
		if err != nil {
			return nil, fmt.Errorf("refreshing manifest set: %w", err)
		}
		update.ReplaceManifests(refreshed)
		if m := findCanonical(update.Manifests); m != nil {
			return m, nil
		}
	}

	return nil, ErrNoCanonical
}

func findCanonical(manifests []api.Manifest) *api.Manifest {
	for i := range manifests {
		m := &manifests[i]
		if m.Packages != nil && m.HasTag(tagName, tagCanonical) {
			return m
		}
	}
	return nil
}
