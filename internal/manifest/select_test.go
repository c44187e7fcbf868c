package manifest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/update-tools/restitch/api"
)

func newSelector(src Source) *Selector {
	return &Selector{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source: src,
	}
}

type fakeSource struct {
	manifests []api.Manifest
	err       error
	calls     int
}

func (f *fakeSource) RefreshManifests(_ context.Context, _ *api.UpdateMetadata) ([]api.Manifest, error) {
	f.calls++
	return f.manifests, f.err
}

func canonicalManifest(packages ...api.Package) api.Manifest {
	return api.Manifest{
		Tags:     []api.Tag{{Name: "UpdateType", Value: "Canonical"}},
		Packages: &api.PackageSet{Packages: packages},
	}
}

func TestSelect_FindsCanonical(t *testing.T) {
	update := &api.UpdateMetadata{Manifests: []api.Manifest{
		{Tags: []api.Tag{{Name: "UpdateType", Value: "Diff"}}, Packages: &api.PackageSet{}},
		canonicalManifest(api.Package{Destination: "a"}),
	}}

	m, err := newSelector(nil).Select(context.Background(), update)
	require.NoError(t, err)
	require.NotNil(t, m.Packages)
	assert.Equal(t, "a", m.Packages.Packages[0].Destination)
}

func TestSelect_TagMatchIsCaseInsensitive(t *testing.T) {
	update := &api.UpdateMetadata{Manifests: []api.Manifest{
		{
			Tags:     []api.Tag{{Name: "updatetype", Value: "CANONICAL"}},
			Packages: &api.PackageSet{},
		},
	}}
	_, err := newSelector(nil).Select(context.Background(), update)
	assert.NoError(t, err)
}

func TestSelect_CanonicalWithoutPackagesDoesNotQualify(t *testing.T) {
	// Tagged canonical but nil package set: the other manifest has
	// package detail, so no refresh happens and selection fails.
	src := &fakeSource{}
	update := &api.UpdateMetadata{Manifests: []api.Manifest{
		{Tags: []api.Tag{{Name: "UpdateType", Value: "Canonical"}}},
		{Tags: []api.Tag{{Name: "UpdateType", Value: "Diff"}}, Packages: &api.PackageSet{}},
	}}

	_, err := newSelector(src).Select(context.Background(), update)
	assert.ErrorIs(t, err, ErrNoCanonical)
	assert.Zero(t, src.calls)
}

func TestSelect_RefreshWhenNoPackageDetail(t *testing.T) {
	src := &fakeSource{manifests: []api.Manifest{canonicalManifest()}}
	update := &api.UpdateMetadata{Manifests: []api.Manifest{
		{Tags: []api.Tag{{Name: "UpdateType", Value: "Canonical"}}},
	}}

	m, err := newSelector(src).Select(context.Background(), update)
	require.NoError(t, err)
	assert.NotNil(t, m.Packages)
	assert.Equal(t, 1, src.calls)
	// The manifest collection was replaced wholesale.
	assert.Len(t, update.Manifests, 1)
	assert.NotNil(t, update.Manifests[0].Packages)
}

func TestSelect_RefreshFailurePropagates(t *testing.T) {
	boom := errors.New("metadata service unavailable")
	src := &fakeSource{err: boom}
	update := &api.UpdateMetadata{Manifests: []api.Manifest{{}}}

	_, err := newSelector(src).Select(context.Background(), update)
	assert.ErrorIs(t, err, boom)
}

func TestSelect_NotFoundAfterRefresh(t *testing.T) {
	src := &fakeSource{manifests: []api.Manifest{
		{Tags: []api.Tag{{Name: "UpdateType", Value: "Diff"}}, Packages: &api.PackageSet{}},
	}}
	update := &api.UpdateMetadata{Manifests: nil}

	_, err := newSelector(src).Select(context.Background(), update)
	assert.ErrorIs(t, err, ErrNoCanonical)
	assert.Equal(t, 1, src.calls)
}

func TestSelect_NilSourceSkipsRefresh(t *testing.T) {
	update := &api.UpdateMetadata{}
	_, err := newSelector(nil).Select(context.Background(), update)
	assert.ErrorIs(t, err, ErrNoCanonical)
}

func TestSelect_FirstQualifyingInCollectionOrder(t *testing.T) {
	first := canonicalManifest(api.Package{Destination: "first"})
	second := canonicalManifest(api.Package{Destination: "second"})
	update := &api.UpdateMetadata{Manifests: []api.Manifest{first, second}}

	m, err := newSelector(nil).Select(context.Background(), update)
	require.NoError(t, err)
	assert.Equal(t, "first", m.Packages.Packages[0].Destination)
}
