package buildstring

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/update-tools/restitch/api"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolve_ManifestVersionWins(t *testing.T) {
	manifests := []api.Manifest{
		{TargetOSVersion: "10.0.19041.1", TargetBuildInfo: "19041.1.amd64fre.vb_release.1"},
		{TargetOSVersion: "10.0.19045.1", TargetBuildInfo: ""},
	}
	got := Resolve(discard(), manifests, "ignored title")
	assert.Equal(t, "10.0.19041.1 (19041.1)", got)
}

func TestResolve_HighestQualifyingVersion(t *testing.T) {
	manifests := []api.Manifest{
		{TargetOSVersion: "10.0.19041.1", TargetBuildInfo: "19041.1.amd64fre.vb_release.1"},
		{TargetOSVersion: "10.0.22621.5", TargetBuildInfo: "22621.5.amd64fre.ni_release.2"},
		{TargetOSVersion: "10.0.18362.9", TargetBuildInfo: "18362.9.amd64fre.19h1_release.3"},
	}
	got := Resolve(discard(), manifests, "")
	assert.Equal(t, "10.0.22621.5 (22621.5)", got)
}

func TestResolve_StableUnderPermutation(t *testing.T) {
	a := api.Manifest{TargetOSVersion: "10.0.19041.1", TargetBuildInfo: "19041.1.amd64fre.vb_release.1"}
	b := api.Manifest{TargetOSVersion: "10.0.22621.5", TargetBuildInfo: "22621.5.amd64fre.ni_release.2"}
	c := api.Manifest{TargetOSVersion: "10.0.22000.0", TargetBuildInfo: "22000.0.amd64fre.co_release.4"}

	orders := [][]api.Manifest{
		{a, b, c}, {c, b, a}, {b, a, c}, {c, a, b},
	}
	for _, manifests := range orders {
		got := Resolve(discard(), manifests, "")
		assert.Equal(t, "10.0.22621.5 (22621.5)", got)
	}
}

func TestResolve_TieKeepsFirstEncountered(t *testing.T) {
	manifests := []api.Manifest{
		{TargetOSVersion: "10.0.19041.1", TargetBuildInfo: "19041.1.amd64fre.vb_release.1"},
		{TargetOSVersion: "10.0.19041.1", TargetBuildInfo: "19041.1.arm64fre.vb_release.2"},
	}
	got := Resolve(discard(), manifests, "")
	assert.Equal(t, "10.0.19041.1 (19041.1)", got)
}

func TestResolve_MalformedBuildInfoExcluded(t *testing.T) {
	// The higher-version manifest has fewer than four build-info
	// tokens, so the lower one must be chosen.
	manifests := []api.Manifest{
		{TargetOSVersion: "10.0.22621.1", TargetBuildInfo: "22621.1"},
		{TargetOSVersion: "10.0.19041.1", TargetBuildInfo: "19041.1.amd64fre.vb_release.1"},
	}
	got := Resolve(discard(), manifests, "")
	assert.Equal(t, "10.0.19041.1 (19041.1)", got)
}

func TestResolve_ChannelTitle(t *testing.T) {
	manifests := []api.Manifest{{TargetOSVersion: "definitely not a version"}}
	got := Resolve(discard(), manifests, "22621.1.2.3 (UUP-CTv2)")
	assert.Equal(t, "10.0.22621.1 (2.3)", got)
}

func TestResolve_ChannelTitleTooFewTokensFallsThrough(t *testing.T) {
	// Leading token has only two dot components, so the channel
	// strategy rejects it and the raw title comes back.
	got := Resolve(discard(), nil, "22621.1 (UUP-CTv2)")
	assert.Equal(t, "22621.1 (UUP-CTv2)", got)
}

func TestResolve_RawTitleFallback(t *testing.T) {
	got := Resolve(discard(), nil, "Cumulative Update Preview")
	assert.Equal(t, "Cumulative Update Preview", got)
}

func TestResolve_EmptyEverything(t *testing.T) {
	assert.Equal(t, "unknown", Resolve(discard(), nil, ""))
}

func TestStrategies_Precedence(t *testing.T) {
	manifests := []api.Manifest{
		{TargetOSVersion: "10.0.19041.1", TargetBuildInfo: "19041.1.amd64fre.vb_release.1"},
	}
	title := "22621.1.2.3 (UUP-CTv2)"

	// Both the manifest and the title would resolve on their own; the
	// manifest strategy must win because it is first in the chain.
	got := Resolve(discard(), manifests, title)
	assert.Equal(t, "10.0.19041.1 (19041.1)", got)

	label, ok := Strategies()[1].Resolve(manifests, title)
	assert.True(t, ok)
	assert.Equal(t, "10.0.22621.1 (2.3)", label)
}

func TestParseDotted(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"10.0.19041.1", true},
		{"19041.1", true},
		{"10", false},
		{"", false},
		{"10.x.1", false},
		{"10..1", false},
	}
	for _, tc := range cases {
		_, ok := parseDotted(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
	}
}
