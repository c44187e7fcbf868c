package api

import (
	"encoding/json"
	"strings"
)

// UpdateMetadata is the root document describing one discovered update.
// The schema is owned by the metadata collaborator; this is our typed
// view of it. The value is read-only after loading, except that the
// manifest collection may be replaced wholesale via ReplaceManifests
// when the initially loaded set lacks package detail.
type UpdateMetadata struct {
	// Title of the update as reported by the discovery stage.
	Title string `json:"title"`
	// Description is free-form text attached to the update.
	Description string `json:"description,omitempty"`
	// Manifests holds the composition manifests shipped with the update.
	Manifests []Manifest `json:"manifests,omitempty"`
	// BuildHint is an optional build identifier from discovery.
	BuildHint string `json:"buildHint,omitempty"`
	// VersionHint is an optional version identifier from discovery.
	VersionHint string `json:"versionHint,omitempty"`
}

// ReplaceManifests swaps the entire manifest collection. This is the
// only mutation UpdateMetadata supports; manifests are never appended
// or edited in place.
func (u *UpdateMetadata) ReplaceManifests(manifests []Manifest) {
	u.Manifests = manifests
}

// HasPackageDetail reports whether any manifest carries a package set.
func (u *UpdateMetadata) HasPackageDetail() bool {
	for i := range u.Manifests {
		if u.Manifests[i].Packages != nil {
			return true
		}
	}
	return false
}

// Manifest is one composition view of an update (a compdb-style
// document). An update usually ships several; tags distinguish them.
type Manifest struct {
	// TargetOSVersion is a dotted version string. May be empty or
	// unparsable; consumers must treat that as "does not qualify".
	TargetOSVersion string `json:"targetOSVersion,omitempty"`
	// TargetBuildInfo is a dot-delimited build token string, e.g.
	// "19041.1.amd64fre.vb_release.1".
	TargetBuildInfo string `json:"targetBuildInfo,omitempty"`
	// Tags are descriptive name/value pairs. The pair
	// UpdateType=Canonical marks the authoritative manifest.
	Tags []Tag `json:"tags,omitempty"`
	// Packages is the package-level detail. A nil pointer means the
	// manifest carries no package detail at all; an empty set means it
	// declares zero packages. The two are not the same.
	Packages *PackageSet `json:"packages,omitempty"`
}

// HasTag reports whether the manifest carries the given name/value
// pair, compared case-insensitively.
func (m *Manifest) HasTag(name, value string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t.Name, name) && strings.EqualFold(t.Value, value) {
			return true
		}
	}
	return false
}

// Tag is a descriptive name/value pair attached to a manifest.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PackageSet is the package list of one manifest. It is present or
// absent as a whole, never partially populated. On the wire it is a
// bare JSON array so a saved document reads back exactly as written.
type PackageSet struct {
	Packages []Package
}

// MarshalJSON encodes the set as a bare array.
func (s *PackageSet) MarshalJSON() ([]byte, error) {
	if s.Packages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Packages)
}

// UnmarshalJSON decodes a bare array into the set.
func (s *PackageSet) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.Packages)
}

// Package is one declared unit of content in a manifest.
type Package struct {
	// Destination is the declared relative path under the
	// reconciliation root. Manifests may use backslash separators.
	Destination string `json:"destination"`
	// Payload lists the content items backing this package. The first
	// item's hash is the package's identity.
	Payload []PayloadItem `json:"payload,omitempty"`
	// License is the opaque license payload attached to the package,
	// empty when the package carries none.
	License string `json:"license,omitempty"`
}

// PrimaryHash returns the first declared payload hash, which is the
// sole basis for matching on-disk content to this package.
func (p *Package) PrimaryHash() (string, bool) {
	if len(p.Payload) == 0 || p.Payload[0].Hash == "" {
		return "", false
	}
	return p.Payload[0].Hash, true
}

// PayloadItem is one content item of a package.
type PayloadItem struct {
	// Path of the item inside its container, informational only.
	Path string `json:"path,omitempty"`
	// Hash is the base64-encoded SHA-256 digest of the item's bytes.
	Hash string `json:"hash"`
}
