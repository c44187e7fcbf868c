// Package metadata loads and persists the replay metadata document.
// The document's JSON schema is owned by the metadata collaborator and
// has drifted across pipeline versions, so fields are extracted
// tolerantly by jsonpath instead of a rigid struct decode: missing
// fields read as absent, never as errors.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/update-tools/restitch/api"
)

// Load reads and parses a replay metadata document from disk.
func Load(path string) (*api.UpdateMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading replay metadata: %w", err)
	}
	update, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return update, nil
}

// Save writes an UpdateMetadata back to a replay document so a fresh
// discovery can be replayed later. Output uses our field names; the
// tolerant reader accepts them alongside the collaborator's.
func Save(path string, update *api.UpdateMetadata) error {
	data, err := json.MarshalIndent(update, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding replay metadata: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing replay metadata: %w", err)
	}
	return nil
}

// Parse builds the typed view of a replay metadata document.
func Parse(data []byte) (*api.UpdateMetadata, error) {
	root, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	update := &api.UpdateMetadata{
		Title:       firstString(root, "$.updateInfo.title", "$.title"),
		Description: firstString(root, "$.updateInfo.description", "$.description"),
		BuildHint:   firstString(root, "$.updateInfo.build", "$.buildHint"),
		VersionHint: firstString(root, "$.updateInfo.version", "$.versionHint"),
	}

	for _, node := range firstMatch(root, "$.compDBs[*]", "$.manifests[*]") {
		doc, ok := node.(map[string]any)
		if !ok {
			continue
		}
		update.Manifests = append(update.Manifests, parseManifest(doc))
	}
	return update, nil
}

func parseManifest(doc map[string]any) api.Manifest {
	m := api.Manifest{
		TargetOSVersion: stringField(doc, "targetOSVersion"),
		TargetBuildInfo: stringField(doc, "targetBuildInfo"),
	}
	for _, node := range listField(doc, "tags") {
		tag, ok := node.(map[string]any)
		if !ok {
			continue
		}
		m.Tags = append(m.Tags, api.Tag{
			Name:  stringField(tag, "name"),
			Value: stringField(tag, "value"),
		})
	}
	// A present "packages" key, even an empty list, means the manifest
	// carries package detail. An absent key means it does not. Some
	// document generations wrap the list in an object; unwrap it.
	if raw, ok := lookup(doc, "packages"); ok {
		if wrapped, isObject := raw.(map[string]any); isObject {
			if inner, ok := lookup(wrapped, "packages"); ok {
				raw = inner
			}
		}
		set := &api.PackageSet{}
		if items, ok := raw.([]any); ok {
			for _, node := range items {
				pkg, ok := node.(map[string]any)
				if !ok {
					continue
				}
				set.Packages = append(set.Packages, parsePackage(pkg))
			}
		}
		m.Packages = set
	}
	return m
}

func parsePackage(doc map[string]any) api.Package {
	p := api.Package{
		Destination: stringField(doc, "destination", "path"),
		License:     stringField(doc, "license", "licenseData"),
	}
	for _, node := range listField(doc, "payload") {
		item, ok := node.(map[string]any)
		if !ok {
			continue
		}
		p.Payload = append(p.Payload, api.PayloadItem{
			Path: stringField(item, "path"),
			Hash: stringField(item, "hash", "payloadHash"),
		})
	}
	// Single-hash shorthand used by older documents.
	if len(p.Payload) == 0 {
		if hash := stringField(doc, "payloadHash"); hash != "" {
			p.Payload = []api.PayloadItem{{Hash: hash}}
		}
	}
	return p
}

// firstString evaluates jsonpath expressions in order and returns the
// first non-empty string result.
func firstString(root any, paths ...string) string {
	for _, p := range paths {
		for _, result := range jp.MustParseString(p).Get(root) {
			if s, ok := result.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// firstMatch evaluates jsonpath expressions in order and returns the
// results of the first one that matches anything.
func firstMatch(root any, paths ...string) []any {
	for _, p := range paths {
		if results := jp.MustParseString(p).Get(root); len(results) > 0 {
			return results
		}
	}
	return nil
}

// lookup finds a key in a decoded JSON object, case-insensitively.
func lookup(doc map[string]any, key string) (any, bool) {
	if v, ok := doc[key]; ok {
		return v, true
	}
	for k, v := range doc {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func stringField(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := lookup(doc, key); ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func listField(doc map[string]any, key string) []any {
	if v, ok := lookup(doc, key); ok {
		if list, ok := v.([]any); ok {
			return list
		}
	}
	return nil
}
