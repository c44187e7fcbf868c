// Package license builds the name-keyed license map for one update
// build from a set of archive containers. Actual archive decoding is
// the archive collaborator's job; this package only discovers
// containers and merges the per-container maps.
package license

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	billy "github.com/go-git/go-billy/v5"
)

// Map associates a package file name (not path) with its located
// license reference, typically the name of a sibling license file.
type Map map[string]string

// Decoder is the archive collaborator: it decodes one container file
// and returns the file-name to license-reference entries found inside.
type Decoder interface {
	DecodeContainer(ctx context.Context, containerPath string) (map[string]string, error)
}

// Builder merges per-container license maps into one.
type Builder struct {
	Logger  *slog.Logger
	Decoder Decoder
}

// Build decodes every container and merges the results keyed by file
// name. Decoder failures propagate unchanged; this stage does not
// retry. Duplicate keys keep the first value seen and are logged,
// since colliding names across containers are not expected in a
// well-formed build.
func (b *Builder) Build(ctx context.Context, containerPaths []string) (Map, error) {
	merged := make(Map)
	for _, containerPath := range containerPaths {
		entries, err := b.Decoder.DecodeContainer(ctx, containerPath)
		if err != nil {
			return nil, fmt.Errorf("decoding container %s: %w", containerPath, err)
		}
		for name, ref := range entries {
			if existing, ok := merged[name]; ok {
				if existing != ref {
					b.Logger.Warn("license map key collision, keeping first entry",
						"name", name, "kept", existing, "dropped", ref, "container", containerPath)
				}
				continue
			}
			merged[name] = ref
		}
	}
	return merged, nil
}

// FindContainers walks root recursively and returns the relative paths
// of all container archives, in lexical directory order.
func FindContainers(fsys billy.Filesystem, root string) ([]string, error) {
	var containers []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", dir, err)
		}
		for _, entry := range entries {
			full := path.Join(dir, entry.Name())
			if entry.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			if strings.EqualFold(path.Ext(entry.Name()), ".cab") {
				containers = append(containers, full)
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return containers, nil
}
