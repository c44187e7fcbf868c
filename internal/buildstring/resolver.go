// Package buildstring derives a canonical human-readable build label
// from heterogeneous, sometimes-missing update metadata. Strategies
// are tried in a fixed order; the first one that produces a label
// wins, and the final strategy always produces one.
package buildstring

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/update-tools/restitch/api"
)

// channelMarker in an update title indicates the title's leading token
// is a four-part build number from the checkpoint distribution channel.
const channelMarker = "UUP-CTv2"

// Strategy is one way of deriving a build label. Resolve reports
// whether the strategy applies to the given inputs.
type Strategy interface {
	Name() string
	Resolve(manifests []api.Manifest, title string) (string, bool)
}

// Strategies returns the ordered fallback chain. Exposed so precedence
// can be tested one strategy at a time.
func Strategies() []Strategy {
	return []Strategy{
		manifestVersionStrategy{},
		channelTitleStrategy{},
		rawTitleStrategy{},
	}
}

// Resolve derives the build label for an update. It never fails: the
// final strategy accepts any input.
func Resolve(logger *slog.Logger, manifests []api.Manifest, title string) string {
	for _, s := range Strategies() {
		if label, ok := s.Resolve(manifests, title); ok {
			logger.Debug("resolved build string", "strategy", s.Name(), "build", label)
			return label
		}
	}
	// Unreachable: rawTitleStrategy always resolves.
	return title
}

// manifestVersionStrategy picks the manifest with the highest parseable
// target OS version among those that also carry non-empty build info
// with at least four dot-delimited tokens. A manifest with a higher
// version but missing or malformed build info does not qualify at all.
type manifestVersionStrategy struct{}

func (manifestVersionStrategy) Name() string { return "manifest-version" }

func (manifestVersionStrategy) Resolve(manifests []api.Manifest, _ string) (string, bool) {
	var (
		best        *api.Manifest
		bestVersion []int
	)
	for i := range manifests {
		m := &manifests[i]
		if m.TargetOSVersion == "" || m.TargetBuildInfo == "" {
			continue
		}
		version, ok := parseDotted(m.TargetOSVersion)
		if !ok {
			continue
		}
		if len(strings.Split(m.TargetBuildInfo, ".")) < 4 {
			// Malformed build info: excluded, not merely deprioritized.
			continue
		}
		if best == nil || compareDotted(version, bestVersion) > 0 {
			best = m
			bestVersion = version
		}
	}
	if best == nil {
		return "", false
	}
	// Build info reads "19041.1.amd64fre.vb_release.1": the first two
	// tokens are the build number and revision that make up the label.
	tokens := strings.Split(best.TargetBuildInfo, ".")
	return fmt.Sprintf("%s (%s.%s)", best.TargetOSVersion, tokens[0], tokens[1]), true
}

// channelTitleStrategy derives the label from the update title when it
// carries the checkpoint-channel marker: the leading whitespace-delimited
// token must split into four dot components.
type channelTitleStrategy struct{}

func (channelTitleStrategy) Name() string { return "channel-title" }

func (channelTitleStrategy) Resolve(_ []api.Manifest, title string) (string, bool) {
	if !strings.Contains(title, channelMarker) {
		return "", false
	}
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return "", false
	}
	parts := strings.Split(fields[0], ".")
	if len(parts) < 4 {
		return "", false
	}
	return fmt.Sprintf("10.0.%s.%s (%s.%s)", parts[0], parts[1], parts[2], parts[3]), true
}

// rawTitleStrategy is the terminal fallback: the title verbatim.
type rawTitleStrategy struct{}

func (rawTitleStrategy) Name() string { return "raw-title" }

func (rawTitleStrategy) Resolve(_ []api.Manifest, title string) (string, bool) {
	if title == "" {
		return "unknown", true
	}
	return title, true
}

// parseDotted parses a dotted numeric version like "10.0.19041.1".
// Every segment must be a decimal number and at least two segments are
// required.
func parseDotted(s string) ([]int, bool) {
	segments := strings.Split(s, ".")
	if len(segments) < 2 {
		return nil, false
	}
	parsed := make([]int, len(segments))
	for i, seg := range segments {
		n, err := strconv.Atoi(seg)
		if err != nil || n < 0 {
			return nil, false
		}
		parsed[i] = n
	}
	return parsed, true
}

// compareDotted orders two parsed versions numerically, segment by
// segment, with missing segments reading as zero.
func compareDotted(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			if av > bv {
				return 1
			}
			return -1
		}
	}
	return 0
}
