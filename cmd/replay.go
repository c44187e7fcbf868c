package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/cobra"

	"github.com/update-tools/restitch/api"
	"github.com/update-tools/restitch/internal/ledger"
	"github.com/update-tools/restitch/internal/metadata"
	"github.com/update-tools/restitch/internal/replay"
)

var (
	replayMetadataPath string
	replayPackages     string
	replayContainers   string
	replayLedgerPath   string
	replayFixup        bool
	replayWorkers      int
	replayHandoffPath  string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a persisted update: fix up extracted packages or hand off for download",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if replayPackages != "" {
			cfg.PackagesRoot = replayPackages
		}
		if replayContainers != "" {
			cfg.ContainersRoot = replayContainers
		}
		if replayLedgerPath != "" {
			cfg.LedgerPath = replayLedgerPath
		}
		if replayWorkers > 0 {
			cfg.Workers = replayWorkers
		}

		update, err := metadata.Load(replayMetadataPath)
		if err != nil {
			return err
		}

		containersRoot := cfg.ContainersRoot
		if containersRoot == "" {
			containersRoot = cfg.PackagesRoot
		}

		orchestrator := &replay.Orchestrator{
			Logger:     logger,
			Decoder:    &sidecarDecoder{FS: osfs.New(containersRoot), Logger: logger},
			Downloader: &handoffDownloader{Path: replayHandoffPath, Out: cmd.OutOrStdout()},
		}
		if cfg.LedgerPath != "" {
			l, err := ledger.Open(cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer l.Close()
			orchestrator.Ledger = l
		}

		result, err := orchestrator.Run(cmd.Context(), update, replay.Options{
			PackagesRoot:   cfg.PackagesRoot,
			ContainersRoot: cfg.ContainersRoot,
			Fixup:          replayFixup,
			Workers:        cfg.Workers,
			LoosePatterns:  cfg.LoosePatterns,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (placed %d, unmatched %d, failed %d)\n",
			result.BuildString, result.Outcome, result.Placed, result.Unmatched, result.Failed)
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayMetadataPath, "metadata", "m", "", "Path to the replay metadata document (required)")
	replayCmd.Flags().StringVarP(&replayPackages, "packages", "p", "", "Reconciliation root holding extracted loose files")
	replayCmd.Flags().StringVar(&replayContainers, "containers", "", "Root holding archive containers (defaults to the packages root)")
	replayCmd.Flags().StringVar(&replayLedgerPath, "ledger", "", "Run-history database path")
	replayCmd.Flags().BoolVar(&replayFixup, "fixup", false, "Reconcile extracted packages instead of handing off for download")
	replayCmd.Flags().IntVar(&replayWorkers, "workers", 0, "Parallel hashing workers")
	replayCmd.Flags().StringVar(&replayHandoffPath, "handoff", "", "Write the hand-off document here instead of stdout")
	_ = replayCmd.MarkFlagRequired("metadata")
	rootCmd.AddCommand(replayCmd)
}

// sidecarDecoder reads the license sidecar the extraction stage leaves
// next to each container: <container>.licenses.json, a JSON object
// mapping package file names to license file names. A container
// without a sidecar simply contributes no entries.
type sidecarDecoder struct {
	FS     billy.Filesystem
	Logger *slog.Logger
}

func (d *sidecarDecoder) DecodeContainer(_ context.Context, containerPath string) (map[string]string, error) {
	sidecar := containerPath + ".licenses.json"
	data, err := util.ReadFile(d.FS, sidecar)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.Logger.Debug("container has no license sidecar", "container", containerPath)
			return nil, nil
		}
		return nil, fmt.Errorf("reading license sidecar %s: %w", sidecar, err)
	}
	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding license sidecar %s: %w", sidecar, err)
	}
	return entries, nil
}

// handoffDownloader serializes the update metadata for the external
// download stage, either to a file or to standard output.
type handoffDownloader struct {
	Path string
	Out  io.Writer
}

func (h *handoffDownloader) Process(_ context.Context, update *api.UpdateMetadata) error {
	if h.Path != "" {
		return metadata.Save(h.Path, update)
	}
	data, err := json.MarshalIndent(update, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = h.Out.Write(data)
	return err
}
