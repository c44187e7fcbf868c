package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/update-tools/restitch/internal/buildstring"
	"github.com/update-tools/restitch/internal/manifest"
	"github.com/update-tools/restitch/internal/metadata"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <metadata.json>",
	Short: "Show the resolved build string and manifest inventory for a replay document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		update, err := metadata.Load(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Title:       %s\n", update.Title)
		if update.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", update.Description)
		}
		fmt.Fprintf(out, "Build:       %s\n", buildstring.Resolve(logger, update.Manifests, update.Title))
		fmt.Fprintf(out, "Manifests:   %d\n", len(update.Manifests))

		for i := range update.Manifests {
			m := &update.Manifests[i]
			detail := "no package detail"
			if m.Packages != nil {
				detail = fmt.Sprintf("%d packages", len(m.Packages.Packages))
			}
			fmt.Fprintf(out, "  [%d] version=%q buildInfo=%q tags=%d (%s)\n",
				i, m.TargetOSVersion, m.TargetBuildInfo, len(m.Tags), detail)
		}

		selector := &manifest.Selector{Logger: logger}
		canonical, err := selector.Select(cmd.Context(), update)
		switch {
		case errors.Is(err, manifest.ErrNoCanonical):
			fmt.Fprintln(out, "Canonical:   none")
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "Canonical:   %d packages\n", len(canonical.Packages.Packages))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
