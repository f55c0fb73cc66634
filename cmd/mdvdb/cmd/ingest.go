package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-dev/mdvdb/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var file string
	var full bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index (or re-index) the project's markdown files",
		Long: `ingest walks the project's configured source directories, chunks every
markdown file, embeds the chunks, and commits them to the vector and lexical
indexes. Pass --file to re-index a single file instead of the whole tree, or
--full to force every file to be re-embedded (re-running key compaction from
scratch) regardless of content-hash matches.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			result, err := e.Ingest(cmd.Context(), ingest.Options{SingleFile: file, Force: full})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"scanned %d files, embedded %d files (%d chunks), skipped %d chunks, removed %d files\n",
				result.FilesScanned, result.FilesEmbedded, result.ChunksEmbedded, result.ChunksSkipped, result.FilesRemoved)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Re-index a single project-root-relative file")
	cmd.Flags().BoolVar(&full, "full", false, "Force a full reindex, ignoring content-hash skips")

	return cmd
}
