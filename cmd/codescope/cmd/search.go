package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/search"
	"github.com/codescope/codescope/internal/store"
)

func newSearchCmd() *cobra.Command {
	var (
		collectionName string
		k              int
		mode           string
		language       string
		pathGlob       string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			var filters *store.SearchFilter
			if language != "" || pathGlob != "" {
				filters = &store.SearchFilter{Language: language, PathGlob: pathGlob}
			}

			resp, err := application.Search.Search(cmd.Context(), search.Query{
				Query:      strings.Join(args, " "),
				Collection: collectionName,
				K:          k,
				Filters:    filters,
				Mode:       search.Mode(mode),
			})
			if err != nil {
				return err
			}

			for _, warning := range resp.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
			}
			for i, r := range resp.Results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s:%d-%d (%.4f)\n   %s\n",
					i+1, r.Chunk.FilePath, r.Chunk.StartLine, r.Chunk.EndLine, r.Score, r.Snippet)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&collectionName, "collection", "n", "default", "collection to search")
	cmd.Flags().IntVarP(&k, "limit", "k", 10, "maximum results")
	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "semantic, keyword, or hybrid")
	cmd.Flags().StringVarP(&language, "language", "l", "", "filter by language")
	cmd.Flags().StringVarP(&pathGlob, "path", "p", "", "filter by path glob")
	return cmd
}
