package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collections",
		Short: "Manage collections",
	}
	cmd.AddCommand(newCollectionsListCmd())
	cmd.AddCommand(newCollectionsStatsCmd())
	cmd.AddCommand(newCollectionsClearCmd())
	return cmd
}

func newCollectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			descs, err := application.Index.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range descs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tmodel=%s dim=%d metric=%s created=%s\n",
					d.Name, d.EmbeddingModel, d.Dimension, d.DistanceMetric,
					d.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func newCollectionsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <collection>",
		Short: "Show collection statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := application.Index.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chunks=%d bytes=%d last_indexed=%s\n",
				stats.ChunkCount, stats.Bytes, stats.LastIndexedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newCollectionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <collection>",
		Short: "Remove a collection's indexes and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			return application.Index.Clear(cmd.Context(), args[0])
		},
	}
}
