package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/index"
)

func newIndexCmd() *cobra.Command {
	var (
		collectionName string
		extensions     []string
		ignore         []string
		force          bool
	)

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a directory tree into a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			opID, err := application.Index.Start(ctx, index.Request{
				RootPath:    args[0],
				Collection:  collectionName,
				Extensions:  extensions,
				IgnoreGlobs: ignore,
				Force:       force,
			})
			if err != nil {
				return err
			}

			// Block until the operation reaches a terminal state.
			for {
				snap, err := application.Index.Status(opID)
				if err != nil {
					return err
				}
				if snap.State.Terminal() {
					fmt.Fprintf(cmd.OutOrStdout(),
						"%s: files=%d chunks=%d bytes=%d errors=%d\n",
						snap.State, snap.Counters.FilesIndexed, snap.Counters.ChunksCreated,
						snap.Counters.Bytes, snap.Counters.ErrorCount)
					for _, fe := range snap.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", fe.FilePath, fe.Message)
					}
					if snap.State != index.StateCompleted {
						return fmt.Errorf("indexing %s", snap.State)
					}
					return nil
				}
				select {
				case <-ctx.Done():
					_ = application.Index.Cancel(opID)
					return ctx.Err()
				case <-time.After(200 * time.Millisecond):
				}
			}
		},
	}

	cmd.Flags().StringVarP(&collectionName, "collection", "n", "default", "target collection")
	cmd.Flags().StringSliceVarP(&extensions, "ext", "e", nil, "restrict to file extensions")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "path globs to skip")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-index unchanged files")
	return cmd
}
