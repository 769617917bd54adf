package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/listsource"
)

func directoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Inspect and reconcile the directory of mirrored accounts",
	}

	scan := &cobra.Command{
		Use:   "scan",
		Short: "Sync directory rows with the account stores on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := the.directory.ScanAndUpdate(cmd.Context())
			if err != nil {
				return err
			}
			the.log.Info("directory scanned",
				zap.Int("on_disk", res.OnDisk),
				zap.Int("added", res.Added),
				zap.Int("refreshed", res.Refreshed),
				zap.Int("removed", res.Removed),
				zap.Int("unresolved", len(res.Unresolved)))
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	var page, size int
	list := &cobra.Command{
		Use:   "list",
		Short: "List mirrored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := the.directory.List(cmd.Context(), page, size)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	pageFlags(list, &page, &size)

	cmd.AddCommand(scan, list)
	return cmd
}

func pageFlags(cmd *cobra.Command, page, size *int) {
	cmd.Flags().IntVar(page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(size, "page-size", 50, "items per page")
}

func normalizeID(s string) (string, bool) {
	return listsource.NormalizeAccountID(s)
}

func parseSublistID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid sublist id %q", s)
	}
	return id, nil
}
