package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
	"github.com/pablof7z/purplewatch/watchlist"
)

func watchlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Curate watchlists assembled from external lists",
	}

	cmd.AddCommand(
		watchlistListCmd(),
		watchlistAddCmd(),
		watchlistRemoveCmd(),
		watchlistImportListCmd(),
		watchlistImportWebCmd(),
		watchlistRefreshCmd(),
		watchlistDropSublistCmd(),
		watchlistExcludeCmd(),
		watchlistExclusionsCmd(),
		watchlistShowCmd(),
		watchlistSublistsCmd(),
		watchlistHydrateCmd(),
		watchlistDeleteCmd(),
		watchwordCmd(),
	)
	return cmd
}

// withWatchlist opens the watchlist named by the first argument.
func withWatchlist(fn func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		wl, err := the.watchlist(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return fn(cmd, wl, args[1:])
	}
}

func printImport(cmd *cobra.Command, res watchlist.ImportResult) error {
	the.log.Info("sublist imported",
		zap.Int64("sublist", res.Sublist.ID),
		zap.String("name", res.Sublist.Name),
		zap.Int("added", res.Added),
		zap.Int("removed", res.Removed),
		zap.Int("kept", res.Kept),
		zap.Int64("orphans", res.Orphans))
	return printJSON(cmd.OutOrStdout(), res)
}

func watchlistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watchlists on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := the.store.Watchlists()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func watchlistAddCmd() *cobra.Command {
	var sublist int64
	cmd := &cobra.Command{
		Use:   "add <watchlist> <id|npub>...",
		Short: "Add accounts to a watchlist by hand",
		Args:  cobra.MinimumNArgs(2),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			ids := make([]string, 0, len(args))
			for _, arg := range args {
				id, ok := normalizeID(arg)
				if !ok {
					return fmt.Errorf("invalid account id %q", arg)
				}
				ids = append(ids, id)
			}
			return wl.AddAccounts(cmd.Context(), sublist, ids...)
		}),
	}
	cmd.Flags().Int64Var(&sublist, "sublist", model.SelfSublistID, "sublist to add through")
	return cmd
}

func watchlistRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <watchlist> <id|npub>",
		Short: "Remove an account and all of its memberships",
		Args:  cobra.ExactArgs(2),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			id, ok := normalizeID(args[0])
			if !ok {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			return wl.RemoveAccount(cmd.Context(), id)
		}),
	}
}

func watchlistImportListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-list <watchlist> <naddr|30000:owner:slug|owner/slug>",
		Short: "Import a nostr follow set as a sublist",
		Args:  cobra.ExactArgs(2),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			res, err := wl.ImportRelayList(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printImport(cmd, res)
		}),
	}
}

func watchlistImportWebCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "import-web <watchlist> <list-id>",
		Short: "Import a hosted CSV block list as a sublist",
		Args:  cobra.ExactArgs(2),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			res, err := wl.ImportWebList(cmd.Context(), args[0], title)
			if err != nil {
				return err
			}
			return printImport(cmd, res)
		}),
	}
	cmd.Flags().StringVar(&title, "title", "", "sublist name (defaults to the list id)")
	return cmd
}

func watchlistRefreshCmd() *cobra.Command {
	var sublist int64
	cmd := &cobra.Command{
		Use:   "refresh <watchlist>",
		Short: "Re-import sublists from their sources",
		Args:  cobra.ExactArgs(1),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			if sublist != 0 {
				res, err := wl.RefreshSublist(cmd.Context(), sublist)
				if err != nil {
					return err
				}
				return printImport(cmd, res)
			}
			results, err := wl.RefreshAll(cmd.Context())
			for _, res := range results {
				if printErr := printImport(cmd, res); printErr != nil {
					return printErr
				}
			}
			return err
		}),
	}
	cmd.Flags().Int64Var(&sublist, "sublist", 0, "refresh only this sublist")
	return cmd
}

func watchlistDropSublistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop-sublist <watchlist> <sublist-id>",
		Short: "Remove a sublist and any members only it contributed",
		Args:  cobra.ExactArgs(2),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			id, err := parseSublistID(args[0])
			if err != nil {
				return err
			}
			return wl.RemoveSublist(cmd.Context(), id)
		}),
	}
}

func watchlistExcludeCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "exclude <watchlist> <id|npub> <sublist-id>",
		Short: "Locally exclude an account from one sublist",
		Args:  cobra.ExactArgs(3),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			id, ok := normalizeID(args[0])
			if !ok {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			sublist, err := parseSublistID(args[1])
			if err != nil {
				return err
			}
			return wl.SetExclusion(cmd.Context(), id, sublist, !undo)
		}),
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "clear the exclusion instead")
	return cmd
}

func watchlistExclusionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exclusions <watchlist> <sublist-id>",
		Short: "List locally excluded accounts of a sublist",
		Args:  cobra.ExactArgs(2),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			id, err := parseSublistID(args[0])
			if err != nil {
				return err
			}
			excluded, err := wl.Exclusions(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), excluded)
		}),
	}
}

func watchlistShowCmd() *cobra.Command {
	var (
		page, size int
		sublist    int64
	)
	cmd := &cobra.Command{
		Use:   "show <watchlist>",
		Short: "Page through watchlist members",
		Args:  cobra.ExactArgs(1),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			var (
				result model.Page[model.Account]
				err    error
			)
			if sublist != 0 {
				result, err = wl.SublistMembers(cmd.Context(), sublist, page, size)
			} else {
				result, err = wl.Members(cmd.Context(), page, size)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}
	pageFlags(cmd, &page, &size)
	cmd.Flags().Int64Var(&sublist, "sublist", 0, "only members of this sublist")
	return cmd
}

func watchlistSublistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sublists <watchlist>",
		Short: "List sublists with member counts",
		Args:  cobra.ExactArgs(1),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			sublists, err := wl.Sublists(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sublists)
		}),
	}
}

func watchlistHydrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate <watchlist>",
		Short: "Refresh member attributes that are missing or stale",
		Args:  cobra.ExactArgs(1),
		RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
			n, err := wl.RefreshMemberData(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "hydrated %d members\n", n)
			return err
		}),
	}
}

func watchlistDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <watchlist>",
		Short: "Delete a watchlist and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return the.store.RemoveWatchlist(args[0])
		},
	}
}

func watchwordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchword",
		Short: "Manage the patterns that filter member posts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <watchlist> <pattern>",
			Short: "Add a watchword pattern",
			Args:  cobra.ExactArgs(2),
			RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
				return wl.AddWatchword(cmd.Context(), args[0])
			}),
		},
		&cobra.Command{
			Use:   "list <watchlist>",
			Short: "List watchword patterns",
			Args:  cobra.ExactArgs(1),
			RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
				words, err := wl.Watchwords(cmd.Context())
				if err != nil {
					return err
				}
				for _, w := range words {
					fmt.Fprintln(cmd.OutOrStdout(), w)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove <watchlist> <pattern>",
			Short: "Remove a watchword pattern",
			Args:  cobra.ExactArgs(2),
			RunE: withWatchlist(func(cmd *cobra.Command, wl *watchlist.Watchlist, args []string) error {
				return wl.RemoveWatchword(cmd.Context(), args[0])
			}),
		},
	)
	return cmd
}
