package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pablof7z/purplewatch/account"
)

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Mirror and inspect a single account",
	}

	sync := &cobra.Command{
		Use:   "sync <id|npub|name>",
		Short: "Refetch everything for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := the.account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.Sync(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %s\n", a.ID())
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <id|npub|name>",
		Short: "Show an account profile and its list memberships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := the.account(ctx, args[0])
			if err != nil {
				return err
			}
			profile, err := a.Profile(ctx)
			if err != nil {
				return err
			}
			lists, err := a.ListMemberships(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"profile":          profile,
				"list_memberships": lists,
			})
		},
	}

	var (
		page, size      int
		filterWatchlist string
		useWatchwords   bool
		likes           bool
	)
	posts := &cobra.Command{
		Use:   "posts <id|npub|name>",
		Short: "List an account's posts or likes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := the.account(ctx, args[0])
			if err != nil {
				return err
			}

			var f account.Filter
			if filterWatchlist != "" {
				wl, err := the.watchlist(ctx, filterWatchlist)
				if err != nil {
					return err
				}
				f.Members = account.FromWatchlist(wl)
				if useWatchwords {
					f.Words = account.FromWatchwords(wl)
				}
			} else if useWatchwords {
				return fmt.Errorf("--watchwords needs --watchlist")
			}

			list := a.Posts
			if likes {
				list = a.Likes
			}
			result, err := list(ctx, f, page, size)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	pageFlags(posts, &page, &size)
	posts.Flags().StringVar(&filterWatchlist, "watchlist", "", "only posts by members of this watchlist")
	posts.Flags().BoolVar(&useWatchwords, "watchwords", false, "only posts matching the watchlist's watchwords")
	posts.Flags().BoolVar(&likes, "likes", false, "list liked notes instead of posts")

	var graphPage, graphSize int
	var followers bool
	var graphWatchlist string
	graph := &cobra.Command{
		Use:   "friends <id|npub|name>",
		Short: "List who an account follows, or its followers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := the.account(ctx, args[0])
			if err != nil {
				return err
			}
			var f account.Filter
			if graphWatchlist != "" {
				wl, err := the.watchlist(ctx, graphWatchlist)
				if err != nil {
					return err
				}
				f.Members = account.FromWatchlist(wl)
			}
			list := a.Friends
			if followers {
				list = a.Followers
			}
			result, err := list(ctx, f, graphPage, graphSize)
			if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
				return printErr
			}
			return err
		},
	}
	pageFlags(graph, &graphPage, &graphSize)
	graph.Flags().BoolVar(&followers, "followers", false, "list followers instead")
	graph.Flags().StringVar(&graphWatchlist, "watchlist", "", "only accounts on this watchlist")

	var overlapWatchlist string
	overlap := &cobra.Command{
		Use:   "overlap <id|npub|name>",
		Short: "Show how an account's graph overlaps a watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := the.account(ctx, args[0])
			if err != nil {
				return err
			}
			wl, err := the.watchlist(ctx, overlapWatchlist)
			if err != nil {
				return err
			}
			members := account.FromWatchlist(wl)

			report := make(map[string]float64)
			for _, m := range []struct {
				name string
				fn   func(context.Context, account.Members) (float64, error)
			}{
				{"friends_on_watchlist", a.FriendsOnWatchlist},
				{"followers_on_watchlist", a.FollowersOnWatchlist},
				{"friends_watchlist_completion", a.FriendsWatchlistCompletion},
				{"followers_watchlist_completion", a.FollowersWatchlistCompletion},
				{"likes_from_watchlist", a.LikesFromWatchlist},
				{"reposts_from_watchlist", a.RepostsFromWatchlist},
			} {
				v, err := m.fn(ctx, members)
				if err != nil {
					return fmt.Errorf("%s: %w", m.name, err)
				}
				report[m.name] = v
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	overlap.Flags().StringVar(&overlapWatchlist, "watchlist", "", "watchlist to compare against")
	_ = overlap.MarkFlagRequired("watchlist")

	remove := &cobra.Command{
		Use:   "delete <id|npub>",
		Short: "Delete an account mirror and its directory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok := normalizeID(args[0])
			if !ok {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			if err := the.store.RemoveAccount(id); err != nil {
				return err
			}
			return the.directory.Remove(cmd.Context(), id)
		},
	}

	cmd.AddCommand(sync, show, posts, graph, overlap, remove)
	return cmd
}
