package account

import (
	"context"

	"github.com/pablof7z/purplewatch/model"
)

// FriendsOnWatchlist is the share of friends that are members.
func (a *Account) FriendsOnWatchlist(ctx context.Context, m Members) (float64, error) {
	return a.graphOverlap(ctx, a.FriendIDs, m, false)
}

// FollowersOnWatchlist is the share of followers that are members.
func (a *Account) FollowersOnWatchlist(ctx context.Context, m Members) (float64, error) {
	return a.graphOverlap(ctx, a.FollowerIDs, m, false)
}

// FriendsWatchlistCompletion is the share of members this account follows.
func (a *Account) FriendsWatchlistCompletion(ctx context.Context, m Members) (float64, error) {
	return a.graphOverlap(ctx, a.FriendIDs, m, true)
}

// FollowersWatchlistCompletion is the share of members following this account.
func (a *Account) FollowersWatchlistCompletion(ctx context.Context, m Members) (float64, error) {
	return a.graphOverlap(ctx, a.FollowerIDs, m, true)
}

// LikesFromWatchlist is the share of liked notes authored by members.
func (a *Account) LikesFromWatchlist(ctx context.Context, m Members) (float64, error) {
	if err := a.ensureFresh(ctx, tableLikes, a.syncLikes); err != nil {
		return 0, err
	}
	likes, err := a.queryPosts(ctx, postsQuery(tableLikes))
	if err != nil {
		return 0, err
	}
	return a.postOverlap(ctx, likes, m)
}

// RepostsFromWatchlist is the share of reposts whose original author is a member.
func (a *Account) RepostsFromWatchlist(ctx context.Context, m Members) (float64, error) {
	if err := a.ensureFresh(ctx, tablePosts, a.syncPosts); err != nil {
		return 0, err
	}
	reposts, err := a.queryPosts(ctx, postsQuery(tablePosts).Where("kind = ?", model.PostRepost))
	if err != nil {
		return 0, err
	}
	return a.postOverlap(ctx, reposts, m)
}

func (a *Account) graphOverlap(ctx context.Context, load func(context.Context) ([]string, error), m Members, completion bool) (float64, error) {
	ids, err := load(ctx)
	if err != nil {
		return 0, err
	}
	members, err := m.resolve(ctx)
	if err != nil {
		return 0, err
	}
	hits := len(intersect(ids, members))
	if completion {
		return ratio(hits, len(members)), nil
	}
	return ratio(hits, len(ids)), nil
}

func (a *Account) postOverlap(ctx context.Context, posts []model.Post, m Members) (float64, error) {
	members, err := m.resolve(ctx)
	if err != nil {
		return 0, err
	}
	hits := 0
	for _, p := range posts {
		if _, ok := members[p.AuthorID]; ok {
			hits++
		}
	}
	return ratio(hits, len(posts)), nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
