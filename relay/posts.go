package relay

import (
	"context"
	"fmt"
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pablof7z/purplewatch/model"
)

// Posts returns the newest notes and reposts by id, newest first.
func (c *Client) Posts(ctx context.Context, id string, limit int) ([]model.Post, error) {
	events, err := c.query(ctx, nostr.Filter{
		Kinds:   []int{kindNote, kindRepost},
		Authors: []string{id},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch posts of %s: %w", id, err)
	}

	posts := make([]model.Post, 0, len(events))
	for _, evt := range events {
		if evt.PubKey != id {
			continue
		}
		if p, ok := postFromEvent(evt, id); ok {
			posts = append(posts, p)
		}
	}
	return newestFirst(posts, limit), nil
}

// Likes returns the notes id reacted to positively, with the note text.
// Reactions whose note cannot be found are dropped.
func (c *Client) Likes(ctx context.Context, id string, limit int) ([]model.Post, error) {
	reactions, err := c.query(ctx, nostr.Filter{
		Kinds:   []int{kindReaction},
		Authors: []string{id},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch reactions of %s: %w", id, err)
	}

	byNote := make(map[string]*nostr.Event)
	var noteIDs []string
	for _, r := range reactions {
		if r.Kind != kindReaction || r.PubKey != id || r.Content == "-" {
			continue
		}
		noteID := lastTagValue(r, "e")
		if noteID == "" {
			continue
		}
		if existing, ok := byNote[noteID]; !ok {
			noteIDs = append(noteIDs, noteID)
			byNote[noteID] = r
		} else if isNewerEvent(existing, r) {
			byNote[noteID] = r
		}
	}

	var likes []model.Post
	for _, batch := range chunkIDs(noteIDs, maxFilterValues) {
		notes, err := c.query(ctx, nostr.Filter{IDs: batch, Kinds: []int{kindNote}})
		if err != nil {
			return newestFirst(likes, limit), fmt.Errorf("fetch liked notes of %s: %w", id, err)
		}
		for _, note := range notes {
			if r, ok := byNote[note.ID]; ok {
				likes = append(likes, likeFromReaction(r, note))
			}
		}
	}
	return newestFirst(likes, limit), nil
}

func newestFirst(posts []model.Post, limit int) []model.Post {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt != posts[j].CreatedAt {
			return posts[i].CreatedAt > posts[j].CreatedAt
		}
		return posts[i].ID < posts[j].ID
	})
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts
}
