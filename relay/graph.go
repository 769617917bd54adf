package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/pablof7z/purplewatch/model"
)

var ErrListNotFound = errors.New("list not found")

// ParseListRef accepts an naddr, a 30000:<owner>:<slug> address or
// <owner>/<slug> with a hex or npub owner.
func ParseListRef(ref string) (owner, slug string, err error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "naddr1"):
		prefix, value, err := nip19.Decode(ref)
		if err != nil || prefix != "naddr" {
			return "", "", fmt.Errorf("invalid naddr %q", ref)
		}
		var ep nostr.EntityPointer
		switch v := value.(type) {
		case nostr.EntityPointer:
			ep = v
		case *nostr.EntityPointer:
			ep = *v
		default:
			return "", "", fmt.Errorf("invalid naddr %q", ref)
		}
		if ep.Kind != kindFollowSet {
			return "", "", fmt.Errorf("naddr points at kind %d, not a follow set", ep.Kind)
		}
		owner, slug = ep.PublicKey, ep.Identifier
	case strings.HasPrefix(ref, strconv.Itoa(kindFollowSet)+":"):
		parts := strings.SplitN(ref, ":", 3)
		if len(parts) != 3 {
			return "", "", fmt.Errorf("invalid list address %q", ref)
		}
		owner, slug = parts[1], parts[2]
	default:
		var ok bool
		owner, slug, ok = strings.Cut(ref, "/")
		if !ok {
			return "", "", fmt.Errorf("invalid list reference %q", ref)
		}
		if strings.HasPrefix(owner, "npub1") {
			prefix, value, err := nip19.Decode(owner)
			if err != nil || prefix != "npub" {
				return "", "", fmt.Errorf("invalid npub %q", owner)
			}
			owner, _ = value.(string)
		}
	}

	owner = strings.ToLower(owner)
	if !model.IsAccountID(owner) {
		return "", "", fmt.Errorf("invalid list owner %q", owner)
	}
	if slug == "" {
		return "", "", fmt.Errorf("list reference %q has no identifier", ref)
	}
	return owner, slug, nil
}

// ListMembers fetches the newest version of a follow set.
func (c *Client) ListMembers(ctx context.Context, ref string) (model.RemoteList, error) {
	owner, slug, err := ParseListRef(ref)
	if err != nil {
		return model.RemoteList{}, err
	}

	events, err := c.query(ctx, nostr.Filter{
		Kinds:   []int{kindFollowSet},
		Authors: []string{owner},
		Tags:    nostr.TagMap{"d": []string{slug}},
	})
	if err != nil {
		return model.RemoteList{}, fmt.Errorf("fetch list %s: %w", listAddress(owner, slug), err)
	}

	var newest *nostr.Event
	for _, evt := range events {
		if evt.Kind == kindFollowSet && evt.PubKey == owner && tagValue(evt, "d") == slug && isNewerEvent(newest, evt) {
			newest = evt
		}
	}
	if newest == nil {
		return model.RemoteList{}, fmt.Errorf("%s: %w", listAddress(owner, slug), ErrListNotFound)
	}
	return listFromFollowSet(newest), nil
}

// FriendIDs returns the accounts id follows according to its newest contact list.
func (c *Client) FriendIDs(ctx context.Context, id string) ([]string, error) {
	events, err := c.query(ctx, nostr.Filter{
		Kinds:   []int{kindContacts},
		Authors: []string{id},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch contacts of %s: %w", id, err)
	}
	latest, ok := latestByAuthor(events, kindContacts)[id]
	if !ok {
		return nil, nil
	}
	return taggedIDs(latest), nil
}

// FollowerIDs returns up to limit accounts whose newest contact list includes id.
func (c *Client) FollowerIDs(ctx context.Context, id string, limit int) ([]string, error) {
	events, err := c.query(ctx, nostr.Filter{
		Kinds: []int{kindContacts},
		Tags:  nostr.TagMap{"p": []string{id}},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch followers of %s: %w", id, err)
	}

	latest := latestByAuthor(events, kindContacts)
	ids := make([]string, 0, len(latest))
	for author, evt := range latest {
		if author == id || !tagsAccount(evt, id) {
			continue
		}
		ids = append(ids, author)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ListMemberships returns the follow sets that currently include id.
func (c *Client) ListMemberships(ctx context.Context, id string) ([]model.RemoteList, error) {
	events, err := c.query(ctx, nostr.Filter{
		Kinds: []int{kindFollowSet},
		Tags:  nostr.TagMap{"p": []string{id}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch list memberships of %s: %w", id, err)
	}

	newest := make(map[string]*nostr.Event)
	for _, evt := range events {
		if evt.Kind != kindFollowSet {
			continue
		}
		addr := listAddress(evt.PubKey, tagValue(evt, "d"))
		if isNewerEvent(newest[addr], evt) {
			newest[addr] = evt
		}
	}

	lists := make([]model.RemoteList, 0, len(newest))
	for _, evt := range newest {
		if !tagsAccount(evt, id) {
			continue
		}
		l := listFromFollowSet(evt)
		l.MemberIDs = nil
		lists = append(lists, l)
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].ExternalID < lists[j].ExternalID })
	return lists, nil
}

func tagsAccount(evt *nostr.Event, id string) bool {
	for _, tagged := range taggedIDs(evt) {
		if tagged == id {
			return true
		}
	}
	return false
}
