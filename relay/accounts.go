package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip05"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
)

// LookupAccounts fetches the profile and contact list of each id. Ids with no
// events on any relay are omitted.
func (c *Client) LookupAccounts(ctx context.Context, ids []string) ([]model.Account, error) {
	var valid []string
	for _, id := range ids {
		if model.IsAccountID(id) {
			valid = append(valid, id)
		}
	}

	var accounts []model.Account
	for _, batch := range chunkIDs(valid, maxFilterValues) {
		events, err := c.query(ctx, nostr.Filter{
			Kinds:   []int{kindProfile, kindContacts},
			Authors: batch,
		})
		if err != nil {
			return accounts, fmt.Errorf("lookup accounts: %w", err)
		}
		accounts = append(accounts, c.accountsFromEvents(batch, events)...)
	}
	return accounts, nil
}

func (c *Client) accountsFromEvents(ids []string, events []*nostr.Event) []model.Account {
	profiles := latestByAuthor(events, kindProfile)
	contacts := latestByAuthor(events, kindContacts)
	now := c.now().Unix()

	var accounts []model.Account
	for _, id := range ids {
		profile, hasProfile := profiles[id]
		contactList, hasContacts := contacts[id]
		if !hasProfile && !hasContacts {
			continue
		}
		a := model.Account{ID: id}
		if hasProfile {
			a = accountFromProfile(profile)
		}
		if hasContacts {
			a.FriendsCount = int64(len(taggedIDs(contactList)))
		}
		a.UpdatedAt = now
		accounts = append(accounts, a)
	}
	return accounts
}

// LookupAccountsByName resolves NIP-05 identifiers and looks the keys up.
// One account is returned per resolved name, with the queried name as its
// screen name, so every alias of a key is cached.
func (c *Client) LookupAccountsByName(ctx context.Context, names []string) ([]model.Account, error) {
	type resolved struct{ name, id string }
	var (
		hits []resolved
		ids  []string
		seen = make(map[string]struct{}, len(names))
	)
	for _, name := range names {
		name = model.NameKey(name)
		if name == "" {
			continue
		}
		pointer, err := c.nip05(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Debug("nip05 lookup failed", zap.String("name", name), zap.Error(err))
			continue
		}
		id := strings.ToLower(pointer.PublicKey)
		if !model.IsAccountID(id) {
			continue
		}
		hits = append(hits, resolved{name: name, id: id})
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := c.LookupAccounts(ctx, ids)
	byID := make(map[string]model.Account, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}

	now := c.now().Unix()
	accounts := make([]model.Account, 0, len(hits))
	for _, h := range hits {
		a, ok := byID[h.id]
		if !ok {
			if err != nil {
				continue
			}
			// a verified identifier is enough to know the account exists
			a = model.Account{ID: h.id, UpdatedAt: now}
		}
		a.ScreenName = h.name
		if a.NIP05 == "" {
			a.NIP05 = h.name
		}
		accounts = append(accounts, a)
	}
	return accounts, err
}

func queryNIP05(ctx context.Context, name string) (*nostr.ProfilePointer, error) {
	return nip05.QueryIdentifier(ctx, name)
}
