package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablof7z/purplewatch/model"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func pk(n int) string {
	return fmt.Sprintf("%064x", n)
}

var eventSeq int

func event(author string, kind int, createdAt int64, content string, tags ...nostr.Tag) *nostr.Event {
	eventSeq++
	return &nostr.Event{
		ID:        fmt.Sprintf("%064x", 1_000_000+eventSeq),
		PubKey:    author,
		Kind:      kind,
		CreatedAt: nostr.Timestamp(createdAt),
		Content:   content,
		Tags:      nostr.Tags(tags),
	}
}

// fakeRelay answers filters from a fixed event set.
type fakeRelay struct {
	events  []*nostr.Event
	filters []nostr.Filter
	err     error
}

func (f *fakeRelay) query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	var out []*nostr.Event
	for _, evt := range f.events {
		if filter.Matches(evt) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func newTestClient(events ...*nostr.Event) (*Client, *fakeRelay) {
	fake := &fakeRelay{events: events}
	c := NewClient(nil)
	c.query = fake.query
	c.now = func() time.Time { return testNow }
	c.nip05 = func(ctx context.Context, name string) (*nostr.ProfilePointer, error) {
		return nil, errors.New("no such identifier")
	}
	return c, fake
}

func TestQueryRelays_NoRelays(t *testing.T) {
	c := NewClient(nil)
	_, err := c.queryRelays(context.Background(), nostr.Filter{})
	require.Error(t, err)
}

func TestAccountFromProfile(t *testing.T) {
	a := accountFromProfile(event(pk(1), kindProfile, 100,
		`{"name":"alice","display_name":"Alice","about":"hi","nip05":"_@alice.example","bot":"true"}`))
	assert.Equal(t, pk(1), a.ID)
	assert.Equal(t, "alice.example", a.ScreenName)
	assert.Equal(t, "Alice", a.DisplayName)
	assert.Equal(t, "hi", a.About)
	assert.True(t, a.Bot)
	assert.Equal(t, int64(100), a.CreatedAt)

	a = accountFromProfile(event(pk(2), kindProfile, 100, `{"name":"bob","bot":false}`))
	assert.Equal(t, "bob", a.ScreenName)
	assert.Equal(t, "bob", a.DisplayName)
	assert.False(t, a.Bot)

	a = accountFromProfile(event(pk(3), kindProfile, 100, `not json`))
	assert.Equal(t, pk(3), a.ID)
	assert.Equal(t, "not json", a.Raw)
	assert.Empty(t, a.ScreenName)
}

func TestLookupAccounts(t *testing.T) {
	c, fake := newTestClient(
		event(pk(1), kindProfile, 100, `{"name":"old"}`),
		event(pk(1), kindProfile, 200, `{"name":"new"}`),
		event(pk(1), kindContacts, 150, "", nostr.Tag{"p", pk(2)}, nostr.Tag{"p", pk(3)}, nostr.Tag{"p", pk(2)}, nostr.Tag{"p", "bogus"}),
		event(pk(2), kindContacts, 150, "", nostr.Tag{"p", pk(1)}),
	)

	accounts, err := c.LookupAccounts(context.Background(), []string{pk(1), pk(2), pk(4), "bad"})
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "new", accounts[0].ScreenName)
	assert.Equal(t, int64(2), accounts[0].FriendsCount)
	assert.Equal(t, testNow.Unix(), accounts[0].UpdatedAt)

	assert.Equal(t, pk(2), accounts[1].ID)
	assert.Empty(t, accounts[1].ScreenName)
	assert.Equal(t, int64(1), accounts[1].FriendsCount)

	require.Len(t, fake.filters, 1)
	assert.Equal(t, []string{pk(1), pk(2), pk(4)}, fake.filters[0].Authors)
}

func TestLookupAccounts_BatchesAndWrapsErrors(t *testing.T) {
	c, fake := newTestClient()
	ids := make([]string, 0, 250)
	for i := range 250 {
		ids = append(ids, pk(i+1))
	}
	_, err := c.LookupAccounts(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, fake.filters, 3)

	boom := errors.New("all relays failed")
	fake.err = boom
	_, err = c.LookupAccounts(context.Background(), ids[:1])
	require.ErrorIs(t, err, boom)
}

func TestLookupAccountsByName(t *testing.T) {
	c, _ := newTestClient(event(pk(1), kindProfile, 100, `{"name":"alice","nip05":"alice@other.example"}`))
	c.nip05 = func(ctx context.Context, name string) (*nostr.ProfilePointer, error) {
		switch name {
		case "alice@example.com":
			return &nostr.ProfilePointer{PublicKey: pk(1)}, nil
		case "carol@example.com":
			return &nostr.ProfilePointer{PublicKey: strings.ToUpper(pk(3))}, nil
		}
		return nil, errors.New("not found")
	}

	accounts, err := c.LookupAccountsByName(context.Background(), []string{"Alice@Example.com", "nobody@example.com", "carol@example.com", " "})
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, pk(1), accounts[0].ID)
	assert.Equal(t, "alice@example.com", accounts[0].ScreenName)
	assert.Equal(t, "alice@other.example", accounts[0].NIP05)

	assert.Equal(t, pk(3), accounts[1].ID)
	assert.Equal(t, "carol@example.com", accounts[1].ScreenName)
	assert.Equal(t, testNow.Unix(), accounts[1].UpdatedAt)
}

func TestLookupAccountsByName_AliasesShareOneLookup(t *testing.T) {
	c, fake := newTestClient(event(pk(1), kindProfile, 100, `{"name":"alice"}`))
	c.nip05 = func(ctx context.Context, name string) (*nostr.ProfilePointer, error) {
		return &nostr.ProfilePointer{PublicKey: pk(1)}, nil
	}

	accounts, err := c.LookupAccountsByName(context.Background(), []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Len(t, fake.filters, 1)
	for i, name := range []string{"a@x.com", "b@x.com"} {
		assert.Equal(t, pk(1), accounts[i].ID)
		assert.Equal(t, name, accounts[i].ScreenName)
	}
}

func TestParseListRef(t *testing.T) {
	naddr, err := nip19.EncodeEntity(pk(7), kindFollowSet, "friends", nil)
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pk(7))
	require.NoError(t, err)

	for _, ref := range []string{naddr, "30000:" + pk(7) + ":friends", pk(7) + "/friends", npub + "/friends"} {
		owner, slug, err := ParseListRef(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, pk(7), owner)
		assert.Equal(t, "friends", slug)
	}

	wrongKind, err := nip19.EncodeEntity(pk(7), 30001, "friends", nil)
	require.NoError(t, err)
	for _, ref := range []string{wrongKind, "friends", "30000:" + pk(7), "abc/friends", pk(7) + "/"} {
		_, _, err := ParseListRef(ref)
		assert.Error(t, err, ref)
	}
}

func TestListMembers(t *testing.T) {
	c, _ := newTestClient(
		event(pk(7), kindFollowSet, 100, "", nostr.Tag{"d", "friends"}, nostr.Tag{"p", pk(1)}),
		event(pk(7), kindFollowSet, 200, "", nostr.Tag{"d", "friends"}, nostr.Tag{"title", "Good friends"}, nostr.Tag{"p", pk(2)}, nostr.Tag{"p", pk(3)}),
		event(pk(7), kindFollowSet, 300, "", nostr.Tag{"d", "other"}, nostr.Tag{"p", pk(4)}),
	)

	list, err := c.ListMembers(context.Background(), pk(7)+"/friends")
	require.NoError(t, err)
	assert.Equal(t, "30000:"+pk(7)+":friends", list.ExternalID)
	assert.Equal(t, "Good friends", list.Name)
	assert.Equal(t, pk(7), list.OwnerID)
	assert.Equal(t, []string{pk(2), pk(3)}, list.MemberIDs)

	_, err = c.ListMembers(context.Background(), pk(8)+"/friends")
	require.ErrorIs(t, err, ErrListNotFound)
}

func TestFriendAndFollowerIDs(t *testing.T) {
	c, _ := newTestClient(
		event(pk(1), kindContacts, 100, "", nostr.Tag{"p", pk(9)}),
		event(pk(2), kindContacts, 100, "", nostr.Tag{"p", pk(9)}),
		event(pk(2), kindContacts, 200, "", nostr.Tag{"p", pk(5)}),
		event(pk(3), kindContacts, 100, "", nostr.Tag{"p", pk(9)}, nostr.Tag{"p", pk(1)}),
		event(pk(9), kindContacts, 100, "", nostr.Tag{"p", pk(1)}, nostr.Tag{"p", pk(3)}),
	)
	ctx := context.Background()

	friends, err := c.FriendIDs(ctx, pk(9))
	require.NoError(t, err)
	assert.Equal(t, []string{pk(1), pk(3)}, friends)

	// pk(2) unfollowed in its newer contact list, but the filter only
	// returned the older one
	c.query = func(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
		return []*nostr.Event{
			event(pk(1), kindContacts, 100, "", nostr.Tag{"p", pk(9)}),
			event(pk(3), kindContacts, 100, "", nostr.Tag{"p", pk(9)}),
			event(pk(2), kindContacts, 100, "", nostr.Tag{"p", pk(9)}),
			event(pk(2), kindContacts, 200, "", nostr.Tag{"p", pk(5)}),
		}, nil
	}
	followers, err := c.FollowerIDs(ctx, pk(9), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{pk(1), pk(3)}, followers)

	followers, err = c.FollowerIDs(ctx, pk(9), 1)
	require.NoError(t, err)
	assert.Len(t, followers, 1)

	none, err := c.FriendIDs(ctx, pk(4))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListMemberships(t *testing.T) {
	c, _ := newTestClient(
		event(pk(7), kindFollowSet, 100, "", nostr.Tag{"d", "a"}, nostr.Tag{"title", "A"}, nostr.Tag{"p", pk(1)}),
		event(pk(8), kindFollowSet, 100, "", nostr.Tag{"d", "b"}, nostr.Tag{"p", pk(1)}, nostr.Tag{"p", pk(2)}),
		event(pk(8), kindFollowSet, 200, "", nostr.Tag{"d", "c"}, nostr.Tag{"p", pk(2)}),
	)

	lists, err := c.ListMemberships(context.Background(), pk(1))
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, "30000:"+pk(7)+":a", lists[0].ExternalID)
	assert.Equal(t, "A", lists[0].Name)
	assert.Equal(t, "b", lists[1].Name)
	assert.Nil(t, lists[1].MemberIDs)
}

func TestPosts(t *testing.T) {
	original := event(pk(2), kindNote, 50, "original text")
	embedded := fmt.Sprintf(`{"id":%q,"pubkey":%q,"kind":1,"content":"original text","created_at":50,"tags":[],"sig":""}`, original.ID, pk(2))
	c, _ := newTestClient(
		event(pk(1), kindNote, 100, "hello"),
		event(pk(1), kindRepost, 200, embedded, nostr.Tag{"e", original.ID}, nostr.Tag{"p", pk(2)}),
		event(pk(1), kindRepost, 300, "", nostr.Tag{"e", "abc"}),
		event(pk(3), kindNote, 400, "someone else"),
	)

	posts, err := c.Posts(context.Background(), pk(1), 10)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	assert.Equal(t, model.PostRepost, posts[0].Kind)
	assert.Equal(t, "abc", posts[0].RepostOf)
	assert.Equal(t, pk(1), posts[0].AuthorID)

	assert.Equal(t, model.PostRepost, posts[1].Kind)
	assert.Equal(t, original.ID, posts[1].RepostOf)
	assert.Equal(t, pk(2), posts[1].AuthorID)
	assert.Equal(t, "original text", posts[1].Text)
	assert.Equal(t, pk(1), posts[1].AccountID)

	assert.Equal(t, model.PostNote, posts[2].Kind)
	assert.Equal(t, "hello", posts[2].Text)
}

func TestLikes(t *testing.T) {
	liked := event(pk(2), kindNote, 50, "liked note")
	disliked := event(pk(3), kindNote, 60, "disliked note")
	c, _ := newTestClient(
		liked,
		disliked,
		event(pk(1), kindReaction, 100, "+", nostr.Tag{"e", "root"}, nostr.Tag{"e", liked.ID}),
		event(pk(1), kindReaction, 110, "-", nostr.Tag{"e", disliked.ID}),
		event(pk(1), kindReaction, 120, "🤙", nostr.Tag{"e", "missing"}),
	)

	likes, err := c.Likes(context.Background(), pk(1), 10)
	require.NoError(t, err)
	require.Len(t, likes, 1)
	assert.Equal(t, liked.ID, likes[0].ID)
	assert.Equal(t, pk(1), likes[0].AccountID)
	assert.Equal(t, pk(2), likes[0].AuthorID)
	assert.Equal(t, model.PostLike, likes[0].Kind)
	assert.Equal(t, "liked note", likes[0].Text)
	assert.Equal(t, int64(100), likes[0].CreatedAt)
}
