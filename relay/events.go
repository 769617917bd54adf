package relay

import (
	"encoding/json"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/pablof7z/purplewatch/model"
)

const (
	kindProfile     = 0
	kindNote        = 1
	kindContacts    = 3
	kindRepost      = 6
	kindReaction    = 7
	kindFollowSet   = 30000
	maxFilterValues = 100
)

type profileContent struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	About       string          `json:"about"`
	Picture     string          `json:"picture"`
	Banner      string          `json:"banner"`
	Website     string          `json:"website"`
	NIP05       string          `json:"nip05"`
	Bot         json.RawMessage `json:"bot"`
}

// accountFromProfile maps a kind 0 event. Unparseable content still yields an
// account carrying the id and the raw content.
func accountFromProfile(evt *nostr.Event) model.Account {
	a := model.Account{
		ID:        evt.PubKey,
		CreatedAt: int64(evt.CreatedAt),
		Raw:       evt.Content,
	}

	var p profileContent
	if err := json.Unmarshal([]byte(evt.Content), &p); err != nil {
		return a
	}
	a.DisplayName = strings.TrimSpace(p.DisplayName)
	a.About = p.About
	a.Picture = p.Picture
	a.Banner = p.Banner
	a.Website = p.Website
	a.NIP05 = strings.TrimSpace(p.NIP05)
	a.Bot = strings.Trim(string(p.Bot), `"`) == "true"

	a.ScreenName = strings.TrimSpace(p.Name)
	if a.NIP05 != "" {
		a.ScreenName = strings.TrimPrefix(a.NIP05, "_@")
	}
	if a.DisplayName == "" {
		a.DisplayName = strings.TrimSpace(p.Name)
	}
	return a
}

// latestByAuthor keeps the newest event of the given kind per author.
func latestByAuthor(events []*nostr.Event, kind int) map[string]*nostr.Event {
	latest := make(map[string]*nostr.Event)
	for _, evt := range events {
		if evt.Kind != kind {
			continue
		}
		if existing, ok := latest[evt.PubKey]; !ok || isNewerEvent(existing, evt) {
			latest[evt.PubKey] = evt
		}
	}
	return latest
}

func isNewerEvent(previous, next *nostr.Event) bool {
	if previous == nil {
		return true
	}
	if next == nil {
		return false
	}
	if previous.CreatedAt < next.CreatedAt {
		return true
	}
	return previous.CreatedAt == next.CreatedAt && previous.ID > next.ID
}

// taggedIDs returns the distinct valid account ids referenced by p tags.
func taggedIDs(evt *nostr.Event) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		id := strings.ToLower(tag[1])
		if !model.IsAccountID(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func tagValue(evt *nostr.Event, name string) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// lastTagValue follows the reaction convention that the last e tag is the
// reacted-to event.
func lastTagValue(evt *nostr.Event, name string) string {
	var value string
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			value = tag[1]
		}
	}
	return value
}

func postFromEvent(evt *nostr.Event, accountID string) (model.Post, bool) {
	p := model.Post{
		ID:        evt.ID,
		AccountID: accountID,
		AuthorID:  evt.PubKey,
		Text:      evt.Content,
		CreatedAt: int64(evt.CreatedAt),
	}
	switch evt.Kind {
	case kindNote:
		p.Kind = model.PostNote
	case kindRepost:
		p.Kind = model.PostRepost
		p.RepostOf = tagValue(evt, "e")
		p.Text = ""
		if author := tagValue(evt, "p"); model.IsAccountID(author) {
			p.AuthorID = author
		}
		// reposts may embed the original note as JSON
		var inner nostr.Event
		if evt.Content != "" && json.Unmarshal([]byte(evt.Content), &inner) == nil {
			p.Text = inner.Content
			if inner.PubKey != "" {
				p.AuthorID = inner.PubKey
			}
			if p.RepostOf == "" {
				p.RepostOf = inner.ID
			}
		}
	default:
		return model.Post{}, false
	}
	return p, true
}

// likeFromReaction builds the liked post as seen from the liking account.
func likeFromReaction(reaction, note *nostr.Event) model.Post {
	return model.Post{
		ID:        note.ID,
		AccountID: reaction.PubKey,
		AuthorID:  note.PubKey,
		Kind:      model.PostLike,
		Text:      note.Content,
		CreatedAt: int64(reaction.CreatedAt),
	}
}

// listFromFollowSet maps a kind 30000 event to a remote list.
func listFromFollowSet(evt *nostr.Event) model.RemoteList {
	slug := tagValue(evt, "d")
	name := tagValue(evt, "title")
	if name == "" {
		name = tagValue(evt, "name")
	}
	if name == "" {
		name = slug
	}
	return model.RemoteList{
		ExternalID: listAddress(evt.PubKey, slug),
		Name:       name,
		OwnerID:    evt.PubKey,
		MemberIDs:  taggedIDs(evt),
		UpdatedAt:  int64(evt.CreatedAt),
	}
}

func listAddress(owner, slug string) string {
	return "30000:" + owner + ":" + slug
}

func chunkIDs(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
