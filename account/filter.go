package account

import (
	"context"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/pablof7z/purplewatch/model"
)

// MatchTimeout bounds a single watchword match. Patterns backtrack, so a
// pathological one gives up and counts as no match.
const MatchTimeout = 100 * time.Millisecond

// MemberSource supplies a set of account ids, typically a watchlist.
type MemberSource interface {
	MemberIDs(ctx context.Context) ([]string, error)
}

// WordSource supplies watchword patterns.
type WordSource interface {
	Watchwords(ctx context.Context) ([]string, error)
}

// Members is either a literal id set or a MemberSource read at query time.
// The zero value means no member restriction.
type Members struct {
	ids    []string
	source MemberSource
	set    bool
}

func IDs(ids ...string) Members {
	return Members{ids: ids, set: true}
}

func FromWatchlist(src MemberSource) Members {
	return Members{source: src, set: src != nil}
}

func (m Members) IsZero() bool {
	return !m.set
}

func (m Members) resolve(ctx context.Context) (map[string]struct{}, error) {
	ids := m.ids
	if m.source != nil {
		var err error
		if ids, err = m.source.MemberIDs(ctx); err != nil {
			return nil, fmt.Errorf("read members: %w", err)
		}
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Words is either literal patterns or a WordSource read at query time.
type Words struct {
	patterns []string
	source   WordSource
	set      bool
}

func Patterns(patterns ...string) Words {
	return Words{patterns: patterns, set: true}
}

func FromWatchwords(src WordSource) Words {
	return Words{source: src, set: src != nil}
}

func (w Words) IsZero() bool {
	return !w.set
}

func (w Words) compile(ctx context.Context) ([]*regexp2.Regexp, error) {
	patterns := w.patterns
	if w.source != nil {
		var err error
		if patterns, err = w.source.Watchwords(ctx); err != nil {
			return nil, fmt.Errorf("read watchwords: %w", err)
		}
	}
	res := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp2.Compile(p, regexp2.None)
		if err != nil {
			return nil, fmt.Errorf("watchword %q: %w", p, err)
		}
		re.MatchTimeout = MatchTimeout
		res = append(res, re)
	}
	return res, nil
}

// Filter narrows post and account listings. Members keeps items by one of
// the given accounts; Words keeps posts whose text matches any pattern.
type Filter struct {
	Members Members
	Words   Words
}

func (f Filter) IsZero() bool {
	return f.Members.IsZero() && f.Words.IsZero()
}

// postMatcher is a compiled Filter.
type postMatcher struct {
	members map[string]struct{}
	self    string
	words   []*regexp2.Regexp
}

func (f Filter) compile(ctx context.Context, self string) (*postMatcher, error) {
	m := &postMatcher{self: self}
	if !f.Members.IsZero() {
		members, err := f.Members.resolve(ctx)
		if err != nil {
			return nil, err
		}
		m.members = members
	}
	if !f.Words.IsZero() {
		words, err := f.Words.compile(ctx)
		if err != nil {
			return nil, err
		}
		m.words = words
	}
	return m, nil
}

func (m *postMatcher) match(p model.Post) bool {
	if m.members != nil {
		// the account's own posts never count as coming from a member
		if p.AuthorID == m.self {
			return false
		}
		if _, ok := m.members[p.AuthorID]; !ok {
			return false
		}
	}
	if m.words != nil {
		return matchesAny(m.words, p.Text)
	}
	return true
}

func matchesAny(words []*regexp2.Regexp, text string) bool {
	for _, re := range words {
		if ok, err := re.MatchString(text); err == nil && ok {
			return true
		}
	}
	return false
}
