package model

import "strings"

// Account is a remote social-graph identity as stored in every account table
// (cache, directory, watchlist, per-account profile).
type Account struct {
	ID             string `db:"account_id" json:"id"`
	ScreenName     string `db:"screen_name" json:"screen_name"`
	DisplayName    string `db:"display_name" json:"display_name"`
	About          string `db:"about" json:"about"`
	Website        string `db:"website" json:"website"`
	Picture        string `db:"picture" json:"picture"`
	Banner         string `db:"banner" json:"banner"`
	NIP05          string `db:"nip05" json:"nip05"`
	Bot            bool   `db:"bot" json:"bot"`
	FriendsCount   int64  `db:"friends_count" json:"friends_count"`
	FollowersCount int64  `db:"followers_count" json:"followers_count"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
	Raw            string `db:"raw" json:"-"`
	UpdatedAt      int64  `db:"updated_at" json:"updated_at"`
}

// NameKey is the case-insensitive lookup key for the account's screen name.
func (a Account) NameKey() string {
	return NameKey(a.ScreenName)
}

// Label returns the best human-readable name available.
func (a Account) Label() string {
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.ScreenName != "":
		return a.ScreenName
	default:
		return a.ID
	}
}

// Hydrated reports whether the row carries remote attributes, as opposed to a
// bare placeholder written for an id that could not be resolved.
func (a Account) Hydrated() bool {
	return a.UpdatedAt > 0 && a.ScreenName != ""
}

func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsAccountID reports whether s is a 64 character lower-case hex public key.
func IsAccountID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IDs returns the ids of the given accounts in order.
func IDs(accounts []Account) []string {
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	return ids
}
