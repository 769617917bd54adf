package model

// SourceKind classifies where a sublist's membership comes from.
type SourceKind int

const (
	SourceSelf      SourceKind = 1
	SourceRelayList SourceKind = 2
	SourceWebList   SourceKind = 3
)

func (k SourceKind) String() string {
	switch k {
	case SourceSelf:
		return "self"
	case SourceRelayList:
		return "relay-list"
	case SourceWebList:
		return "web-list"
	default:
		return "unknown"
	}
}

// SelfSublistID is the distinguished self-curated sublist present in every watchlist.
const SelfSublistID int64 = 1

type Sublist struct {
	ID          int64      `db:"sublist_id" json:"id"`
	Kind        SourceKind `db:"sublist_type_id" json:"kind"`
	Name        string     `db:"name" json:"name"`
	ExternalID  string     `db:"external_id" json:"external_id,omitempty"`
	MemberCount int64      `db:"member_count" json:"member_count"`
}

// RemoteList is a list hosted by the remote social graph.
type RemoteList struct {
	ExternalID string   `db:"list_id" json:"id"`
	Name       string   `db:"name" json:"name"`
	OwnerID    string   `db:"owner_id" json:"owner_id"`
	MemberIDs  []string `db:"-" json:"member_ids,omitempty"`
	UpdatedAt  int64    `db:"updated_at" json:"updated_at"`
}
