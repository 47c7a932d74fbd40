package record

import "encoding/json"

// Group is a locally cached group chat. LastMessage* fields are denormalized
// so list rendering never needs a join against messages.
type Group struct {
	ID                 string
	ServerID           string
	Name               string
	MemberCount        int
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
	LastMessageSender  string
	IsSynced           bool
	CreatedAt          int64
	UpdatedAt          int64
}

// SortKey returns the timestamp groups are ordered by: the last message
// time when present, otherwise the creation time.
func (g Group) SortKey() int64 {
	if g.LastMessageAt > 0 {
		return g.LastMessageAt
	}
	return g.CreatedAt
}

// Message is a locally cached group message. IsPending marks an optimistic
// message shown to the user before server confirmation; IsSynced tracks
// whether the server has acknowledged it.
type Message struct {
	ID        string
	ServerID  string
	GroupID   string
	SenderID  string
	ReplyToID string
	Body      string
	FileRef   string
	IsPending bool
	IsSynced  bool
	CreatedAt int64
	UpdatedAt int64
}

// Prompt is a read-through cache of a server-defined conversation prompt.
type Prompt struct {
	ID        string
	ServerID  string
	Title     string
	Body      string
	IsSynced  bool
	CreatedAt int64
	UpdatedAt int64
}

// Category is a read-through cache of a server-defined interest category.
type Category struct {
	ID        string
	ServerID  string
	Name      string
	IsSynced  bool
	CreatedAt int64
	UpdatedAt int64
}

// User is a read-through cache of a server user profile.
type User struct {
	ID          string
	ServerID    string
	Username    string
	DisplayName string
	AvatarURL   string
	IsSynced    bool
	CreatedAt   int64
	UpdatedAt   int64
}

// ActionKind tags the type of a queued offline mutation.
type ActionKind string

const (
	ActionMessageSend  ActionKind = "message_send"
	ActionFriendToggle ActionKind = "friend_toggle"
	ActionFollowToggle ActionKind = "follow_toggle"
	ActionReadReceipt  ActionKind = "read_receipt"
)

// Action is a pending mutation awaiting transmission to the server.
// ClientKey is a stable client-generated key the server deduplicates on,
// so a drain interrupted after transmit cannot double-apply the mutation.
type Action struct {
	ID         string
	ClientKey  string
	Kind       ActionKind
	Payload    json.RawMessage
	RetryCount int
	MaxRetries int
	IsSynced   bool
	LastError  string
	CreatedAt  int64
	UpdatedAt  int64
}

// Pending reports whether the action is still eligible for automatic sync.
func (a Action) Pending() bool {
	return !a.IsSynced && a.RetryCount < a.MaxRetries
}

// Failed reports whether the action exhausted its retries (terminal).
func (a Action) Failed() bool {
	return !a.IsSynced && a.RetryCount >= a.MaxRetries
}

// Stats holds aggregate record counts across all collections.
type Stats struct {
	Groups     int
	Messages   int
	Prompts    int
	Categories int
	Users      int
	Actions    int
	Total      int
}

// GroupPatch is a partial group update; nil fields are left untouched.
type GroupPatch struct {
	ServerID           *string
	Name               *string
	MemberCount        *int
	UnreadCount        *int
	LastMessageAt      *int64
	LastMessagePreview *string
	LastMessageSender  *string
	IsSynced           *bool
}

// Apply merges the patch into g.
func (p GroupPatch) Apply(g *Group) {
	if p.ServerID != nil {
		g.ServerID = *p.ServerID
	}
	if p.Name != nil {
		g.Name = *p.Name
	}
	if p.MemberCount != nil {
		g.MemberCount = *p.MemberCount
	}
	if p.UnreadCount != nil {
		g.UnreadCount = *p.UnreadCount
	}
	if p.LastMessageAt != nil {
		g.LastMessageAt = *p.LastMessageAt
	}
	if p.LastMessagePreview != nil {
		g.LastMessagePreview = *p.LastMessagePreview
	}
	if p.LastMessageSender != nil {
		g.LastMessageSender = *p.LastMessageSender
	}
	if p.IsSynced != nil {
		g.IsSynced = *p.IsSynced
	}
}
