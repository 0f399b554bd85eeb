package store

// Message subtype classification. Raw Slack subtypes are folded into
// this closed set before persistence so the renderers never have to
// interpret wire strings.
const (
	SubtypePlain  = "plain"
	SubtypeJoin   = "join"
	SubtypeLeave  = "leave"
	SubtypeTopic  = "topic"
	SubtypeMe     = "me"
	SubtypeFile   = "file"
	SubtypePinned = "pinned"
	SubtypeOther  = "other"
)

// BeginningOfTime is the pagination cursor used for a channel with no
// stored messages. It compares older than any real Slack timestamp
// token and, passed as the `oldest` parameter, forces the API to
// return history from the earliest available point instead of its
// default most-recent page.
const BeginningOfTime = "1"

// User mirrors a users table row.
type User struct {
	ID            string
	SlackID       string
	Name          string
	RealName      string
	Deleted       bool
	IsBot         bool
	Email         string
	ImageOriginal string
	ImagePath     string
}

// DisplayName returns the best human-readable name for transcripts.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.RealName
}

// UserParams carries the mutable fields applied by UpsertUser.
type UserParams struct {
	SlackID       string
	Name          string
	RealName      string
	Deleted       bool
	IsBot         bool
	Email         string
	ImageOriginal string
}

// Channel mirrors a channels table row.
type Channel struct {
	ID         string
	SlackID    string
	Name       string
	Created    int64
	IsArchived bool

	// CreatorID is a weak reference: empty when the creator was never
	// seen in the member list.
	CreatorID string
}

// ChannelParams carries the mutable fields applied by UpsertChannel.
type ChannelParams struct {
	SlackID    string
	Name       string
	Created    int64
	IsArchived bool
	CreatorID  string
}

// Prop is a topic or purpose row. ChannelID is empty for superseded
// history rows.
type Prop struct {
	ID        string
	Kind      string
	ChannelID string
	CreatorID string
	Value     string
	LastSet   int64
}

// PropParams identifies a topic/purpose value. Two params are the
// same prop iff value, creator and last-set all match.
type PropParams struct {
	Value     string
	CreatorID string
	LastSet   int64
}

// Message is a message row together with its owned collections. A
// message not yet inserted owns its reactions, file and attachments
// in memory only; InsertMessage persists them all in one transaction.
type Message struct {
	ID        string
	ChannelID string
	UserID    string
	TS        string
	Subtype   string
	Text      string
	IsStarred bool

	Reactions   []Reaction
	File        *File
	Attachments []Attachment

	// UserName is populated by MessagesForChannel for rendering; it is
	// not a column of the messages table.
	UserName string
}

// Reaction is owned by exactly one message.
type Reaction struct {
	ID    string
	Name  string
	Count int
}

// File is owned by exactly one message. Exactly one of URL (external,
// content not fetched) and Filepath (fetched to local storage) is
// normally set; both may degrade to URL-only when credentials for the
// download session are missing.
type File struct {
	ID       string
	Title    string
	Name     string
	URL      string
	Filepath string
}

// Attachment is owned by exactly one message.
type Attachment struct {
	ID       string
	Title    string
	Fallback string
	Text     string
}
