// Package slack is a thin client for the parts of the Slack Web API
// the backup needs: channel and user listings, channel history paging
// and bot descriptors.
package slack

// envelope is the common response wrapper. Every API response carries
// an explicit ok flag; ok=false means the Error string is
// authoritative and any payload must be ignored.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// TopicInfo is the topic/purpose blob inside a channel descriptor.
type TopicInfo struct {
	Value   string `json:"value"`
	Creator string `json:"creator"`
	LastSet int64  `json:"last_set"`
}

// Channel is a channels.list entry.
type Channel struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Created    int64     `json:"created"`
	Creator    string    `json:"creator"`
	IsArchived bool      `json:"is_archived"`
	IsGeneral  bool      `json:"is_general"`
	Members    []string  `json:"members"`
	Topic      TopicInfo `json:"topic"`
	Purpose    TopicInfo `json:"purpose"`
}

// Profile is the nested profile blob of a users.list entry.
type Profile struct {
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	ImageOriginal string `json:"image_original"`
	Image192      string `json:"image_192"`
}

// User is a users.list entry.
type User struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	RealName string  `json:"real_name"`
	Deleted  bool    `json:"deleted"`
	IsBot    bool    `json:"is_bot"`
	Profile  Profile `json:"profile"`
}

// AvatarURL returns the best avatar URL the profile carries, or "".
func (u User) AvatarURL() string {
	if u.Profile.ImageOriginal != "" {
		return u.Profile.ImageOriginal
	}
	return u.Profile.Image192
}

// File is a file descriptor embedded in a file_share message or a
// pinned item. URLPrivate serves externally hosted content;
// URLPrivateDownload serves content uploaded to Slack's own storage
// and needs an authenticated session to fetch.
type File struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Name               string `json:"name"`
	IsExternal         bool   `json:"is_external"`
	IsStarred          bool   `json:"is_starred"`
	URLPrivate         string `json:"url_private"`
	URLPrivateDownload string `json:"url_private_download"`
}

// Attachment is an attachment record on a message.
type Attachment struct {
	Title    string `json:"title"`
	Fallback string `json:"fallback"`
	Text     string `json:"text"`
}

// Reaction is a reaction record on a message.
type Reaction struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Comment is the comment blob some file events carry; its author is a
// fallback for messages without a direct user reference.
type Comment struct {
	User string `json:"user"`
}

// Message is a channels.history entry. TS is the verbatim
// high-precision timestamp token; it doubles as the pagination cursor
// and must never be parsed into a coarser numeric type.
type Message struct {
	Type        string       `json:"type"`
	Subtype     string       `json:"subtype"`
	TS          string       `json:"ts"`
	Text        string       `json:"text"`
	User        string       `json:"user"`
	BotID       string       `json:"bot_id"`
	IsStarred   bool         `json:"is_starred"`
	Comment     *Comment     `json:"comment"`
	File        *File        `json:"file"`
	Item        *File        `json:"item"`
	Attachments []Attachment `json:"attachments"`
	Reactions   []Reaction   `json:"reactions"`
}

// HistoryPage is one page of channel history. Messages keep the
// adapter's wire order (newest first). When HasMore is set, Boundary
// is the timestamp token of the page's first entry and is the cursor
// for the next fetch; otherwise Boundary is empty and the channel is
// drained.
type HistoryPage struct {
	Messages []Message
	HasMore  bool
	Boundary string
}

// Bot is a bots.info descriptor, used to synthesize a user row for
// bot authors absent from the member list.
type Bot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
