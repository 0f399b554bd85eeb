package sync

import (
	"strings"

	"github.com/gryf/slackbak/internal/slack"
	"github.com/gryf/slackbak/internal/store"
)

// Kind routes a raw history entry to its persistence handling. It is
// decided up front, before any author lookup or store write, so the
// routing logic stands alone.
type Kind int

const (
	// KindSkip drops the entry: not a message, or empty system noise.
	KindSkip Kind = iota
	// KindPlain stores text only.
	KindPlain
	// KindFileShare stores the message with its embedded file
	// descriptor resolved through the asset resolver.
	KindFileShare
	// KindPinnedFile is a pinned item carrying a file descriptor in
	// its item blob; handled like a file share using that descriptor.
	KindPinnedFile
	// KindPinnedAttachment is a pinned item carrying attachment
	// records.
	KindPinnedAttachment
	// KindAttachments stores the message with ordered attachment rows.
	KindAttachments
)

func (k Kind) String() string {
	switch k {
	case KindSkip:
		return "skip"
	case KindPlain:
		return "plain"
	case KindFileShare:
		return "file-share"
	case KindPinnedFile:
		return "pinned-file"
	case KindPinnedAttachment:
		return "pinned-attachment"
	case KindAttachments:
		return "attachments"
	}
	return "unknown"
}

// Classify decides how a history entry is persisted. Rules are
// mutually exclusive, first match wins:
//
//  1. anything that is not a message is dropped;
//  2. file shares and pinned items are kept regardless of body text;
//  3. an empty body with no attachments is dropped, so join/leave
//     noise without content never clutters transcripts;
//  4. attachment carriers keep their attachments;
//  5. everything else is plain text.
//
// Starred markers and reactions are orthogonal to the kind and
// applied independently during ingestion.
func Classify(m slack.Message) Kind {
	if m.Type != "message" {
		return KindSkip
	}

	switch m.Subtype {
	case "file_share":
		if m.File != nil {
			return KindFileShare
		}
	case "pinned_item":
		if len(m.Attachments) > 0 {
			return KindPinnedAttachment
		}
		if m.Item != nil {
			return KindPinnedFile
		}
	}

	if strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0 {
		return KindSkip
	}
	if len(m.Attachments) > 0 {
		return KindAttachments
	}
	return KindPlain
}

// storeSubtype folds the raw wire subtype into the store's closed
// classification set.
func storeSubtype(raw string) string {
	switch raw {
	case "":
		return store.SubtypePlain
	case "channel_join", "group_join":
		return store.SubtypeJoin
	case "channel_leave", "group_leave":
		return store.SubtypeLeave
	case "channel_topic", "group_topic", "channel_purpose", "group_purpose":
		return store.SubtypeTopic
	case "me_message":
		return store.SubtypeMe
	case "file_share":
		return store.SubtypeFile
	case "pinned_item":
		return store.SubtypePinned
	}
	return store.SubtypeOther
}
