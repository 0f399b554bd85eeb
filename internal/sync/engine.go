// Package sync reconciles remote Slack state into the local entity
// store: user and channel listings converge via upserts, channel
// history is paged in oldest-first from each channel's stored cursor.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gryf/slackbak/internal/slack"
	"github.com/gryf/slackbak/internal/store"
)

// ErrUnresolvableAuthor means a message could not be attributed to
// any user. Every stored message must have an author, so the message
// is not persisted.
var ErrUnresolvableAuthor = errors.New("cannot identify message author")

// Source is the remote adapter the engine pulls from.
type Source interface {
	ListChannels(ctx context.Context) ([]slack.Channel, error)
	ListUsers(ctx context.Context) ([]slack.User, error)
	History(ctx context.Context, channelID, oldest string) (slack.HistoryPage, error)
	BotInfo(ctx context.Context, botID string) (slack.Bot, error)
}

// Assets resolves file descriptors and avatars to store rows and
// local paths.
type Assets interface {
	Resolve(ctx context.Context, fd *slack.File, isExternal bool) (*store.File, error)
	ResolveAvatar(ctx context.Context, url string) (string, error)
}

// Authorizer opens the download session before a run. Optional; a nil
// authorizer means assets degrade to URL-only references.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// ChannelState is the terminal state of one channel's history sync.
type ChannelState int

const (
	// StateDrained means the last page reported no further history.
	StateDrained ChannelState = iota
	// StateError means the channel sync aborted; messages ingested
	// before the failure are kept.
	StateError
)

func (s ChannelState) String() string {
	if s == StateDrained {
		return "drained"
	}
	return "error"
}

// ChannelResult reports one channel's history sync.
type ChannelResult struct {
	Channel  string
	State    ChannelState
	Messages int
	Files    int
	Skipped  int
	Failed   int
	Err      error
}

// Result reports a full run, in the spirit of one row of counters per
// reconciled entity kind.
type Result struct {
	UsersCreated    int
	UsersUpdated    int
	ChannelsCreated int
	ChannelsUpdated int
	Channels        []ChannelResult
	Duration        time.Duration
}

// Options tunes a run.
type Options struct {
	// Channels restricts history sync to the named channels. Empty
	// means all.
	Channels []string
}

// Engine drives a backup run. Channels are processed one at a time
// and pages strictly sequentially: each page's cursor depends on the
// previous page's boundary.
type Engine struct {
	store  *store.Store
	source Source
	assets Assets
	auth   Authorizer
	log    *slog.Logger
	opts   Options
}

func New(st *store.Store, source Source, assets Assets, auth Authorizer, log *slog.Logger, opts Options) *Engine {
	return &Engine{store: st, source: source, assets: assets, auth: auth, log: log, opts: opts}
}

// Run performs a full sync: users, channels, then per-channel
// history. Remote failures are contained per phase and per channel;
// only store-level failures abort the run. Re-running against
// unchanged remote state inserts nothing: users and channels upsert
// by external id, and history is only fetched past each channel's
// stored cursor.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	if e.auth != nil {
		if err := e.auth.Authorize(ctx); err != nil {
			// Degraded, not fatal: text and metadata still back up.
			e.log.Warn("download session authorization failed", "error", err)
		}
	}

	if err := e.syncUsers(ctx, &res); err != nil {
		return res, err
	}
	if err := e.syncChannels(ctx, &res); err != nil {
		return res, err
	}
	if err := e.syncHistory(ctx, &res); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	return res, nil
}

// syncUsers converges the users table toward the remote member list.
func (e *Engine) syncUsers(ctx context.Context, res *Result) error {
	e.log.Info("fetching and updating user information")
	users, err := e.source.ListUsers(ctx)
	if err != nil {
		// Listing failure aborts this phase only.
		e.log.Error("users listing failed", "error", err)
		return nil
	}

	for _, u := range users {
		stored, created, err := e.store.UpsertUser(store.UserParams{
			SlackID:       u.ID,
			Name:          u.Name,
			RealName:      u.RealName,
			Deleted:       u.Deleted,
			IsBot:         u.IsBot,
			Email:         u.Profile.Email,
			ImageOriginal: u.AvatarURL(),
		})
		if err != nil {
			return err
		}
		if created {
			res.UsersCreated++
		} else {
			res.UsersUpdated++
		}

		if url := u.AvatarURL(); url != "" && e.assets != nil {
			path, err := e.assets.ResolveAvatar(ctx, url)
			if err != nil {
				e.log.Warn("avatar download failed", "user", u.Name, "url", url, "error", err)
				continue
			}
			if err := e.store.SetUserImagePath(stored.ID, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncChannels converges the channels table, including the creator
// weak reference, membership and current topic/purpose.
func (e *Engine) syncChannels(ctx context.Context, res *Result) error {
	e.log.Info("fetching and updating channel information")
	channels, err := e.source.ListChannels(ctx)
	if err != nil {
		e.log.Error("channels listing failed", "error", err)
		return nil
	}

	for _, ch := range channels {
		stored, created, err := e.store.UpsertChannel(store.ChannelParams{
			SlackID:    ch.ID,
			Name:       ch.Name,
			Created:    ch.Created,
			IsArchived: ch.IsArchived,
			CreatorID:  e.localUserID(ch.Creator),
		})
		if err != nil {
			return err
		}
		if created {
			res.ChannelsCreated++
		} else {
			res.ChannelsUpdated++
		}

		var members []string
		for _, slackID := range ch.Members {
			if id := e.localUserID(slackID); id != "" {
				members = append(members, id)
			}
		}
		if err := e.store.ReplaceChannelMembers(stored.ID, members); err != nil {
			return err
		}

		if _, err := e.store.FindOrCreateProp("topic", stored.ID, store.PropParams{
			Value:     ch.Topic.Value,
			CreatorID: e.localUserID(ch.Topic.Creator),
			LastSet:   ch.Topic.LastSet,
		}); err != nil {
			return err
		}
		if _, err := e.store.FindOrCreateProp("purpose", stored.ID, store.PropParams{
			Value:     ch.Purpose.Value,
			CreatorID: e.localUserID(ch.Purpose.Creator),
			LastSet:   ch.Purpose.LastSet,
		}); err != nil {
			return err
		}
	}
	return nil
}

// localUserID maps an external user id to a local one; unknown or
// empty ids map to "" (weak reference).
func (e *Engine) localUserID(slackID string) string {
	if slackID == "" {
		return ""
	}
	u, err := e.store.FindUserBySlackID(slackID)
	if err != nil || u == nil {
		return ""
	}
	return u.ID
}

// syncHistory pages in history for every selected channel. A failure
// in one channel never touches the others.
func (e *Engine) syncHistory(ctx context.Context, res *Result) error {
	channels, err := e.store.ListChannels()
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if !e.channelSelected(ch.Name) {
			continue
		}
		e.log.Info("getting messages for channel", "channel", ch.Name)
		res.Channels = append(res.Channels, e.syncChannel(ctx, ch))
	}
	return nil
}

func (e *Engine) channelSelected(name string) bool {
	if len(e.opts.Channels) == 0 {
		return true
	}
	for _, want := range e.opts.Channels {
		if want == name {
			return true
		}
	}
	return false
}

// syncChannel runs the per-channel page loop to a terminal state.
// The cursor starts at the newest stored timestamp so only unseen
// history is fetched; an empty channel starts at the
// beginning-of-time sentinel, which makes the API return history from
// the earliest available point instead of its most-recent default.
func (e *Engine) syncChannel(ctx context.Context, ch store.Channel) ChannelResult {
	res := ChannelResult{Channel: ch.Name, State: StateDrained}

	cursor, err := e.store.LatestMessageTimestamp(ch.ID)
	if err != nil {
		res.State = StateError
		res.Err = err
		return res
	}

	for {
		e.log.Debug("fetching another portion of messages", "channel", ch.Name, "cursor", cursor)
		page, err := e.source.History(ctx, ch.SlackID, cursor)
		if err != nil {
			// Abort remaining pages for this channel only; everything
			// ingested so far stays committed.
			e.log.Error("history fetch failed", "channel", ch.Name, "error", err)
			res.State = StateError
			res.Err = err
			return res
		}

		for _, m := range page.Messages {
			stored, err := e.ingest(ctx, ch, m)
			if err != nil {
				e.log.Error("failed to ingest message",
					"channel", ch.Name, "ts", m.TS, "error", err)
				res.Failed++
				continue
			}
			if stored == nil {
				res.Skipped++
				continue
			}
			res.Messages++
			if stored.File != nil && stored.File.Filepath != "" {
				res.Files++
			}
		}

		if page.Boundary == "" {
			res.State = StateDrained
			return res
		}
		cursor = page.Boundary
	}
}

// ingest classifies and persists one history entry. It returns the
// stored row, or nil when the entry was skipped.
func (e *Engine) ingest(ctx context.Context, ch store.Channel, m slack.Message) (*store.Message, error) {
	kind := Classify(m)
	if kind == KindSkip {
		e.log.Debug("skipping message", "channel", ch.Name, "ts", m.TS, "type", m.Type)
		return nil, nil
	}

	author, err := e.resolveAuthor(ctx, m)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ChannelID: ch.ID,
		UserID:    author.ID,
		TS:        m.TS,
		Subtype:   storeSubtype(m.Subtype),
		Text:      m.Text,
		IsStarred: m.IsStarred,
	}

	for _, r := range m.Reactions {
		msg.Reactions = append(msg.Reactions, store.Reaction{Name: r.Name, Count: r.Count})
	}

	switch kind {
	case KindFileShare:
		if err := e.attachFile(ctx, msg, m.File); err != nil {
			return nil, err
		}
	case KindPinnedFile:
		if err := e.attachFile(ctx, msg, m.Item); err != nil {
			return nil, err
		}
	case KindPinnedAttachment, KindAttachments:
		for _, a := range m.Attachments {
			msg.Attachments = append(msg.Attachments, store.Attachment{
				Title:    a.Title,
				Fallback: a.Fallback,
				Text:     a.Text,
			})
		}
	}

	if err := e.store.InsertMessage(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (e *Engine) attachFile(ctx context.Context, msg *store.Message, fd *slack.File) error {
	f, err := e.assets.Resolve(ctx, fd, fd.IsExternal)
	if err != nil {
		return err
	}
	msg.File = f
	if fd.IsStarred {
		msg.IsStarred = true
	}
	return nil
}

// resolveAuthor attributes a message to a user: the explicit user
// reference first, then the embedded comment's author, then the bot
// id. A bot id unknown to the store is fetched once from the remote
// source and synthesized into a user row, since bots never appear in
// the member list.
func (e *Engine) resolveAuthor(ctx context.Context, m slack.Message) (*store.User, error) {
	if m.User != "" {
		u, err := e.store.FindUserBySlackID(m.User)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, fmt.Errorf("%w: unknown user %s", ErrUnresolvableAuthor, m.User)
		}
		return u, nil
	}

	if m.Comment != nil && m.Comment.User != "" {
		u, err := e.store.FindUserBySlackID(m.Comment.User)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, fmt.Errorf("%w: unknown comment user %s", ErrUnresolvableAuthor, m.Comment.User)
		}
		return u, nil
	}

	if m.BotID != "" {
		u, err := e.store.FindUserBySlackID(m.BotID)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return u, nil
		}

		bot, err := e.source.BotInfo(ctx, m.BotID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bot %s: %w", m.BotID, err)
		}
		u, _, err = e.store.UpsertUser(store.UserParams{
			SlackID:  bot.ID,
			Name:     bot.Name,
			RealName: bot.Name,
			IsBot:    true,
		})
		if err != nil {
			return nil, err
		}
		return u, nil
	}

	return nil, fmt.Errorf("%w: ts %s", ErrUnresolvableAuthor, m.TS)
}
