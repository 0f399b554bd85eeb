// Package report renders the archived history into per-channel text
// transcripts. Renderers read exclusively through the store contract;
// they never see the wire format.
package report

import (
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gryf/slackbak/internal/store"
)

// Reporter renders the archive into some output format.
type Reporter interface {
	Generate() error
}

// Options selects output directory, theme and channels.
type Options struct {
	Output   string
	Theme    string
	Channels []string
}

// themes map symbol roles to glyphs.
var themes = map[string]map[string]string{
	"plain": {
		store.SubtypeJoin:  "->",
		store.SubtypeLeave: "<-",
		store.SubtypeMe:    "*",
		store.SubtypeFile:  "-",
		store.SubtypeTopic: "+",
		"separator":        "|",
	},
	"unicode": {
		store.SubtypeJoin:  "⮊",
		store.SubtypeLeave: "⮈",
		store.SubtypeMe:    "🟊",
		store.SubtypeFile:  "📂",
		store.SubtypeTopic: "🟅",
		"separator":        "│",
	},
}

var (
	urlPat     = regexp.MustCompile(`<http[^>]+>`)
	slackIDPat = regexp.MustCompile(`<@(U[A-Z0-9]+)(\|[^>]+)?[^>]*>`)
)

// New returns the reporter for the requested format. Unknown formats
// fall back to the no-op reporter with a warning.
func New(format string, st *store.Store, opts Options, log *slog.Logger) Reporter {
	switch format {
	case "text":
		return &textReporter{store: st, opts: opts, log: log}
	case "", "none":
		return noneReporter{}
	}
	log.Warn("unknown format selected, falling back to none", "format", format)
	return noneReporter{}
}

// noneReporter only updates the database, producing no output.
type noneReporter struct{}

func (noneReporter) Generate() error { return nil }

// textReporter writes one IRC-style .log file per channel, strictly
// chronological.
type textReporter struct {
	store *store.Store
	opts  Options
	log   *slog.Logger
}

func (r *textReporter) Generate() error {
	if err := os.MkdirAll(r.opts.Output, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	users, err := r.store.ListUsers()
	if err != nil {
		return err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.SlackID] = u.DisplayName()
	}

	channels, err := r.store.ListChannels()
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if !r.selected(ch.Name) {
			continue
		}
		if err := r.writeChannel(ch, names); err != nil {
			return err
		}
	}
	return nil
}

func (r *textReporter) selected(name string) bool {
	if len(r.opts.Channels) == 0 {
		return true
	}
	for _, want := range r.opts.Channels {
		if want == name {
			return true
		}
	}
	return false
}

func (r *textReporter) writeChannel(ch store.Channel, names map[string]string) error {
	msgs, err := r.store.MessagesForChannel(ch.ID)
	if err != nil {
		return err
	}

	maxLen := 0
	for _, m := range msgs {
		if len(m.UserName) > maxLen {
			maxLen = len(m.UserName)
		}
	}

	path := filepath.Join(r.opts.Output, ch.Name+".log")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	for _, m := range msgs {
		if _, err := f.WriteString(r.formatMessage(m, names, maxLen)); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

func (r *textReporter) formatMessage(m store.Message, names map[string]string, maxLen int) string {
	nick := m.UserName
	if sym, ok := r.symbols()[m.Subtype]; ok {
		nick = sym
	}

	text := m.Text
	if m.File != nil {
		ref := m.File.URL
		if m.File.Filepath != "" {
			if abs, err := filepath.Abs(m.File.Filepath); err == nil {
				ref = "file://" + abs
			}
		}
		repl := "(" + ref + ") " + m.File.Title
		if urlPat.MatchString(text) {
			text = urlPat.ReplaceAllString(text, repl)
		} else {
			text = strings.TrimSpace(text + " " + repl)
		}
	}

	text = r.substituteIDs(text, names)
	text = html.UnescapeString(text)

	for _, a := range m.Attachments {
		part := a.Title
		if part == "" {
			part = a.Fallback
		}
		if a.Text != "" {
			part += "\n" + a.Text
		}
		if part != "" {
			text = strings.TrimSpace(text + "\n" + part)
		}
	}

	sep := r.symbols()["separator"]
	text = r.shiftNewlines(text, maxLen, sep)

	return fmt.Sprintf("%s %*s %s %s\n",
		formatTS(m.TS), maxLen, nick, sep, text)
}

func (r *textReporter) symbols() map[string]string {
	if t, ok := themes[r.opts.Theme]; ok {
		return t
	}
	return themes["plain"]
}

// substituteIDs replaces <@U...> markup with the user's name.
func (r *textReporter) substituteIDs(text string, names map[string]string) string {
	return slackIDPat.ReplaceAllStringFunc(text, func(match string) string {
		groups := slackIDPat.FindStringSubmatch(match)
		if name, ok := names[groups[1]]; ok {
			return name
		}
		return match
	})
}

// shiftNewlines indents continuation lines under the message column.
func (r *textReporter) shiftNewlines(text string, maxLen int, sep string) string {
	// date width + space + nick column + space.
	shift := 19 + 1 + maxLen + 1
	return strings.ReplaceAll(text, "\n", "\n"+strings.Repeat(" ", shift)+sep+" ")
}

// formatTS renders the timestamp token's whole-second part; the
// sub-second sequence only matters for ordering and cursors.
func formatTS(ts string) string {
	secs := ts
	if i := strings.IndexByte(ts, '.'); i >= 0 {
		secs = ts[:i]
	}
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return ts
	}
	return time.Unix(n, 0).UTC().Format("2006-01-02 15:04:05")
}
