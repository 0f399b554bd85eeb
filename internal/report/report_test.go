package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gryf/slackbak/internal/store"
	"github.com/gryf/slackbak/internal/testutil"
)

func seedArchive(t *testing.T) (*store.Store, *store.Channel) {
	t.Helper()
	st := testutil.OpenTestStore(t)

	alice, _, err := st.UpsertUser(store.UserParams{SlackID: "UAAAAAAAA", Name: "alice"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	bob, _, err := st.UpsertUser(store.UserParams{SlackID: "UBBBBBBBB", Name: "bob"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	ch, _, err := st.UpsertChannel(store.ChannelParams{SlackID: "C1", Name: "general"})
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}

	msgs := []*store.Message{
		{ChannelID: ch.ID, UserID: alice.ID, TS: "1479147929.000002",
			Subtype: store.SubtypePlain, Text: "hello &amp; welcome <@UBBBBBBBB>"},
		{ChannelID: ch.ID, UserID: bob.ID, TS: "1479147930.000001",
			Subtype: store.SubtypeJoin, Text: "bob has joined"},
		{ChannelID: ch.ID, UserID: alice.ID, TS: "1479147931.000005",
			Subtype: store.SubtypeFile, Text: "<https://files.slack.com/n.txt>",
			File: &store.File{Title: "notes", Name: "n.txt", Filepath: "/backup/assets/files/n.txt"}},
	}
	for _, m := range msgs {
		if err := st.InsertMessage(m); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
	return st, ch
}

func TestTextReporterGenerate(t *testing.T) {
	st, _ := seedArchive(t)
	out := t.TempDir()

	r := New("text", st, Options{Output: out, Theme: "plain"}, testutil.SilentLogger())
	if err := r.Generate(); err != nil {
		t.Fatalf("generate: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, "general.log"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	text := string(data)

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 transcript lines, got %d:\n%s", len(lines), text)
	}

	// Chronological, with resolved user names and unescaped entities.
	if !strings.Contains(lines[0], "alice") || !strings.Contains(lines[0], "hello & welcome bob") {
		t.Fatalf("first line wrong: %q", lines[0])
	}
	if !strings.Contains(lines[0], "2016-11-14") {
		t.Fatalf("date missing: %q", lines[0])
	}
	// Join messages render the theme symbol instead of a nick.
	if !strings.Contains(lines[1], "->") {
		t.Fatalf("join symbol missing: %q", lines[1])
	}
	// File messages reference the resolved local path.
	if !strings.Contains(lines[2], "file:///backup/assets/files/n.txt") ||
		!strings.Contains(lines[2], "notes") {
		t.Fatalf("file reference missing: %q", lines[2])
	}
}

func TestChannelFilter(t *testing.T) {
	st, _ := seedArchive(t)
	out := t.TempDir()

	r := New("text", st, Options{Output: out, Theme: "plain", Channels: []string{"other"}},
		testutil.SilentLogger())
	if err := r.Generate(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "general.log")); !os.IsNotExist(err) {
		t.Fatal("unselected channel must not be rendered")
	}
}

func TestUnknownFormatFallsBackToNone(t *testing.T) {
	st, _ := seedArchive(t)
	r := New("html", st, Options{Output: t.TempDir()}, testutil.SilentLogger())
	if _, ok := r.(noneReporter); !ok {
		t.Fatalf("expected none reporter, got %T", r)
	}
	if err := r.Generate(); err != nil {
		t.Fatalf("none reporter must be a no-op: %v", err)
	}
}
