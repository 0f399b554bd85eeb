package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gryf/slackbak/internal/slack"
	"github.com/gryf/slackbak/internal/testutil"
)

type fakeFetcher struct {
	authorized bool
	path       string
	err        error
	calls      int
}

func (f *fakeFetcher) Authorized() bool { return f.authorized }

func (f *fakeFetcher) Download(ctx context.Context, url, kind string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

func TestResolverExternalFile(t *testing.T) {
	fetch := &fakeFetcher{}
	r := NewResolver(fetch, testutil.SilentLogger())

	fd := &slack.File{Title: "pic", Name: "pic.png", URLPrivate: "https://example.com/pic.png"}
	f, err := r.Resolve(context.Background(), fd, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if f.URL != "https://example.com/pic.png" || f.Filepath != "" {
		t.Fatalf("external file must pass the url through: %+v", f)
	}
	if fetch.calls != 0 {
		t.Fatal("external files must not be transferred")
	}
}

func TestResolverInternalFile(t *testing.T) {
	fetch := &fakeFetcher{authorized: true, path: "/assets/files/T1/notes.txt"}
	r := NewResolver(fetch, testutil.SilentLogger())

	fd := &slack.File{Title: "notes", Name: "notes.txt",
		URLPrivateDownload: "https://files.slack.com/dl/T1/notes.txt"}
	f, err := r.Resolve(context.Background(), fd, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if f.Filepath != "/assets/files/T1/notes.txt" {
		t.Fatalf("expected local path, got %+v", f)
	}
}

func TestResolverDegradesWithoutCredentials(t *testing.T) {
	fetch := &fakeFetcher{err: ErrNotAuthorized}
	r := NewResolver(fetch, testutil.SilentLogger())

	fd := &slack.File{Name: "notes.txt",
		URLPrivateDownload: "https://files.slack.com/dl/T1/notes.txt"}
	f, err := r.Resolve(context.Background(), fd, false)
	if err != nil {
		t.Fatalf("degradation must not be fatal: %v", err)
	}
	if f.Filepath != "" || f.URL != "https://files.slack.com/dl/T1/notes.txt" {
		t.Fatalf("expected url-only reference: %+v", f)
	}
}

func TestDownloadRequiresAuthorizationForFiles(t *testing.T) {
	d := NewDownloader("", "", "", t.TempDir(), testutil.SilentLogger())
	_, err := d.Download(context.Background(), "https://files.slack.com/x", KindFile)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestDownloadAvatarWorksUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "avatar-bytes")
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader("", "", "", dir, testutil.SilentLogger())

	path, err := d.Download(context.Background(), srv.URL+"/alice.png", KindAvatar)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(dir, "images")) {
		t.Fatalf("avatar landed outside images dir: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "avatar-bytes" {
		t.Fatalf("unexpected content %q (%v)", data, err)
	}
}

func TestDownloadCollisionPolicy(t *testing.T) {
	content := "first-content"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, content)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader("", "", "", dir, testutil.SilentLogger())
	d.authorized = true
	ctx := context.Background()

	first, err := d.Download(ctx, srv.URL+"/notes.txt", KindFile)
	if err != nil {
		t.Fatalf("first download: %v", err)
	}

	// Identical content: the duplicate transfer is discarded and the
	// original path is reused.
	second, err := d.Download(ctx, srv.URL+"/notes.txt", KindFile)
	if err != nil {
		t.Fatalf("second download: %v", err)
	}
	if second != first {
		t.Fatalf("identical content should reuse %s, got %s", first, second)
	}

	// Differing content: a numeric suffix goes before the extension.
	content = "second-content"
	third, err := d.Download(ctx, srv.URL+"/notes.txt", KindFile)
	if err != nil {
		t.Fatalf("third download: %v", err)
	}
	if third == first {
		t.Fatal("differing content must not overwrite")
	}
	if !strings.HasSuffix(third, "notes.001.txt") {
		t.Fatalf("expected .001 suffix before extension, got %s", third)
	}

	content = "third-content"
	fourth, err := d.Download(ctx, srv.URL+"/notes.txt", KindFile)
	if err != nil {
		t.Fatalf("fourth download: %v", err)
	}
	if !strings.HasSuffix(fourth, "notes.002.txt") {
		t.Fatalf("expected incrementing suffix, got %s", fourth)
	}
}

func TestDownloadRetryBudgetExhausted(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDownloader("", "", "", t.TempDir(), testutil.SilentLogger())
	_, err := d.Download(context.Background(), srv.URL+"/alice.png", KindAvatar)
	if err == nil {
		t.Fatal("expected exhausted retry budget to surface")
	}
	if hits != retryAttempts {
		t.Fatalf("expected %d attempts, got %d", retryAttempts, hits)
	}
}

func TestAuthorize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<form>
<input type="hidden" name="crumb" value="s-1234-abc">
</form>`)
			return
		}
		if r.FormValue("crumb") != "s-1234-abc" {
			http.Error(w, "bad crumb", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "a", Value: "xyz"})
		http.SetCookie(w, &http.Cookie{Name: "b", Value: "1"})
		http.SetCookie(w, &http.Cookie{Name: "a-xyz", Value: "1"})
	}))
	defer srv.Close()

	d := NewDownloader("testteam", "user@example.com", "secret", t.TempDir(),
		testutil.SilentLogger())
	d.SetBaseURL(srv.URL)

	if err := d.Authorize(context.Background()); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Authorized() {
		t.Fatal("expected authorized session")
	}
}

func TestAuthorizeWithoutCredentials(t *testing.T) {
	d := NewDownloader("", "", "", t.TempDir(), testutil.SilentLogger())
	if err := d.Authorize(context.Background()); err != nil {
		t.Fatalf("missing credentials must be a warning, not an error: %v", err)
	}
	if d.Authorized() {
		t.Fatal("session must stay unauthorized")
	}
}

func TestNextFreeName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := nextFreeName(path)
	if got != filepath.Join(dir, "report.001.pdf") {
		t.Fatalf("unexpected name %s", got)
	}
	if err := os.WriteFile(got, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got = nextFreeName(path); got != filepath.Join(dir, "report.002.pdf") {
		t.Fatalf("unexpected name %s", got)
	}
}
