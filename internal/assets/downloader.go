// Package assets materializes message files and user avatars into a
// local assets directory and maps file descriptors onto store rows.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Asset kinds; they select the target subdirectory and the collision
// policy (avatars overwrite, files never do).
const (
	KindFile   = "file"
	KindAvatar = "avatar"
)

// ErrNotAuthorized means the download session has no valid
// credentials. Internal files cannot be fetched, but a backup run can
// still proceed with metadata only.
var ErrNotAuthorized = errors.New("download session not authorized")

// retryAttempts bounds transfers of a single asset. The session is
// re-authenticated before each retry because Slack invalidates
// cookies aggressively.
const retryAttempts = 3

// Downloader fetches binary assets through an authenticated Slack web
// session (the conventional login-and-cookie flow; uploaded files are
// not served to token-only API clients).
type Downloader struct {
	team     string
	user     string
	password string

	// baseURL is "https://<team>.slack.com" in production; tests
	// override it.
	baseURL string

	http       *http.Client
	log        *slog.Logger
	assetsDir  string
	authorized bool
}

// NewDownloader returns a downloader storing assets under assetsDir.
// Missing credentials are not an error: the downloader stays
// unauthorized and internal file fetches degrade.
func NewDownloader(team, user, password, assetsDir string, log *slog.Logger) *Downloader {
	d := &Downloader{
		team:      team,
		user:      user,
		password:  password,
		assetsDir: assetsDir,
		log:       log,
	}
	if team != "" {
		d.baseURL = fmt.Sprintf("https://%s.slack.com", team)
	}
	return d
}

// SetBaseURL points the login and download session at a different
// host, for tests.
func (d *Downloader) SetBaseURL(u string) { d.baseURL = strings.TrimRight(u, "/") }

// Authorized reports whether the session holds valid cookies.
func (d *Downloader) Authorized() bool { return d.authorized }

// Authorize logs into the Slack web UI and keeps the session cookies
// for subsequent downloads. With incomplete credentials it warns and
// leaves the session unauthorized.
func (d *Downloader) Authorize(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	d.http = &http.Client{Jar: jar, Timeout: 60 * time.Second}
	d.authorized = false

	if d.team == "" || d.user == "" || d.password == "" {
		d.log.Warn("no credentials for slack account, media will not be downloaded")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach slack login page: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read login page: %w", err)
	}

	crumb := scrapeCrumb(string(body))
	if crumb == "" {
		return errors.New("cannot find crumb on slack login page")
	}

	form := url.Values{}
	form.Set("crumb", crumb)
	form.Set("email", d.user)
	form.Set("password", d.password)
	form.Set("signin", "1")
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build signin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = d.http.Do(req)
	if err != nil {
		return fmt.Errorf("signin request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !d.sessionCookiesPresent() {
		return errors.New("failed to login into slack")
	}
	d.authorized = true
	return nil
}

// sessionCookiesPresent checks for the a/b cookie pair Slack sets on
// a successful web login.
func (d *Downloader) sessionCookiesPresent() bool {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return false
	}
	var a, b, aPair bool
	var aValue string
	for _, c := range d.http.Jar.Cookies(u) {
		switch c.Name {
		case "a":
			a = true
			aValue = c.Value
		case "b":
			b = true
		}
	}
	for _, c := range d.http.Jar.Cookies(u) {
		if aValue != "" && c.Name == "a-"+aValue {
			aPair = true
		}
	}
	return a && b && aPair
}

// scrapeCrumb pulls the CSRF crumb out of the login page markup.
func scrapeCrumb(page string) string {
	for _, line := range strings.Split(page, "\n") {
		if !strings.Contains(line, "crumb") || !strings.Contains(line, "value=") {
			continue
		}
		parts := strings.SplitN(line, "value=", 2)
		fields := strings.Split(parts[1], `"`)
		if len(fields) >= 2 {
			return fields[1]
		}
	}
	return ""
}

// Download fetches an asset and returns its local path. Files require
// an authorized session; avatars are public and always fetched.
// Transfers are retried up to the attempt budget with the session
// re-authenticated between attempts; an exhausted budget surfaces the
// last transport error.
func (d *Downloader) Download(ctx context.Context, rawURL, kind string) (string, error) {
	if kind == KindFile && !d.authorized {
		return "", ErrNotAuthorized
	}
	if d.http == nil {
		d.http = &http.Client{Timeout: 60 * time.Second}
	}

	target, err := d.targetPath(rawURL, kind)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "slackbak")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	size, err := d.fetch(ctx, rawURL, tmpPath)
	if err != nil {
		return "", err
	}
	d.log.Debug("downloaded asset", "url", rawURL, "size", humanize.Bytes(uint64(size)))

	if kind != KindAvatar {
		if _, err := os.Stat(target); err == nil {
			same, err := sameFiles(target, tmpPath)
			if err != nil {
				return "", err
			}
			if same {
				d.log.Debug("file already exists, skipping", "path", target)
				return target, nil
			}
			renamed := nextFreeName(target)
			d.log.Warn("file already exists, renamed", "path", target, "renamed", renamed)
			target = renamed
		}
	}

	if err := moveFile(tmpPath, target); err != nil {
		return "", fmt.Errorf("failed to place %s: %w", target, err)
	}
	return target, nil
}

// fetch transfers rawURL to local with the bounded retry policy.
func (d *Downloader) fetch(ctx context.Context, rawURL, local string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			d.log.Warn("request failed, retrying", "url", rawURL, "error", lastErr)
			if err := d.Authorize(ctx); err != nil {
				d.log.Warn("re-authorization failed", "error", err)
			}
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		size, err := d.fetchOnce(ctx, rawURL, local)
		if err == nil {
			return size, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("request for %s failed after %d attempts: %w",
		rawURL, retryAttempts, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, rawURL, local string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET %s returned HTTP %d", rawURL, resp.StatusCode)
	}

	out, err := os.Create(local)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", local, err)
	}
	size, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", local, err)
	}
	return size, nil
}

// targetPath derives the local path for a URL. Slack-internal URLs
// carry a grouping token two segments before the filename; it becomes
// a subdirectory so distinct uploads with the same filename rarely
// collide in the first place.
func (d *Downloader) targetPath(rawURL, kind string) (string, error) {
	base := filepath.Join(d.assetsDir, "files")
	if kind == KindAvatar {
		base = filepath.Join(d.assetsDir, "images")
	}

	parts := strings.Split(rawURL, "/")
	name := parts[len(parts)-1]
	if len(parts) == 7 && (strings.Contains(parts[2], "slack.com") ||
		strings.Contains(parts[2], "slack-edge.com")) {
		base = filepath.Join(base, parts[len(parts)-3])
	} else {
		d.log.Debug("url does not seem to be slack internal", "url", rawURL)
	}

	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", base, err)
	}
	if name == "" {
		name = "unnamed"
	}
	return filepath.Join(base, name), nil
}

// nextFreeName appends a numeric suffix before the extension,
// incrementing until the name is unused.
func nextFreeName(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for count := 1; ; count++ {
		candidate := fmt.Sprintf("%s.%03d%s", base, count, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// sameFiles compares two files by checksum.
func sameFiles(a, b string) (bool, error) {
	ha, err := fileChecksum(a)
	if err != nil {
		return false, err
	}
	hb, err := fileChecksum(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// moveFile renames, falling back to copy+remove across filesystems
// (temp dir and assets dir often live on different mounts).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
