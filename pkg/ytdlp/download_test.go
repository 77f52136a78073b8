package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadTo_WritesExpectedPath(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "videos", "abc.mp4")
	jar := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(jar, []byte("# Netscape HTTP Cookie File"), 0o600))
	c := New()
	c.CookiesFile = jar
	var gotArgs []string
	c.execFn = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		require.Equal(t, "yt-dlp", name)
		gotArgs = args
		return nil, nil, os.WriteFile(dest, []byte("media"), 0o644)
	}

	require.NoError(t, c.DownloadTo(context.Background(), "https://example.com/v", dest))
	require.Contains(t, gotArgs, DefaultFormat)
	require.Contains(t, gotArgs, "--cookies")
	require.Equal(t, "https://example.com/v", gotArgs[len(gotArgs)-1])
}

func TestDownloadTo_RenamesDifferentExtension(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "abc.mp4")
	c := New()
	c.execFn = func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, nil, os.WriteFile(filepath.Join(dir, "abc.mp4.webm"), []byte("media"), 0o644)
	}

	require.NoError(t, c.DownloadTo(context.Background(), "https://example.com/v", dest))
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "media", string(b))
}

func TestDownloadTo_NothingWritten(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "abc.mp4")
	c := New()
	c.execFn = func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, nil, nil
	}

	err := c.DownloadTo(context.Background(), "https://example.com/v", dest)
	require.ErrorContains(t, err, "no file matching abc*")
}

func TestDownloadTo_ExecFailure(t *testing.T) {
	c := New()
	c.execFn = func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, []byte("ERROR: Video unavailable"), errors.New("exit status 1")
	}

	err := c.DownloadTo(context.Background(), "https://example.com/v", filepath.Join(t.TempDir(), "x.mp4"))
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "ERROR: Video unavailable", ee.Stderr)
	require.Equal(t, "yt-dlp: Video unavailable", err.Error())
}

func TestDownloadTo_RequiresArguments(t *testing.T) {
	c := New()
	require.Error(t, c.DownloadTo(context.Background(), "", "x.mp4"))
	require.Error(t, c.DownloadTo(context.Background(), "https://example.com", " "))
}
