package sourceurl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomain_Aliases(t *testing.T) {
	require.Equal(t, "youtube.com", Domain("youtu.be"))
	require.Equal(t, "youtube.com", Domain("WWW.YouTube.com"))
	require.Equal(t, "x.com", Domain("twitter.com"))
	require.Equal(t, "vimeo.com", Domain("player.vimeo.com"))
	require.Equal(t, "example.org", Domain("example.org."))
}

func TestParse_YouTube(t *testing.T) {
	cases := []string{
		"https://www.youtube.com/watch?v=ggLajT7aMMk&t=123s&si=abc",
		"youtu.be/ggLajT7aMMk?t=120",
		"https://youtube.com/shorts/ggLajT7aMMk?feature=share",
		"https://m.youtube.com/embed/ggLajT7aMMk",
		"http://youtube.com/live/ggLajT7aMMk#chat",
	}
	for _, raw := range cases {
		u, err := Parse(raw)
		require.NoError(t, err, raw)
		require.Equal(t, "youtube.com", u.Domain, raw)
		require.Equal(t, "ggLajT7aMMk", u.YouTubeID, raw)
		require.True(t, u.IsYouTube(), raw)
		require.Equal(t, "https://youtube.com/watch?v=ggLajT7aMMk", u.Normalized, raw)
	}
}

func TestParse_YouTubeWithoutVideoKeepsQuery(t *testing.T) {
	u, err := Parse("https://www.youtube.com/results?search_query=go")
	require.NoError(t, err)
	require.False(t, u.IsYouTube())
	require.Equal(t, "https://youtube.com/results?search_query=go", u.Normalized)
}

func TestParse_StripsQueryForKnownHosts(t *testing.T) {
	u, err := Parse("https://twitter.com/someone/status/2009472976463495257?s=20&t=abc")
	require.NoError(t, err)
	require.Equal(t, "x.com", u.Domain)
	require.Equal(t, "https://x.com/someone/status/2009472976463495257", u.Normalized)

	u, err = Parse("https://vimeo.com/123456/?share=copy")
	require.NoError(t, err)
	require.Equal(t, "https://vimeo.com/123456", u.Normalized)
}

func TestParse_UnknownHostKeepsQuery(t *testing.T) {
	u, err := Parse("https://media.example.org/lecture.mp4?token=1#t=5")
	require.NoError(t, err)
	require.Equal(t, "media.example.org", u.Domain)
	require.Equal(t, "https://media.example.org/lecture.mp4?token=1", u.Normalized)
	require.False(t, u.IsYouTube())
}

func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://example.org/a.mp4", "not a url", "https://"} {
		_, err := Parse(raw)
		require.ErrorIs(t, err, ErrInvalid, raw)
	}
}
