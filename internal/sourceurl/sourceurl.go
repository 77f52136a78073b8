// Package sourceurl validates and canonicalizes the URLs videos are fetched from.
package sourceurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalid is returned for input that is not an absolute http(s) URL with a host.
var ErrInvalid = errors.New("sourceurl: not a valid http(s) url")

// Host aliases. Key: input host. Value: canonical domain.
var domainByHost = map[string]string{
	"youtube.com":     "youtube.com",
	"www.youtube.com": "youtube.com",
	"m.youtube.com":   "youtube.com",
	"youtu.be":        "youtube.com",

	"x.com":           "x.com",
	"www.x.com":       "x.com",
	"twitter.com":     "x.com",
	"www.twitter.com": "x.com",

	"vimeo.com":        "vimeo.com",
	"www.vimeo.com":    "vimeo.com",
	"player.vimeo.com": "vimeo.com",
}

// URL is a parsed source URL.
type URL struct {
	// Raw is the input with surrounding whitespace removed.
	Raw string
	// Normalized has a canonical host, no fragment and, for YouTube, only the v= parameter.
	Normalized string
	// Domain is the canonical domain, or the bare host for unknown sites.
	Domain string
	// YouTubeID is set for YouTube watch, short, embed and youtu.be links.
	YouTubeID string
}

// IsYouTube reports whether the URL points at a single YouTube video.
func (u URL) IsYouTube() bool {
	return u.Domain == "youtube.com" && u.YouTubeID != ""
}

// Domain returns the canonical domain for host.
func Domain(host string) string {
	h := normalizeHost(host)
	if c, ok := domainByHost[h]; ok {
		return c
	}
	return h
}

// Parse validates raw and canonicalizes it. Input without a scheme is treated as https.
func Parse(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URL{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	u, err := url.Parse(raw)
	if err == nil && u.Scheme == "" {
		u, err = url.Parse("https://" + raw)
	}
	if err != nil {
		return URL{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return URL{}, fmt.Errorf("%w: scheme %q", ErrInvalid, u.Scheme)
	}
	host := normalizeHost(u.Host)
	if host == "" || (!strings.Contains(host, ".") && host != "localhost") {
		return URL{}, fmt.Errorf("%w: host %q", ErrInvalid, u.Host)
	}

	out := URL{Raw: raw, Domain: Domain(host)}
	if out.Domain == "youtube.com" {
		out.YouTubeID = youTubeID(host, u)
	}

	u.Fragment = ""
	u.User = nil
	port := u.Port()
	u.Host = out.Domain
	if port != "" {
		u.Host = out.Domain + ":" + port
	}
	if _, known := domainByHost[host]; known {
		u.Scheme = "https"
	}
	u.Path = trimTrailingSlash(u.Path)

	switch out.Domain {
	case "youtube.com":
		if out.YouTubeID != "" {
			u.Path = "/watch"
			u.RawQuery = "v=" + url.QueryEscape(out.YouTubeID)
		}
	case "x.com", "vimeo.com":
		u.RawQuery = ""
	}
	out.Normalized = u.String()
	return out, nil
}

func youTubeID(host string, u *url.URL) string {
	if host == "youtu.be" {
		return firstPathSegment(u.Path)
	}
	if v := strings.TrimSpace(u.Query().Get("v")); v != "" {
		return v
	}
	for _, prefix := range []string{"/embed/", "/v/", "/shorts/", "/live/"} {
		if strings.HasPrefix(u.Path, prefix) {
			return firstPathSegment(strings.TrimPrefix(u.Path, prefix))
		}
	}
	return ""
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	if h == "" {
		return ""
	}
	if parsed, err := url.Parse("//" + h); err == nil && parsed.Hostname() != "" {
		h = parsed.Hostname()
	}
	return strings.TrimSuffix(h, ".")
}

func trimTrailingSlash(p string) string {
	if p == "" || p == "/" {
		return p
	}
	return strings.TrimRight(p, "/")
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	seg, _, _ := strings.Cut(p, "/")
	return strings.TrimSpace(seg)
}
