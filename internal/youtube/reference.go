// Package youtube resolves channel references and lists channel uploads
// through the YouTube Data API v3, and samples videos for a trailer.
package youtube

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidReference is returned when a reference cannot be understood.
var ErrInvalidReference = errors.New("youtube: invalid channel reference")

// Kind identifies what a Reference points at.
type Kind string

const (
	// KindChannelID is a canonical UC... channel ID.
	KindChannelID Kind = "channel_id"
	// KindHandle is an @handle.
	KindHandle Kind = "handle"
	// KindUsername is a legacy /user/ name.
	KindUsername Kind = "username"
	// KindCustom is a /c/ or bare vanity name, resolved by search.
	KindCustom Kind = "custom"
	// KindVideo is a single video; its channel is resolved from the video.
	KindVideo Kind = "video"
)

// Reference is a parsed channel reference.
type Reference struct {
	Kind  Kind
	Value string
}

func (r Reference) String() string {
	return string(r.Kind) + ":" + r.Value
}

var (
	channelIDPattern = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
	videoIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	namePattern      = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// reservedPaths are first path segments that never name a channel.
var reservedPaths = map[string]bool{
	"watch": true, "results": true, "playlist": true, "feed": true,
	"shorts": true, "live": true, "embed": true, "channel": true,
	"user": true, "c": true, "account": true, "premium": true,
}

// ParseReference accepts the forms people paste for a channel:
//
//	UCxxxxxxxxxxxxxxxxxxxxxx
//	@handle
//	https://www.youtube.com/channel/UC...
//	https://www.youtube.com/@handle
//	https://www.youtube.com/user/name
//	https://www.youtube.com/c/name
//	https://www.youtube.com/name
//	https://www.youtube.com/watch?v=ID, /shorts/ID, /live/ID, /embed/ID
//	https://youtu.be/ID
//
// The scheme and "www." are optional. A bare word without slashes or dots is
// treated as a handle.
func ParseReference(raw string) (Reference, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Reference{}, fmt.Errorf("%w: empty", ErrInvalidReference)
	}

	if channelIDPattern.MatchString(s) {
		return Reference{Kind: KindChannelID, Value: s}, nil
	}
	if strings.HasPrefix(s, "@") {
		return handleRef(s[1:], raw)
	}
	if !strings.ContainsAny(s, "/.:?") {
		return handleRef(s, raw)
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	segments := splitPath(u.Path)

	switch host {
	case "youtu.be":
		if len(segments) >= 1 && videoIDPattern.MatchString(segments[0]) {
			return Reference{Kind: KindVideo, Value: segments[0]}, nil
		}
	case "youtube.com", "youtube-nocookie.com":
		if ref, ok := parseYouTubePath(u, segments); ok {
			return ref, nil
		}
	}

	return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
}

func parseYouTubePath(u *url.URL, segments []string) (Reference, bool) {
	if len(segments) == 0 {
		return Reference{}, false
	}

	first := segments[0]
	switch {
	case first == "watch":
		if v := u.Query().Get("v"); videoIDPattern.MatchString(v) {
			return Reference{Kind: KindVideo, Value: v}, true
		}
	case first == "shorts" || first == "live" || first == "embed":
		if len(segments) >= 2 && videoIDPattern.MatchString(segments[1]) {
			return Reference{Kind: KindVideo, Value: segments[1]}, true
		}
	case first == "channel":
		if len(segments) >= 2 && channelIDPattern.MatchString(segments[1]) {
			return Reference{Kind: KindChannelID, Value: segments[1]}, true
		}
	case first == "user":
		if len(segments) >= 2 && namePattern.MatchString(segments[1]) {
			return Reference{Kind: KindUsername, Value: segments[1]}, true
		}
	case first == "c":
		if len(segments) >= 2 && namePattern.MatchString(segments[1]) {
			return Reference{Kind: KindCustom, Value: segments[1]}, true
		}
	case strings.HasPrefix(first, "@"):
		if ref, err := handleRef(first[1:], first); err == nil {
			return ref, true
		}
	case !reservedPaths[first] && namePattern.MatchString(first):
		return Reference{Kind: KindCustom, Value: first}, true
	}
	return Reference{}, false
}

func handleRef(handle, raw string) (Reference, error) {
	if decoded, err := url.PathUnescape(handle); err == nil {
		handle = decoded
	}
	if handle == "" || strings.ContainsAny(handle, " /?#") {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	return Reference{Kind: KindHandle, Value: handle}, nil
}

func splitPath(p string) []string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// WatchURL returns the canonical watch URL for a video ID.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// UploadsPlaylistID derives the uploads playlist of a channel (UC... -> UU...).
func UploadsPlaylistID(channelID string) string {
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:]
	}
	return channelID
}
