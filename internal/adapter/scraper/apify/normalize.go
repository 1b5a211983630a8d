package apify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// The actor returns items whose field names drifted across versions.
// Normalization collapses every known alias; downstream code never sees
// raw items. Zero counters are treated as absent so a missing metric is
// never mistaken for a real zero.

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func sub(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func truthy(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if strings.EqualFold(v, "true") {
				return true
			}
		case float64:
			if v != 0 {
				return true
			}
		}
	}
	return false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if s == "" {
			return 0, false
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// num returns the first non-zero numeric value under any of the keys.
func num(m map[string]any, keys ...string) *int64 {
	for _, k := range keys {
		if i, ok := asInt64(m[k]); ok && i != 0 {
			return &i
		}
	}
	return nil
}

func numFloat(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch n := m[k].(type) {
		case float64:
			if n != 0 {
				f := n
				return &f
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil && f != 0 {
				return &f
			}
		}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts unix seconds, unix milliseconds and the common
// string layouts the actor has emitted.
func parseTime(v any) *time.Time {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		ts := n
		if ts > 1_000_000_000_000 {
			ts = ts / 1000.0
		}
		t := time.Unix(int64(ts), 0).UTC()
		return &t
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return parseTime(f)
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

func extractTags(text, prefix string) string {
	if text == "" {
		return ""
	}
	var tags []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(text) {
		if strings.HasPrefix(w, prefix) && len(w) > 1 {
			t := w[1:]
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	return strings.Join(tags, ",")
}

func listToCSV(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if item != nil {
				parts = append(parts, fmt.Sprint(item))
			}
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

func taggedUserName(m map[string]any) string {
	name := str(m, "username")
	if name == "" {
		name = str(sub(m, "user"), "username")
	}
	if name == "" {
		name = str(m, "full_name", "fullName")
	}
	return name
}

func listToTaggedUsers(v any) string {
	var users []string
	add := func(name string) {
		if name == "" {
			return
		}
		if !strings.HasPrefix(name, "@") {
			name = "@" + name
		}
		users = append(users, name)
	}
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			switch entry := item.(type) {
			case map[string]any:
				add(taggedUserName(entry))
			case string:
				add(entry)
			}
		}
	case map[string]any:
		add(taggedUserName(val))
	case string:
		add(val)
	}
	return strings.Join(users, "\n")
}

func normalizeItem(item map[string]any) domain.PostRecord {
	owner := sub(item, "owner")
	caption := str(item, "caption", "text", "description")

	url := str(item, "url")
	if url == "" {
		if sc := str(item, "shortCode", "shortcode", "code"); sc != "" {
			url = fmt.Sprintf("https://www.instagram.com/p/%s/", sc)
		}
	}

	followers := num(item, "ownerFollowersCount", "followersCount")
	if followers == nil {
		followers = num(owner, "followersCount")
	}
	if followers == nil {
		followers = num(sub(owner, "edge_followed_by"), "count")
	}

	handle := str(item, "ownerUsername", "username")
	if handle == "" {
		handle = str(owner, "username")
	}
	displayName := str(item, "ownerFullName", "fullName")
	if displayName == "" {
		displayName = str(owner, "fullName")
	}

	var postedAt *time.Time
	for _, k := range []string{"timestamp", "takenAtTimestamp", "takenAt", "createdAt"} {
		if postedAt = parseTime(item[k]); postedAt != nil {
			break
		}
	}

	return domain.PostRecord{
		PostURL:         url,
		PostedAt:        postedAt,
		Handle:          handle,
		DisplayName:     displayName,
		FollowersAtScan: followers,
		MediaType:       str(item, "type", "mediaType"),
		IsPinned:        truthy(item, "isPinned", "pinned"),
		Views:           num(item, "videoViewCount", "videoPlayCount", "views", "viewCount"),
		Likes:           num(item, "likesCount", "likes", "likeCount"),
		Comments:        num(item, "commentsCount", "comments", "commentCount"),
		Caption:         caption,
		Hashtags:        extractTags(caption, "#"),
		CaptionMentions: extractTags(caption, "@"),
		TaggedUsers:     listToTaggedUsers(firstPresent(item, "taggedUsers", "userTags", "tagged")),
		MusicInfo:       listToCSV(firstPresent(item, "musicInfo", "music")),
		PaidPartnership: truthy(item, "isPaidPartnership", "isPaid", "isCommercial"),
		Sponsors:        listToCSV(firstPresent(item, "sponsors", "brands")),
		DisplayURL:      str(item, "displayUrl", "thumbnailUrl"),
		VideoURL:        str(item, "videoUrl", "videoUrlHd"),
		DurationSeconds: numFloat(item, "videoDuration", "duration", "videoDurationSeconds"),
	}
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func normalizeProfile(details map[string]any, cleanHandle string) domain.ProfileDetails {
	owner := sub(details, "owner")

	followers := num(details, "followersCount", "ownerFollowersCount")
	if followers == nil {
		followers = num(owner, "followersCount")
	}
	if followers == nil {
		followers = num(sub(owner, "edge_followed_by"), "count")
	}
	follows := num(details, "followsCount", "followingsCount", "followingCount")
	if follows == nil {
		follows = num(sub(owner, "edge_follow"), "count")
	}

	profileURL := str(details, "url")
	if profileURL == "" {
		profileURL = fmt.Sprintf("https://www.instagram.com/%s/", cleanHandle)
	}

	return domain.ProfileDetails{
		Handle:           "@" + cleanHandle,
		ProfileURL:       profileURL,
		FullName:         str(details, "fullName", "full_name"),
		BusinessCategory: str(details, "businessCategoryName"),
		Biography:        str(details, "biography"),
		FollowersCount:   followers,
		FollowsCount:     follows,
		PostsCount:       num(details, "postsCount", "posts_count"),
		Verified:         truthy(details, "verified", "isVerified"),
		ProfilePicURL:    str(details, "profilePicUrlHD", "profilePicUrl"),
	}
}
