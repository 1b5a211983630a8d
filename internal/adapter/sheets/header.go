// Package sheets projects sync results into the subscriber's Google
// spreadsheet. Each handle owns a tab with two header rows: the column
// names and a human-readable description row.
package sheets

import (
	"regexp"
	"strings"
)

var (
	igURLRe = regexp.MustCompile(`(?i)^https?://(www\.)?instagram\.com/(p|reel|tv)/`)
	dateRe  = regexp.MustCompile(`\d{2}-\d{2}-\d{2}`)
)

var mediaTypes = map[string]bool{
	"video":    true,
	"image":    true,
	"sidecar":  true,
	"carousel": true,
	"reel":     true,
}

// Legacy tab schemas shipped by earlier deployments. Repair tries each
// and keeps the one whose post_url column best matches IG URL patterns.
var legacyHeaders = [][]string{
	{
		"post_url", "posted_at", "handle", "display_name", "views", "likes", "comments",
		"velocity", "velocity_percentile", "velocity_trend", "caption", "hashtags", "caption_mentions",
		"media_type", "duration_seconds", "display_url", "video_url", "tagged_users", "music_info",
		"paid_partnership", "sponsors", "ai_title", "ai_format", "ai_intent", "scanned_at",
	},
	{
		"post_id", "shortcode", "posted_at", "caption", "likes", "comments", "views", "media_type", "url", "last_updated",
		"comments_dup", "views_dup", "is_pinned", "display_url", "video_url", "paid_partnership", "sponsors", "tagged_users",
		"music_info", "ai_title", "ai_format", "ai_intent", "scanned_at",
	},
}

// colToA1 converts a 1-based column number to its A1 letter form.
func colToA1(n int) string {
	if n < 1 {
		n = 1
	}
	letters := ""
	for n > 0 {
		n--
		letters = string(rune('A'+n%26)) + letters
		n /= 26
	}
	return letters
}

func cell(row []string, i int) string {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}

func headerIndex(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

// migrateRows remaps data rows from an old header layout to the new one
// by column name, so a header change never leaves data under the wrong
// columns. Columns absent from the old layout come out blank.
func migrateRows(oldHeader []string, rows [][]string, newHeader []string) [][]string {
	oldIdx := make(map[string]int, len(oldHeader))
	for i, name := range oldHeader {
		oldIdx[name] = i
	}
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		migrated := make([]string, len(newHeader))
		for j, col := range newHeader {
			if i, ok := oldIdx[col]; ok {
				migrated[j] = cell(row, i)
			}
		}
		out = append(out, migrated)
	}
	return out
}

// needsRepair detects tabs whose header was rewritten without migrating
// the data rows underneath. Primary signal: the post_url column does
// not hold IG URLs. Secondary: URLs look fine but media_type or
// posted_at hold junk.
func needsRepair(sample [][]string, header []string) bool {
	if len(sample) == 0 {
		return false
	}
	urlIdx := headerIndex(header, "post_url")
	if urlIdx < 0 {
		return false
	}
	mediaIdx := headerIndex(header, "media_type")
	postedIdx := headerIndex(header, "posted_at")

	var checked, good, mediaGood, postedGood int
	for _, row := range sample {
		if len(row) == 0 {
			continue
		}
		if v := cell(row, urlIdx); v != "" {
			checked++
			if igURLRe.MatchString(strings.TrimSpace(v)) {
				good++
			}
		}
		if v := cell(row, mediaIdx); mediaIdx >= 0 && v != "" {
			if mediaTypes[strings.ToLower(strings.TrimSpace(v))] {
				mediaGood++
			}
		}
		if v := cell(row, postedIdx); postedIdx >= 0 && v != "" {
			if dateRe.MatchString(strings.TrimSpace(v)) {
				postedGood++
			}
		}
	}
	if checked < 3 {
		return false
	}
	if good <= max(1, checked/4) {
		return true
	}
	if mediaIdx >= 0 && mediaGood <= max(1, checked/5) {
		return true
	}
	if postedIdx >= 0 && postedGood <= max(1, checked/5) {
		return true
	}
	return false
}

// repairRowsFromLegacy rebuilds misaligned rows by interpreting them
// under the best-scoring legacy schema. Returns nil when no legacy
// schema matches well enough to trust.
func repairRowsFromLegacy(rows [][]string, newHeader []string) [][]string {
	scoreFor := func(legacy []string) int {
		urlIdx := headerIndex(legacy, "post_url")
		if urlIdx < 0 {
			urlIdx = headerIndex(legacy, "url")
		}
		s := 0
		limit := len(rows)
		if limit > 50 {
			limit = 50
		}
		for _, row := range rows[:limit] {
			if igURLRe.MatchString(strings.TrimSpace(cell(row, urlIdx))) {
				s += 2
			}
		}
		return s
	}

	var best []string
	bestScore := -1
	for _, cand := range legacyHeaders {
		if s := scoreFor(cand); s > bestScore {
			bestScore = s
			best = cand
		}
	}
	if best == nil || bestScore < 4 {
		return nil
	}

	idx := make(map[string]int, len(best))
	for i, name := range best {
		idx[name] = i
	}
	if _, ok := idx["post_url"]; !ok {
		if i, ok := idx["url"]; ok {
			idx["post_url"] = i
		}
	}
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		repaired := make([]string, len(newHeader))
		for j, col := range newHeader {
			if i, ok := idx[col]; ok {
				repaired[j] = cell(row, i)
			}
		}
		out = append(out, repaired)
	}
	return out
}
