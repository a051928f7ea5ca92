package plan

import "strings"

// HighlightMatching flags every row whose text contains search, case
// insensitively. Name and link share one flag, tooltip and video script have
// their own, and a row may match on several at once. Ancestors of a match are
// opened so the match is reachable. It reports whether anything matched.
func HighlightMatching(family []*Row, search string) bool {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		ClearHighlights(family)
		return false
	}
	return highlight(family, needle)
}

func highlight(family []*Row, needle string) bool {
	matched := false
	for _, r := range family {
		if r == nil {
			continue
		}
		r.HighlightedName = strings.Contains(strings.ToLower(r.Name+r.Link), needle)
		r.HighlightedTooltip = strings.Contains(strings.ToLower(r.Tooltip), needle)
		r.HighlightedVideo = strings.Contains(strings.ToLower(r.VideoScript), needle)
		r.FilterMatch = r.HighlightedName || r.HighlightedTooltip || r.HighlightedVideo

		if highlight(r.Children, needle) {
			r.Opened = true
			matched = true
		}
		if r.FilterMatch {
			matched = true
		}
	}
	return matched
}

// ClearHighlights resets every search flag and closes every row.
func ClearHighlights(family []*Row) {
	Walk(family, func(r *Row) {
		r.HighlightedName = false
		r.HighlightedTooltip = false
		r.HighlightedVideo = false
		r.FilterMatch = false
		r.Opened = false
	})
}
