// Package titlegroup derives synthetic group keys from free-text title tags
// so that pages of the same work cluster together without a source id.
package titlegroup

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"media_syncer/internal/domain"
	"media_syncer/internal/tagparse"
)

const (
	TitleNamespace = "title"
	PageNamespace  = "page"

	minBaseLength = 3
)

// Each family captures the base title in group 1 and the position in group 2.
// Order matters: the first family that matches wins. Spacing includes
// Unicode space separators such as U+3000.
var families = []*regexp.Regexp{
	// "Title 3/10", "Title - 3/10"
	regexp.MustCompile(`^(.*?)[\s\p{Zs}\-–—_:|#~]*(\d+)[\s\p{Zs}]*/[\s\p{Zs}]*\d+[\s\p{Zs}]*$`),
	// "Title (3)", "Title (3/10)"
	regexp.MustCompile(`^(.*?)[\s\p{Zs}\-–—_:|#~]*\([\s\p{Zs}]*(\d+)(?:[\s\p{Zs}]*/[\s\p{Zs}]*\d+)?[\s\p{Zs}]*\)[\s\p{Zs}]*$`),
	// "Title [3]", "Title [3/10]"
	regexp.MustCompile(`^(.*?)[\s\p{Zs}\-–—_:|#~]*\[[\s\p{Zs}]*(\d+)(?:[\s\p{Zs}]*/[\s\p{Zs}]*\d+)?[\s\p{Zs}]*\][\s\p{Zs}]*$`),
	// "Title - 3", "Title #3"
	regexp.MustCompile(`^(.*?)[\s\p{Zs}]*[-–—_:|#~][\s\p{Zs}]*(\d+)[\s\p{Zs}]*$`),
	// "Title Part 3", "Title, ch. 3", "Title vol3"
	regexp.MustCompile(`(?i)^(.*?)[\s\p{Zs}\-–—_,:|]*\b(?:part|pt|page|pg|p|chapter|chap|ch|volume|vol|v|episode|ep)\.?[\s\p{Zs}]*(\d+)[\s\p{Zs}]*$`),
	// "Title 3"
	regexp.MustCompile(`^(.*?)[\s\p{Zs}]+(\d{1,3})[\s\p{Zs}]*$`),
	// "タイトル 第3話"
	regexp.MustCompile(`^(.*?)[\s\p{Zs}]*第[\s\p{Zs}]*(\d+)[\s\p{Zs}]*[話回章巻部][\s\p{Zs}]*$`),
	// "제목 3화"
	regexp.MustCompile(`^(.*?)[\s\p{Zs}]*(\d+)[\s\p{Zs}]*[화편장권][\s\p{Zs}]*$`),
}

var (
	whitespace = regexp.MustCompile(`[\s\p{Zs}]+`)
	numeric    = regexp.MustCompile(`^\d+$`)
)

// Title is a title string split into its base and trailing position.
type Title struct {
	Base     string
	Position *int
}

// Normalize splits a trailing page/chapter marker off a title. When no
// family matches the whole string is the base.
func Normalize(title string) Title {
	title = strings.TrimSpace(title)
	for _, re := range families {
		m := re.FindStringSubmatch(title)
		if m == nil {
			continue
		}
		pos, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		return Title{Base: collapse(m[1]), Position: &pos}
	}
	return Title{Base: collapse(title)}
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Group is a title-derived group membership.
type Group struct {
	SourceID string
	Base     string
	Position int
}

func (g Group) Key() domain.GroupKey {
	return domain.GroupKey{SourceType: domain.SourceTitle, SourceID: g.SourceID}
}

// SourceID hashes a base title into a stable group id.
func SourceID(base string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.ToLower(base)), 16)
}

// Parse builds the group for a single title, or nil when the base title is
// too short or purely numeric to be a meaningful cluster.
func Parse(title string) *Group {
	t := Normalize(title)
	if len([]rune(t.Base)) < minBaseLength || numeric.MatchString(t.Base) {
		return nil
	}

	g := &Group{SourceID: SourceID(t.Base), Base: t.Base}
	if t.Position != nil {
		g.Position = *t.Position
	}
	return g
}

// PageOverride returns the first "page" value that is a positive integer.
// Zero, negative and non-numeric values are ignored.
func PageOverride(pages []string) (int, bool) {
	for _, p := range pages {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// FromTags derives title groups from the raw tags of one item. A valid page
// tag overrides the position parsed from every title. Titles that hash to
// the same group keep the first occurrence.
func FromTags(tags []string) []Group {
	titles := tagparse.Values(tags, TitleNamespace)
	if len(titles) == 0 {
		return nil
	}
	page, hasPage := PageOverride(tagparse.Values(tags, PageNamespace))

	seen := make(map[string]struct{}, len(titles))
	var groups []Group
	for _, title := range titles {
		g := Parse(title)
		if g == nil {
			continue
		}
		if _, dup := seen[g.SourceID]; dup {
			continue
		}
		seen[g.SourceID] = struct{}{}
		if hasPage {
			g.Position = page
		}
		groups = append(groups, *g)
	}
	return groups
}
