// Package sourceurl recognizes artwork URLs from known sites and maps them to
// a (source type, source id) pair, and back to a canonical URL.
package sourceurl

import (
	"regexp"
	"strconv"
	"strings"

	"media_syncer/internal/domain"
)

// Match is a recognized source. Position is set when the URL also encodes
// a page within the work (for example a pixiv "_p3" asset).
type Match struct {
	Type     domain.SourceType
	ID       string
	Position *int
}

func (m Match) Key() domain.GroupKey {
	return domain.GroupKey{SourceType: m.Type, SourceID: m.ID}
}

// pattern captures the source id in group 1. positionGroup is the capture
// index of the page number, 0 when the pattern has none.
type pattern struct {
	re            *regexp.Regexp
	positionGroup int
	decode        func(string) (string, bool)
}

type rule struct {
	sourceType domain.SourceType
	patterns   []pattern
}

var rules = []rule{
	{
		sourceType: domain.SourcePixiv,
		patterns: []pattern{
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.)?pixiv\.net/(?:[a-z]{2}(?:-[a-z]{2})?/)?artworks/(\d+)`)},
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.)?pixiv\.net/member_illust\.php\?(?:[^#]*&)?illust_id=(\d+)`)},
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.)?pixiv\.net/i/(\d+)`)},
			{
				re:            regexp.MustCompile(`(?i)^https?://i\.pximg\.net/(?:c/[^/]+/)?(?:img-original|img-master|custom-thumb|img-zip-ugoira)/img/(?:\d+/){6}(\d+)(?:_p(\d+))?`),
				positionGroup: 2,
			},
		},
	},
	{
		// twimg media URLs carry no status id and are deliberately absent.
		sourceType: domain.SourceTwitter,
		patterns: []pattern{
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/i/(?:web/)?status/(\d+)`)},
			{
				re:            regexp.MustCompile(`(?i)^https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/[A-Za-z0-9_]+/status(?:es)?/(\d+)(?:/photo/(\d+))?`),
				positionGroup: 2,
			},
		},
	},
	{
		sourceType: domain.SourceDeviantArt,
		patterns: []pattern{
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.)?deviantart\.com/[^/]+/art/(?:[^/?#]*-)?(\d+)`)},
			{re: regexp.MustCompile(`(?i)^https?://[a-z0-9-]+\.deviantart\.com/art/(?:[^/?#]*-)?(\d+)`)},
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.)?deviantart\.com/deviation/(\d+)`)},
			{re: regexp.MustCompile(`(?i)^https?://fav\.me/d([0-9a-z]+)`), decode: decodeBase36},
		},
	},
	{
		sourceType: domain.SourceDanbooru,
		patterns: []pattern{
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.)?danbooru\.donmai\.us/posts/(\d+)`)},
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.)?danbooru\.donmai\.us/post/show/(\d+)`)},
		},
	},
	{
		sourceType: domain.SourceGelbooru,
		patterns: []pattern{
			{re: regexp.MustCompile(`(?i)^https?://(?:www\.)?gelbooru\.com/index\.php\?(?:[^#]*&)?id=(\d+)`)},
		},
	},
}

func decodeBase36(s string) (string, bool) {
	n, err := strconv.ParseUint(strings.ToLower(s), 36, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(n, 10), true
}

// Resolve returns the first rule alternative matching url, or nil.
func Resolve(url string) *Match {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}

	for _, r := range rules {
		for _, p := range r.patterns {
			m := p.re.FindStringSubmatch(url)
			if m == nil {
				continue
			}

			id := m[1]
			if p.decode != nil {
				decoded, ok := p.decode(id)
				if !ok {
					continue
				}
				id = decoded
			}

			match := &Match{Type: r.sourceType, ID: id}
			if p.positionGroup > 0 && p.positionGroup < len(m) && m[p.positionGroup] != "" {
				if pos, err := strconv.Atoi(m[p.positionGroup]); err == nil {
					match.Position = &pos
				}
			}
			return match
		}
	}
	return nil
}

// ResolveAll resolves every URL and drops repeats of the same (type, id),
// keeping the first occurrence.
func ResolveAll(urls []string) []Match {
	seen := make(map[domain.GroupKey]struct{})
	var matches []Match
	for _, u := range urls {
		m := Resolve(u)
		if m == nil {
			continue
		}
		if _, dup := seen[m.Key()]; dup {
			continue
		}
		seen[m.Key()] = struct{}{}
		matches = append(matches, *m)
	}
	return matches
}

// Canonical builds the canonical URL for a known source. Unknown types,
// including title groups, have none.
func Canonical(sourceType domain.SourceType, id string) string {
	switch sourceType {
	case domain.SourcePixiv:
		return "https://www.pixiv.net/artworks/" + id
	case domain.SourceTwitter:
		return "https://twitter.com/i/status/" + id
	case domain.SourceDeviantArt:
		return "https://www.deviantart.com/deviation/" + id
	case domain.SourceDanbooru:
		return "https://danbooru.donmai.us/posts/" + id
	case domain.SourceGelbooru:
		return "https://gelbooru.com/index.php?page=post&s=view&id=" + id
	default:
		return ""
	}
}
