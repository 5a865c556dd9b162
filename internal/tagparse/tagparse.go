// Package tagparse splits raw namespaced tag strings into a category and a
// storage name.
package tagparse

import (
	"strings"

	"media_syncer/internal/domain"
)

const separator = ":"

var namespaceCategories = map[string]domain.TagCategory{
	"artist":    domain.CategoryArtist,
	"creator":   domain.CategoryArtist,
	"drawn_by":  domain.CategoryArtist,
	"author":    domain.CategoryArtist,
	"character": domain.CategoryCharacter,
	"char":      domain.CategoryCharacter,
	"person":    domain.CategoryCharacter,
	"copyright": domain.CategoryCopyright,
	"series":    domain.CategoryCopyright,
	"parody":    domain.CategoryCopyright,
	"franchise": domain.CategoryCopyright,
	"meta":      domain.CategoryMeta,
	"medium":    domain.CategoryMeta,
	"rating":    domain.CategoryMeta,
	"source":    domain.CategoryMeta,
}

// Parsed is a raw tag split on its first namespace separator.
type Parsed struct {
	Namespace string
	Name      string
	Category  domain.TagCategory
	Original  string
}

// Parse never fails. Input without a separator, or with a namespace that
// has no alias, is a general tag.
func Parse(raw string) Parsed {
	p := Parsed{
		Name:     strings.TrimSpace(raw),
		Category: domain.CategoryGeneral,
		Original: raw,
	}

	ns, rest, found := strings.Cut(raw, separator)
	if !found {
		return p
	}

	p.Namespace = strings.ToLower(strings.TrimSpace(ns))
	p.Name = strings.TrimSpace(rest)
	if category, ok := namespaceCategories[p.Namespace]; ok {
		p.Category = category
	}
	return p
}

// Key reduces a parsed tag to its storage pair. General tags keep the whole
// original string so sub-namespaced tags like "clothing:dress" stay distinct.
func (p Parsed) Key() domain.TagKey {
	if p.Category == domain.CategoryGeneral {
		return domain.TagKey{Name: strings.TrimSpace(p.Original), Category: domain.CategoryGeneral}
	}
	return domain.TagKey{Name: p.Name, Category: p.Category}
}

// Normalize is Parse followed by Key.
func Normalize(raw string) domain.TagKey {
	return Parse(raw).Key()
}

// Values returns the names of every tag in the given namespace, in order.
func Values(tags []string, namespace string) []string {
	namespace = strings.ToLower(namespace)
	var values []string
	for _, raw := range tags {
		p := Parse(raw)
		if p.Namespace == namespace && p.Name != "" {
			values = append(values, p.Name)
		}
	}
	return values
}
