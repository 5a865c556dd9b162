package domain

import "fmt"

type TagCategory string

const (
	CategoryGeneral   TagCategory = "general"
	CategoryArtist    TagCategory = "artist"
	CategoryCharacter TagCategory = "character"
	CategoryCopyright TagCategory = "copyright"
	CategoryMeta      TagCategory = "meta"
)

var validCategories = map[TagCategory]struct{}{
	CategoryGeneral:   {},
	CategoryArtist:    {},
	CategoryCharacter: {},
	CategoryCopyright: {},
	CategoryMeta:      {},
}

func (c TagCategory) Valid() bool {
	_, ok := validCategories[c]
	return ok
}

type Tag struct {
	ID        int64       `db:"id"`
	Name      string      `db:"name"`
	Category  TagCategory `db:"category"`
	PostCount int64       `db:"post_count"`
}

// TagKey is the natural key of a tag row.
type TagKey struct {
	Name     string
	Category TagCategory
}

func (k TagKey) String() string {
	return fmt.Sprintf("%s:%s", k.Category, k.Name)
}

type SourceType string

const (
	SourcePixiv      SourceType = "pixiv"
	SourceTwitter    SourceType = "twitter"
	SourceDeviantArt SourceType = "deviantart"
	SourceDanbooru   SourceType = "danbooru"
	SourceGelbooru   SourceType = "gelbooru"
	SourceTitle      SourceType = "title"
	SourceOther      SourceType = "other"
)

// SourceOther is not storable; it only names URLs nothing recognized.
var validSourceTypes = map[SourceType]struct{}{
	SourcePixiv:      {},
	SourceTwitter:    {},
	SourceDeviantArt: {},
	SourceDanbooru:   {},
	SourceGelbooru:   {},
	SourceTitle:      {},
}

func (t SourceType) Valid() bool {
	_, ok := validSourceTypes[t]
	return ok
}

type Group struct {
	ID         int64      `db:"id"`
	SourceType SourceType `db:"source_type"`
	SourceID   string     `db:"source_id"`
}

// GroupKey is the natural key of a group row.
type GroupKey struct {
	SourceType SourceType
	SourceID   string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s:%s", k.SourceType, k.SourceID)
}
