package hydrus

import (
	"bytes"
	"encoding/json"
)

// SearchResponse is the body of /get_files/search_files.
type SearchResponse struct {
	FileIDs []int64 `json:"file_ids"`
}

// MetadataResponse is the body of /get_files/file_metadata. Entries are kept
// raw so a single malformed file does not fail the whole batch.
type MetadataResponse struct {
	Metadata []json.RawMessage `json:"metadata"`
}

// FileMetadata holds the fields with a stable shape. Tags, urls, services
// and notes vary between client versions and are parsed by hand.
type FileMetadata struct {
	FileID         int64           `json:"file_id"`
	Hash           string          `json:"hash"`
	Size           *int64          `json:"size"`
	Mime           string          `json:"mime"`
	Width          *int            `json:"width"`
	Height         *int            `json:"height"`
	Duration       *float64        `json:"duration"`
	PerceptualHash *string         `json:"perceptual_hash"`
	KnownURLs      json.RawMessage `json:"known_urls"`
	FileServices   json.RawMessage `json:"file_services"`
	Tags           json.RawMessage `json:"tags"`
	Notes          json.RawMessage `json:"notes"`
}

type serviceFileInfo struct {
	TimeImported *float64 `json:"time_imported"`
}

type serviceTags struct {
	DisplayTags json.RawMessage `json:"display_tags"`
}

type objectEntry struct {
	Key   string
	Value json.RawMessage
}

// objectEntries returns the members of a JSON object in document order.
// Anything that is not an object yields nil.
func objectEntries(raw json.RawMessage) []objectEntry {
	if len(raw) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var entries []objectEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return entries
		}
		key, ok := tok.(string)
		if !ok {
			return entries
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return entries
		}
		entries = append(entries, objectEntry{Key: key, Value: value})
	}
	return entries
}
