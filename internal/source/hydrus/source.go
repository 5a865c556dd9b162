package hydrus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"media_syncer/internal/domain"
)

const (
	SourceID   = "hydrus"
	SourceName = "Hydrus Network"

	accessKeyHeader = "Hydrus-Client-API-Access-Key"
	// currentStatus is the tag status meaning "currently applied".
	currentStatus = "0"
	systemPrefix  = "system:"
)

// Config holds Hydrus client configuration.
type Config struct {
	BaseURL        string
	AccessKey      string
	Timeout        time.Duration
	RateLimit      float64
	RateBurst      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source implements service.Source for the Hydrus Client API.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	accessKey      string
	limiter        *rate.Limiter
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a new Hydrus source.
func New(cfg Config, logger *slog.Logger) *Source {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		accessKey:      cfg.AccessKey,
		limiter:        rate.NewLimiter(limit, burst),
		maxAttempts:    attempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (s *Source) ID() string {
	return SourceID
}

// Name returns human-readable name.
func (s *Source) Name() string {
	return SourceName
}

// ListFileIDs returns the ids of every file matching the tag search, in the
// order the client reports them.
func (s *Source) ListFileIDs(ctx context.Context, tags []string) ([]int64, error) {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode search tags: %w", err)
	}

	q := url.Values{}
	q.Set("tags", string(encoded))

	var resp SearchResponse
	if err := s.get(ctx, "/get_files/search_files", q, &resp); err != nil {
		return nil, fmt.Errorf("search files: %w", err)
	}

	s.logger.Debug("listed files", "count", len(resp.FileIDs))
	return resp.FileIDs, nil
}

// FetchMetadata fetches full metadata for the given ids. Entries that cannot
// be decoded are logged and left out.
func (s *Source) FetchMetadata(ctx context.Context, ids []int64) ([]domain.RemoteFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode file ids: %w", err)
	}

	q := url.Values{}
	q.Set("file_ids", string(encoded))
	q.Set("include_notes", "true")

	var resp MetadataResponse
	if err := s.get(ctx, "/get_files/file_metadata", q, &resp); err != nil {
		return nil, fmt.Errorf("file metadata: %w", err)
	}

	return s.transform(resp.Metadata), nil
}

func (s *Source) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := s.baseURL + path + "?" + query.Encode()

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := s.doRequest(ctx, endpoint, out)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, s.newBackOff(ctx), func(err error, wait time.Duration) {
		s.logger.Warn("request failed, retrying",
			"path", path,
			"attempt", attempts,
			"backoff", wait,
			"error", err,
		)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

// newBackOff doubles from initialBackoff up to maxBackoff without jitter and
// allows maxAttempts tries in total.
func (s *Source) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.maxBackoff
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)
}

// StatusError is returned for a non-200 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// Retryable reports whether the request may succeed when repeated. Client
// errors other than 429 are final.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func (s *Source) doRequest(ctx context.Context, endpoint string, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "MediaSyncer/1.0")
	if s.accessKey != "" {
		req.Header.Set(accessKeyHeader, s.accessKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (s *Source) transform(entries []json.RawMessage) []domain.RemoteFile {
	files := make([]domain.RemoteFile, 0, len(entries))

	for i, raw := range entries {
		var m FileMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("failed to decode file metadata",
				"index", i,
				"error", err,
			)
			continue
		}
		if m.Hash == "" {
			s.logger.Warn("file metadata without hash", "file_id", m.FileID)
			continue
		}

		files = append(files, toRemoteFile(m))
	}

	return files
}

func toRemoteFile(m FileMetadata) domain.RemoteFile {
	f := domain.RemoteFile{
		FileID:   m.FileID,
		Hash:     strings.ToLower(m.Hash),
		Mime:     m.Mime,
		PHash:    m.PerceptualHash,
		Tags:     extractTags(m.Tags),
		URLs:     extractStrings(m.KnownURLs),
		Services: extractServices(m.FileServices),
		Notes:    extractNotes(m.Notes),
	}
	if m.Size != nil {
		f.Size = *m.Size
	}
	if m.Width != nil {
		f.Width = *m.Width
	}
	if m.Height != nil {
		f.Height = *m.Height
	}
	if m.Duration != nil {
		f.Duration = int(*m.Duration)
	}
	return f
}

// extractTags unions the currently applied display tags of every service.
// Missing or mistyped structures contribute nothing. Tags are deduplicated
// case-insensitively keeping the first spelling, and system tags are dropped.
func extractTags(raw json.RawMessage) []string {
	seen := make(map[string]struct{})
	var tags []string

	for _, svc := range objectEntries(raw) {
		var st serviceTags
		if err := json.Unmarshal(svc.Value, &st); err != nil {
			continue
		}

		for _, status := range objectEntries(st.DisplayTags) {
			if status.Key != currentStatus {
				continue
			}

			var values []any
			if err := json.Unmarshal(status.Value, &values); err != nil {
				continue
			}

			for _, v := range values {
				tag, ok := v.(string)
				if !ok {
					continue
				}
				tag = strings.TrimSpace(tag)
				lower := strings.ToLower(tag)
				if tag == "" || strings.HasPrefix(lower, systemPrefix) {
					continue
				}
				if _, dup := seen[lower]; dup {
					continue
				}
				seen[lower] = struct{}{}
				tags = append(tags, tag)
			}
		}
	}

	return tags
}

func extractStrings(raw json.RawMessage) []string {
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	var out []string
	for _, v := range values {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// extractServices reads file_services.current in document order.
func extractServices(raw json.RawMessage) []domain.ServiceImport {
	var current json.RawMessage
	for _, e := range objectEntries(raw) {
		if e.Key == "current" {
			current = e.Value
			break
		}
	}

	var services []domain.ServiceImport
	for _, e := range objectEntries(current) {
		svc := domain.ServiceImport{ServiceKey: e.Key}

		var info serviceFileInfo
		if err := json.Unmarshal(e.Value, &info); err == nil && info.TimeImported != nil && *info.TimeImported > 0 {
			t := time.Unix(int64(*info.TimeImported), 0).UTC()
			svc.ImportedAt = &t
		}
		services = append(services, svc)
	}
	return services
}

func extractNotes(raw json.RawMessage) []domain.RemoteNote {
	var notes []domain.RemoteNote
	for _, e := range objectEntries(raw) {
		var text string
		if err := json.Unmarshal(e.Value, &text); err != nil {
			continue
		}
		notes = append(notes, domain.RemoteNote{Name: e.Key, Text: text})
	}
	return notes
}
