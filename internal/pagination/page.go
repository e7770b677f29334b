package pagination

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/valpere/peredoc/internal/chunker"
	"github.com/valpere/peredoc/internal/resilience"
)

// DefaultPageSize is the number of items per page when none is configured.
const DefaultPageSize = 20

var (
	ErrCursorStage = errors.New("pagination: cursor belongs to another stage")
	ErrCursorRange = errors.New("pagination: cursor out of range")
	ErrCursorHash  = errors.New("pagination: cursor hash not found")
)

// Item is one delivered piece of stage output.
type Item struct {
	ChunkID string          `json:"chunk_id"`
	Text    string          `json:"text,omitempty"`
	UnitIDs []string        `json:"unit_ids,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hash is the content hash of the item.
func (it Item) Hash() string {
	return ContentHash(it.Text, string(it.Data))
}

// Metrics describes how a page came to be.
type Metrics struct {
	DownshiftCount int `json:"downshift_count"`
	// ForcedPagination is true when pagination was the recovery path for a
	// truncated or malformed result rather than a caller request.
	ForcedPagination bool `json:"forced_pagination"`
	CursorRetryCount int  `json:"cursor_retry_count"`
}

// Page is the delivery envelope. NextCursor is empty on the final page and
// SegmentHashes is aligned 1:1 with Items.
type Page struct {
	Stage         string   `json:"stage"`
	Index         int      `json:"index"`
	Items         []Item   `json:"items"`
	HasMore       bool     `json:"has_more"`
	NextCursor    string   `json:"next_cursor"`
	SegmentHashes []string `json:"segment_hashes"`
	Metrics       Metrics  `json:"metrics"`
}

// Options controls Paginate.
type Options struct {
	PageSize       int
	Forced         bool
	DownshiftCount int
}

// ForcedFrom reports whether a stage result must be paginated as a recovery
// path: the result was truncated, or truncation, parse failures or
// decomposition were seen on the way to it.
func ForcedFrom(truncated bool, m resilience.Metrics) bool {
	return truncated || m.IncompleteResponses > 0 || m.ParseFailures > 0 || m.SegmentRetryUsed
}

// ChunkText splits merged text into items of at most size runes, cut at
// paragraph, sentence or word boundaries.
func ChunkText(stage, text string, size int) []Item {
	if text == "" {
		return nil
	}
	chunks := chunker.Chunk(text, size)
	items := make([]Item, 0, len(chunks))
	for i, c := range chunks {
		items = append(items, Item{
			ChunkID: fmt.Sprintf("%s-%04d-%s", stage, i, ContentHash(c)[:8]),
			Text:    c,
		})
	}
	return items
}

// Paginate groups items into pages. There is always at least one page.
func Paginate(stage string, items []Item, opts Options) []Page {
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	count := (len(items) + size - 1) / size
	if count == 0 {
		count = 1
	}

	pages := make([]Page, 0, count)
	for i := 0; i < count; i++ {
		lo := i * size
		hi := min(lo+size, len(items))
		page := Page{
			Stage:         stage,
			Index:         i,
			Items:         append([]Item{}, items[lo:hi]...),
			HasMore:       i < count-1,
			SegmentHashes: make([]string, 0, hi-lo),
			Metrics: Metrics{
				DownshiftCount:   opts.DownshiftCount,
				ForcedPagination: opts.Forced,
			},
		}
		for _, it := range page.Items {
			page.SegmentHashes = append(page.SegmentHashes, it.Hash())
		}
		if page.HasMore {
			page.NextCursor = PageCursor(stage, i+1)
		}
		pages = append(pages, page)
	}
	return pages
}

// Resume returns the page a cursor points at. A nil cursor starts at the
// first page. A hash cursor resumes right after the item with that hash, so
// the returned page may be a tail of a stored page.
func Resume(pages []Page, c *Cursor) (*Page, error) {
	if len(pages) == 0 {
		return nil, ErrCursorRange
	}
	if c == nil {
		p := pages[0]
		return &p, nil
	}
	if c.Stage != pages[0].Stage {
		return nil, ErrCursorStage
	}

	if c.Hash == "" {
		if c.Page < 0 || c.Page >= len(pages) {
			return nil, ErrCursorRange
		}
		p := pages[c.Page]
		return &p, nil
	}

	for pi, p := range pages {
		for j, h := range p.SegmentHashes {
			if h != c.Hash {
				continue
			}
			if j == len(p.Items)-1 {
				if pi+1 >= len(pages) {
					return nil, ErrCursorRange
				}
				next := pages[pi+1]
				return &next, nil
			}
			tail := p
			tail.Items = p.Items[j+1:]
			tail.SegmentHashes = p.SegmentHashes[j+1:]
			return &tail, nil
		}
	}
	return nil, ErrCursorHash
}

// DefaultTrackerSize bounds the number of cursors a Tracker remembers.
const DefaultTrackerSize = 4096

// Tracker counts how often the same cursor is requested again for a
// resource, which surfaces as cursor_retry_count. Only the most recently
// requested cursors are remembered; an evicted cursor counts from zero.
type Tracker struct {
	mu   sync.Mutex
	seen *simplelru.LRU[string, int]
}

// NewTracker returns an empty tracker remembering up to size cursors, or
// DefaultTrackerSize when size is not positive.
func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = DefaultTrackerSize
	}
	seen, _ := simplelru.NewLRU[string, int](size, nil)
	return &Tracker{seen: seen}
}

// Observe records a request for cursor on key and returns how many times it
// had been requested before.
func (t *Tracker) Observe(key, cursor string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key + "|" + cursor
	n, _ := t.seen.Get(k)
	t.seen.Add(k, n+1)
	return n
}
