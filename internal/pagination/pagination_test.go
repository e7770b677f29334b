package pagination_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/pagination"
	"github.com/valpere/peredoc/internal/resilience"
	"github.com/valpere/peredoc/internal/segment"
)

func TestCursor_RoundTrip(t *testing.T) {
	for _, stage := range []string{"profile", "draft", "revise", "proofread", "Draft", "stage.2", "проверка"} {
		for _, page := range []int{0, 1, 7, 123456789} {
			got := pagination.Parse(pagination.PageCursor(stage, page))
			want := &pagination.Cursor{Stage: stage, Page: page}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip %s/%d (-want +got):\n%s", stage, page, diff)
			}
			if got.String() != pagination.PageCursor(stage, page) {
				t.Errorf("String() = %q", got.String())
			}
		}
	}

	hash := pagination.ContentHash("some text")
	got := pagination.Parse(pagination.HashCursor("draft", hash))
	if got == nil || got.Hash != hash || got.Stage != "draft" {
		t.Errorf("hash cursor did not round trip: %+v", got)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, s := range []string{
		"",
		"draft",
		":1",
		"draft:",
		"dr aft:1",
		"draft:-1",
		"draft:1.5",
		"draft:1234567890",
		"draft:abc",
		"draft:0123456789ABCDEF",
		"draft:1:2",
	} {
		if got := pagination.Parse(s); got != nil {
			t.Errorf("Parse(%q) = %+v, want nil", s, got)
		}
	}
}

func TestParseFor(t *testing.T) {
	if pagination.ParseFor("revise", "draft:2") != nil {
		t.Error("expected nil for a cursor of another stage")
	}
	if c := pagination.ParseFor("draft", "draft:2"); c == nil || c.Page != 2 {
		t.Errorf("unexpected cursor %+v", c)
	}
}

func TestPaginate_Shape(t *testing.T) {
	items := make([]pagination.Item, 7)
	for i := range items {
		items[i] = pagination.Item{ChunkID: fmt.Sprintf("c%d", i), Text: fmt.Sprintf("text %d", i)}
	}

	pages := pagination.Paginate("proofread", items, pagination.Options{PageSize: 3, Forced: true, DownshiftCount: 2})
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for i, p := range pages {
		if len(p.SegmentHashes) != len(p.Items) {
			t.Errorf("page %d: %d hashes for %d items", i, len(p.SegmentHashes), len(p.Items))
		}
		if !p.Metrics.ForcedPagination || p.Metrics.DownshiftCount != 2 {
			t.Errorf("page %d metrics not propagated: %+v", i, p.Metrics)
		}
	}
	if len(pages[2].Items) != 1 || pages[2].HasMore || pages[2].NextCursor != "" {
		t.Errorf("unexpected final page: %+v", pages[2])
	}

	empty := pagination.Paginate("draft", nil, pagination.Options{})
	if len(empty) != 1 || empty[0].HasMore || empty[0].NextCursor != "" || len(empty[0].Items) != 0 {
		t.Errorf("expected one empty final page, got %+v", empty)
	}
}

func TestResume(t *testing.T) {
	items := make([]pagination.Item, 5)
	for i := range items {
		items[i] = pagination.Item{ChunkID: fmt.Sprintf("c%d", i), Text: fmt.Sprintf("t%d", i)}
	}
	pages := pagination.Paginate("draft", items, pagination.Options{PageSize: 2})

	tests := []struct {
		name      string
		cursor    *pagination.Cursor
		wantFirst string
		wantErr   error
	}{
		{"start", nil, "c0", nil},
		{"page", pagination.Parse(pages[0].NextCursor), "c2", nil},
		{"hash mid page", &pagination.Cursor{Stage: "draft", Hash: items[2].Hash()}, "c3", nil},
		{"hash page end", &pagination.Cursor{Stage: "draft", Hash: items[1].Hash()}, "c2", nil},
		{"hash last item", &pagination.Cursor{Stage: "draft", Hash: items[4].Hash()}, "", pagination.ErrCursorRange},
		{"unknown hash", &pagination.Cursor{Stage: "draft", Hash: "0000000000000000"}, "", pagination.ErrCursorHash},
		{"out of range", &pagination.Cursor{Stage: "draft", Page: 9}, "", pagination.ErrCursorRange},
		{"other stage", &pagination.Cursor{Stage: "revise", Page: 0}, "", pagination.ErrCursorStage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := pagination.Resume(pages, tt.cursor)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if err != nil {
				return
			}
			if page.Items[0].ChunkID != tt.wantFirst {
				t.Errorf("first item = %s, want %s", page.Items[0].ChunkID, tt.wantFirst)
			}
			if len(page.Items) != len(page.SegmentHashes) {
				t.Errorf("hashes not aligned after resume")
			}
		})
	}
}

func TestTracker(t *testing.T) {
	tr := pagination.NewTracker(0)
	if n := tr.Observe("job1", "draft:1"); n != 0 {
		t.Errorf("first observation = %d, want 0", n)
	}
	if n := tr.Observe("job1", "draft:1"); n != 1 {
		t.Errorf("replay = %d, want 1", n)
	}
	if n := tr.Observe("job2", "draft:1"); n != 0 {
		t.Errorf("other key = %d, want 0", n)
	}
}

func TestTracker_Bounded(t *testing.T) {
	tr := pagination.NewTracker(2)
	tr.Observe("job1", "draft:1")
	tr.Observe("job1", "draft:1")
	tr.Observe("job1", "draft:2")
	tr.Observe("job1", "draft:3")

	if n := tr.Observe("job1", "draft:1"); n != 0 {
		t.Errorf("evicted cursor = %d, want 0", n)
	}
	if n := tr.Observe("job1", "draft:3"); n != 1 {
		t.Errorf("recent cursor = %d, want 1", n)
	}
}

func TestForcedFrom(t *testing.T) {
	tests := []struct {
		name      string
		truncated bool
		metrics   resilience.Metrics
		want      bool
	}{
		{"clean", false, resilience.Metrics{RateLimitRetries: 3}, false},
		{"truncated", true, resilience.Metrics{}, true},
		{"recovered truncation", false, resilience.Metrics{IncompleteResponses: 1}, true},
		{"parse failure", false, resilience.Metrics{ParseFailures: 1}, true},
		{"segment recovered", false, resilience.Metrics{SegmentRetryUsed: true}, true},
	}
	for _, tt := range tests {
		if got := pagination.ForcedFrom(tt.truncated, tt.metrics); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEndToEnd_EightyUnits(t *testing.T) {
	const stage = "draft"
	units := make([]internal.Unit, 80)
	texts := make([]string, 80)
	for i := range units {
		units[i] = internal.Unit{ID: fmt.Sprintf("u%02d", i), Index: i, ParagraphIndex: i / 4}
		texts[i] = fmt.Sprintf("Translated sentence number %d of the document.", i)
	}

	merged := segment.MergeText(units, texts)
	items := pagination.ChunkText(stage, merged, 300)
	pages := pagination.Paginate(stage, items, pagination.Options{PageSize: 5})

	if len(pages) < 2 {
		t.Fatalf("expected ≥2 pages, got %d", len(pages))
	}

	seen := make(map[string]bool)
	var rebuilt []string
	for i, p := range pages {
		last := i == len(pages)-1
		if last {
			if p.HasMore || p.NextCursor != "" {
				t.Errorf("final page: has_more=%v cursor=%q", p.HasMore, p.NextCursor)
			}
		} else {
			if !p.HasMore || p.NextCursor != pagination.PageCursor(stage, i+1) {
				t.Errorf("page %d: has_more=%v cursor=%q", i, p.HasMore, p.NextCursor)
			}
			if c := pagination.Parse(p.NextCursor); c == nil || c.Page != i+1 || c.Stage != stage {
				t.Errorf("page %d: cursor does not parse back: %+v", i, c)
			}
		}
		for _, it := range p.Items {
			if seen[it.ChunkID] {
				t.Errorf("duplicate chunk id %s", it.ChunkID)
			}
			seen[it.ChunkID] = true
			rebuilt = append(rebuilt, it.Text)
		}
	}

	if diff := cmp.Diff(strings.Fields(merged), strings.Fields(strings.Join(rebuilt, " "))); diff != "" {
		t.Errorf("pages lost text (-want +got):\n%s", diff)
	}
}
