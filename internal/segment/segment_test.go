package segment_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/resilience"
	"github.com/valpere/peredoc/internal/segment"
)

func makeUnits(n int) []internal.Unit {
	units := make([]internal.Unit, n)
	for i := range units {
		units[i] = internal.Unit{
			ID:             fmt.Sprintf("u%d", i),
			Index:          i,
			Text:           fmt.Sprintf("sentence %d.", i),
			ParagraphIndex: i / 3,
		}
	}
	return units
}

func upper(_ context.Context, units []internal.Unit) (*segment.Batch[string], error) {
	b := &segment.Batch[string]{
		Usage:   generation.Usage{InputTokens: len(units), OutputTokens: len(units)},
		History: []resilience.AttemptContext{{Stage: resilience.StagePrimary}},
	}
	for _, u := range units {
		b.Results = append(b.Results, strings.ToUpper(u.Text))
	}
	return b, nil
}

var trigger = resilience.AttemptContext{AttemptIndex: 2, Stage: resilience.StageSegment, UsingSegmentRetry: true}

func TestDecompose_CoverageAndOrder(t *testing.T) {
	for _, n := range []int{2, 3, 7, 80} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			units := makeUnits(n)
			got, err := segment.Decompose(context.Background(), units, trigger, upper, segment.Options[string]{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := make([]string, n)
			for i, u := range units {
				want[i] = strings.ToUpper(u.Text)
			}
			if diff := cmp.Diff(want, got.Results); diff != "" {
				t.Errorf("results mismatch (-want +got):\n%s", diff)
			}
			if got.Truncated {
				t.Error("decomposition must not be truncated")
			}
			if got.Pieces != 2 || len(got.History) != 2 {
				t.Errorf("expected 2 pieces with 2 history entries, got %d / %d", got.Pieces, len(got.History))
			}
			if got.Usage.InputTokens != n || got.Usage.TotalTokens != 2*n {
				t.Errorf("usage not summed: %+v", got.Usage)
			}
			if got.Trigger != trigger {
				t.Errorf("trigger not kept: %+v", got.Trigger)
			}
		})
	}
}

func TestDecompose_SplitsAtCeilMidpoint(t *testing.T) {
	var (
		mu    sync.Mutex
		sizes []int
	)
	process := func(ctx context.Context, units []internal.Unit) (*segment.Batch[string], error) {
		mu.Lock()
		sizes = append(sizes, len(units))
		mu.Unlock()
		return upper(ctx, units)
	}

	if _, err := segment.Decompose(context.Background(), makeUnits(5), trigger, process, segment.Options[string]{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sizes) != 2 || sizes[0]+sizes[1] != 5 || (sizes[0] != 3 && sizes[1] != 3) {
		t.Errorf("expected halves of 3 and 2, got %v", sizes)
	}
}

func TestDecompose_HalvesRunConcurrently(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	process := func(ctx context.Context, units []internal.Unit) (*segment.Batch[string], error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if n == 2 {
			close(release)
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return upper(ctx, units)
	}

	if _, err := segment.Decompose(context.Background(), makeUnits(4), trigger, process, segment.Options[string]{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak != 2 {
		t.Errorf("expected both halves in flight, peak was %d", peak)
	}
}

func TestDecompose_PieceFailure(t *testing.T) {
	boom := generation.Errorf(generation.KindIncomplete, "still too big")
	process := func(ctx context.Context, units []internal.Unit) (*segment.Batch[string], error) {
		if units[0].ID == "u0" {
			return nil, boom
		}
		return upper(ctx, units)
	}

	got, err := segment.Decompose(context.Background(), makeUnits(4), trigger, process, segment.Options[string]{})
	if got != nil {
		t.Fatalf("expected no decomposition, got %+v", got)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected piece error, got %v", err)
	}
}

func TestDecompose_DeeperSplitWhenAllowed(t *testing.T) {
	var calls int32
	process := func(ctx context.Context, units []internal.Unit) (*segment.Batch[string], error) {
		atomic.AddInt32(&calls, 1)
		if len(units) > 2 {
			return nil, generation.Errorf(generation.KindIncomplete, "too big")
		}
		return upper(ctx, units)
	}

	got, err := segment.Decompose(context.Background(), makeUnits(8), trigger, process, segment.Options[string]{MaxDepth: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Pieces != 4 || len(got.Results) != 8 {
		t.Errorf("expected 4 pieces covering 8 units, got %d pieces / %d results", got.Pieces, len(got.Results))
	}
	if calls != 6 {
		t.Errorf("expected 2 failed halves + 4 quarters = 6 calls, got %d", calls)
	}
}

func TestDecompose_Unsplittable(t *testing.T) {
	single := []internal.Unit{{ID: "u0", Text: "word"}}
	got, err := segment.Decompose(context.Background(), single, trigger, upper, segment.Options[string]{
		Join: func(internal.Unit, []internal.Unit, []string) (string, error) { return "", nil },
	})
	if got != nil || err != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", got, err)
	}

	got, err = segment.Decompose(context.Background(), nil, trigger, upper, segment.Options[string]{})
	if got != nil || err != nil {
		t.Errorf("expected (nil, nil) for empty batch, got (%v, %v)", got, err)
	}
}

func TestDecompose_SingleUnitSentences(t *testing.T) {
	unit := internal.Unit{ID: "u7", Index: 7, Text: "First part. Second part. Third part.", ParagraphIndex: 2}
	var seen []string
	process := func(ctx context.Context, units []internal.Unit) (*segment.Batch[string], error) {
		seen = append(seen, units[0].ID)
		return upper(ctx, units)
	}
	join := func(u internal.Unit, parts []internal.Unit, results []string) (string, error) {
		if u.ID != "u7" || len(parts) != len(results) {
			return "", fmt.Errorf("bad join input")
		}
		return segment.JoinSentences(results), nil
	}

	got, err := segment.Decompose(context.Background(), []internal.Unit{unit}, trigger, process, segment.Options[string]{Join: join})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"u7#0", "u7#1", "u7#2"}, seen); diff != "" {
		t.Errorf("sub-unit order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"FIRST PART. SECOND PART. THIRD PART."}, got.Results); diff != "" {
		t.Errorf("joined result mismatch (-want +got):\n%s", diff)
	}
	if len(got.History) != 3 {
		t.Errorf("expected 3 sub-call histories, got %d", len(got.History))
	}
}

func TestDecompose_WrongResultCount(t *testing.T) {
	process := func(context.Context, []internal.Unit) (*segment.Batch[string], error) {
		return &segment.Batch[string]{Results: []string{"only one"}}, nil
	}
	_, err := segment.Decompose(context.Background(), makeUnits(4), trigger, process, segment.Options[string]{})
	if generation.KindOf(err) != generation.KindSchemaValidation {
		t.Errorf("expected schema_validation error, got %v", err)
	}
}

func TestDecompose_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	process := func(ctx context.Context, units []internal.Unit) (*segment.Batch[string], error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := segment.Decompose(ctx, makeUnits(2), trigger, process, segment.Options[string]{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSplitUnit(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"sentences", "One here. Two here!", []string{"One here.", "Two here!"}},
		{"clauses", "one part, other part", []string{"one part,", "other part"}},
		{"halves", "alpha beta gamma delta", []string{"alpha beta", "gamma delta"}},
		{"unsplittable", "word", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := segment.SplitUnit(internal.Unit{ID: "x", Index: 4, Text: tt.text, ParagraphIndex: 1})
			var texts []string
			for i, p := range parts {
				texts = append(texts, p.Text)
				if p.ID != fmt.Sprintf("x#%d", i) || p.Index != 4 || p.ParagraphIndex != 1 {
					t.Errorf("part %d has wrong identity: %+v", i, p)
				}
				if p.SentenceIndex == nil || *p.SentenceIndex != i {
					t.Errorf("part %d has wrong sentence index", i)
				}
			}
			if diff := cmp.Diff(tt.want, texts); diff != "" {
				t.Errorf("parts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeText(t *testing.T) {
	units := []internal.Unit{
		{ID: "a", ParagraphIndex: 0},
		{ID: "b", ParagraphIndex: 0},
		{ID: "c", ParagraphIndex: 1},
		{ID: "d", ParagraphIndex: 1},
		{ID: "e", ParagraphIndex: 2},
	}

	tests := []struct {
		name  string
		texts []string
		want  string
	}{
		{"breaks", []string{"A", "B", "C", "D", "E"}, "A\nB\n\nC\nD\n\nE"},
		{"skip empty", []string{"A", "", "C", "  ", "E"}, "A\n\nC\n\nE"},
		{"leading empty", []string{"", "B", "C", "D", ""}, "B\n\nC\nD"},
		{"all empty", []string{"", "", "", "", ""}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := segment.MergeText(units, tt.texts); got != tt.want {
				t.Errorf("MergeText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedistribute(t *testing.T) {
	parts := []internal.Unit{
		{Text: "aaaaaaaaaa"},
		{Text: "bbbbbbbbbb"},
		{Text: "cccccccccccccccccccc"},
	}
	combined := "one two three four five six seven eight nine ten eleven twelve"

	got := segment.Redistribute(combined, parts)
	if len(got) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(got))
	}
	if diff := cmp.Diff(strings.Fields(combined), strings.Fields(strings.Join(got, " "))); diff != "" {
		t.Errorf("words lost or cut (-want +got):\n%s", diff)
	}
	if len(got[2]) <= len(got[0]) {
		t.Errorf("expected the larger part to receive more text: %q", got)
	}

	if got := segment.Redistribute("whole", parts[:1]); !cmp.Equal(got, []string{"whole"}) {
		t.Errorf("single part should take everything, got %q", got)
	}
	if got := segment.Redistribute("abc", nil); got != nil {
		t.Errorf("expected nil for no parts, got %q", got)
	}
}

func TestJoinSentences(t *testing.T) {
	if got := segment.JoinSentences([]string{"One.", " Two. ", ""}); got != "One. Two." {
		t.Errorf("got %q", got)
	}
	if got := segment.JoinSentences([]string{"今日は晴れ。", "明日は雨。"}); got != "今日は晴れ。明日は雨。" {
		t.Errorf("got %q", got)
	}
}
