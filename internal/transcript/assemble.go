package transcript

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"
	"voxagent/pkg/model"
)

// MinSegmentRunes is the shortest text kept after cleaning
const MinSegmentRunes = 3

// DefaultMergeGap is the largest pause, in seconds, that joins two segments
const DefaultMergeGap = 0.6

// Cleaner normalizes segment text and drops noise
type Cleaner struct {
	noise map[string]struct{}
}

func NewCleaner(noiseTokens []string) *Cleaner {
	noise := make(map[string]struct{}, len(noiseTokens))
	for _, t := range noiseTokens {
		noise[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &Cleaner{noise: noise}
}

// Clean collapses whitespace and returns "" for noise or too short text
func (c *Cleaner) Clean(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if _, ok := c.noise[strings.ToLower(t)]; ok {
		return ""
	}
	if utf8.RuneCountInString(t) < MinSegmentRunes {
		return ""
	}
	return t
}

// ChannelOutput is the recognizer artifact of one channel
type ChannelOutput struct {
	Speaker string
	// Timed is set when Content is SubRip
	Timed   bool
	Content string
}

type Options struct {
	MergeGap   float64
	MaxTextLen int
	Cleaner    *Cleaner
}

// Assemble builds the ordered, cleaned and merged segments of a job and the
// full transcript text.
func Assemble(outputs []ChannelOutput, opts Options) ([]model.Segment, string) {
	var segs []model.Segment
	for _, out := range outputs {
		if out.Timed {
			if parsed := ParseSRT(out.Content, out.Speaker); len(parsed) > 0 {
				segs = append(segs, parsed...)
				continue
			}
		}
		plain := strings.TrimSpace(out.Content)
		if out.Timed {
			plain = SRTPlainText(out.Content)
		}
		if plain != "" {
			segs = append(segs, model.Segment{Speaker: out.Speaker, Text: plain})
		}
	}

	cleaner := opts.Cleaner
	if cleaner == nil {
		cleaner = NewCleaner(nil)
	}
	cleaned := segs[:0]
	for _, s := range segs {
		s.Text = cleaner.Clean(s.Text)
		if s.Text != "" {
			cleaned = append(cleaned, s)
		}
	}

	merged := Merge(cleaned, opts.MergeGap)
	return merged, FullText(merged, opts.MaxTextLen)
}

// SortSegments orders by start then end; untimed values count as zero
func SortSegments(segs []model.Segment) {
	sort.SliceStable(segs, func(i, j int) bool {
		si, sj := valueOr(segs[i].Start), valueOr(segs[j].Start)
		if si != sj {
			return si < sj
		}
		return valueOr(segs[i].End) < valueOr(segs[j].End)
	})
}

// Merge joins consecutive segments of the same speaker whose pause is at most
// maxGap seconds, compared at millisecond resolution. A merged segment only
// ever grows, so the input is not modified, the result is sorted and merging
// it again returns it unchanged.
func Merge(segs []model.Segment, maxGap float64) []model.Segment {
	norm := make([]model.Segment, 0, len(segs))
	for _, s := range segs {
		s.Text = strings.TrimSpace(s.Text)
		s.Start = copyPtr(s.Start)
		s.End = copyPtr(s.End)
		norm = append(norm, s)
	}
	SortSegments(norm)

	out := make([]model.Segment, 0, len(norm))
	for _, s := range norm {
		if len(out) == 0 {
			out = append(out, s)
			continue
		}
		prev := &out[len(out)-1]
		canMerge := prev.Speaker == s.Speaker &&
			prev.End != nil &&
			s.Start != nil &&
			millis(*s.Start-*prev.End) <= millis(maxGap)
		if canMerge {
			if s.End != nil && *s.End > *prev.End {
				prev.End = s.End
			}
			prev.Text = strings.TrimSpace(prev.Text + " " + s.Text)
			continue
		}
		out = append(out, s)
	}
	return out
}

// FullText joins segment texts with spaces, truncated to maxLen runes when
// maxLen is positive.
func FullText(segs []model.Segment, maxLen int) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		text = string([]rune(text)[:maxLen])
	}
	return text
}

// millis rounds seconds to whole milliseconds, the resolution of SRT timestamps
func millis(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

func valueOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func copyPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
