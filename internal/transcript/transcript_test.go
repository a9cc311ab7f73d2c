package transcript

import (
	"math/rand"
	"strings"
	"testing"
	"voxagent/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leftSRT = "1\r\n00:00:00,000 --> 00:00:02,500\r\nДобрый день,\r\nкомпания Ромашка.\r\n\r\n" +
	"2\r\n00:00:02,800 --> 00:00:04,000\r\nЧем могу помочь?\r\n\r\n" +
	"3\r\n00:00:09,000 --> 00:00:10,000\r\n(музыка)\r\n"

const rightSRT = `00:00:04,500 --> 00:00:07,000
Здравствуйте, у меня вопрос по заказу.

bogus block

2
00:00:07,200 --> 00:00:08,000
ок
`

func segment(speaker, text string, start, end float64) model.Segment {
	return model.Segment{Speaker: speaker, Text: text, Start: model.Seconds(start), End: model.Seconds(end)}
}

func TestParseSRT(t *testing.T) {
	segs := ParseSRT(leftSRT, "operator")
	require.Len(t, segs, 3)

	assert.Equal(t, "Добрый день, компания Ромашка.", segs[0].Text)
	assert.InDelta(t, 0.0, *segs[0].Start, 1e-9)
	assert.InDelta(t, 2.5, *segs[0].End, 1e-9)
	assert.Equal(t, "operator", segs[1].Speaker)

	segs = ParseSRT(rightSRT, "client")
	require.Len(t, segs, 2)
	assert.InDelta(t, 4.5, *segs[0].Start, 1e-9)
	assert.Equal(t, "ок", segs[1].Text)
}

func TestParseSRT_HoursAndDotSeparator(t *testing.T) {
	segs := ParseSRT("1\n01:02:03.250 --> 01:02:04.000\nhello there\n", "client")
	require.Len(t, segs, 1)
	assert.InDelta(t, 3723.25, *segs[0].Start, 1e-9)
}

func TestSRTPlainText(t *testing.T) {
	assert.Equal(t, "Добрый день, компания Ромашка. Чем могу помочь? (музыка)", SRTPlainText(leftSRT))
}

func TestCleaner(t *testing.T) {
	c := NewCleaner([]string{"(музыка)", "[BLANK_AUDIO]"})

	assert.Equal(t, "a b c", c.Clean("  a \n b\t c "))
	assert.Equal(t, "", c.Clean("(Музыка)"))
	assert.Equal(t, "", c.Clean(" [blank_audio] "))
	assert.Equal(t, "", c.Clean("ок"))
	assert.Equal(t, "да!", c.Clean("да!"))
}

func TestMerge_SameSpeakerWithinGap(t *testing.T) {
	in := []model.Segment{
		segment("operator", "Добрый день.", 0, 2.5),
		segment("operator", "Чем могу помочь?", 3.1, 4),
	}

	out := Merge(in, 0.6)

	require.Len(t, out, 1)
	assert.Equal(t, "Добрый день. Чем могу помочь?", out[0].Text)
	assert.InDelta(t, 0, *out[0].Start, 1e-9)
	assert.InDelta(t, 4, *out[0].End, 1e-9)
	// input untouched
	assert.InDelta(t, 2.5, *in[0].End, 1e-9)
}

func TestMerge_GapAboveThresholdStaysDistinct(t *testing.T) {
	in := []model.Segment{
		segment("operator", "first", 0, 1),
		segment("operator", "second", 1.7, 2),
	}
	assert.Len(t, Merge(in, 0.6), 2)
}

func TestMerge_DifferentSpeakersAndUntimed(t *testing.T) {
	in := []model.Segment{
		segment("client", "reply", 1.1, 2),
		segment("operator", "hello", 0, 1),
		{Speaker: "operator", Text: "untimed"},
		{Speaker: "operator", Text: "untimed too"},
	}

	out := Merge(in, 0.6)

	require.Len(t, out, 4)
	assert.Equal(t, "untimed", out[0].Text)
	assert.Equal(t, "untimed too", out[1].Text)
	assert.Equal(t, "hello", out[2].Text)
	assert.Equal(t, "reply", out[3].Text)
}

func TestMerge_Idempotent(t *testing.T) {
	in := append(ParseSRT(leftSRT, "operator"), ParseSRT(rightSRT, "client")...)
	in = append(in,
		segment("client", "ещё вопрос", 8.3, 8.9),
		segment("operator", "равный старт", 0, 1),
	)

	once := Merge(in, 0.6)
	twice := Merge(once, 0.6)

	assert.Equal(t, once, twice)
}

func TestMerge_NestedSegmentKeepsOuterEnd(t *testing.T) {
	in := []model.Segment{
		segment("client", "aaa", 1, 3),
		segment("client", "bbb", 1.5, 2),
		segment("operator", "ccc", 1, 2.5),
	}

	once := Merge(in, 0.6)

	require.Len(t, once, 2)
	assert.Equal(t, "operator", once[0].Speaker)
	assert.Equal(t, "client", once[1].Speaker)
	assert.Equal(t, "aaa bbb", once[1].Text)
	assert.InDelta(t, 3, *once[1].End, 1e-9)
	assert.Equal(t, once, Merge(once, 0.6))
}

func TestMerge_IdempotentOnOverlaps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	speakers := []string{"operator", "client"}

	for round := 0; round < 200; round++ {
		var in []model.Segment
		for i := rng.Intn(12); i >= 0; i-- {
			if rng.Intn(10) == 0 {
				in = append(in, model.Segment{Speaker: speakers[rng.Intn(2)], Text: "untimed"})
				continue
			}
			// millisecond timestamps, as parsed from SRT
			start := float64(rng.Intn(5000)) / 1000
			end := start + float64(rng.Intn(2000))/1000
			in = append(in, segment(speakers[rng.Intn(2)], "txt", start, end))
		}

		once := Merge(in, 0.6)
		require.Equal(t, once, Merge(once, 0.6), "round %d", round)
	}
}

func TestFullText_Truncates(t *testing.T) {
	segs := []model.Segment{{Text: "привет"}, {Text: ""}, {Text: "мир"}}
	assert.Equal(t, "привет мир", FullText(segs, 0))
	assert.Equal(t, "прив", FullText(segs, 4))
}

func TestAssemble_TimedChannels(t *testing.T) {
	segs, text := Assemble([]ChannelOutput{
		{Speaker: "operator", Timed: true, Content: leftSRT},
		{Speaker: "client", Timed: true, Content: rightSRT},
	}, Options{MergeGap: 0.6, Cleaner: NewCleaner([]string{"(музыка)"})})

	require.Len(t, segs, 2)
	assert.Equal(t, "operator", segs[0].Speaker)
	assert.Equal(t, "Добрый день, компания Ромашка. Чем могу помочь?", segs[0].Text)
	assert.Equal(t, "client", segs[1].Speaker)
	assert.Equal(t, "Здравствуйте, у меня вопрос по заказу.", segs[1].Text)
	for i := 1; i < len(segs); i++ {
		assert.LessOrEqual(t, *segs[i-1].Start, *segs[i].Start)
	}
	assert.True(t, strings.HasPrefix(text, "Добрый день"))
	assert.Equal(t, FullText(segs, 0), text)
}

func TestAssemble_PlainTextFallback(t *testing.T) {
	segs, text := Assemble([]ChannelOutput{
		{Speaker: "operator", Content: "  добрый   день\n"},
		{Speaker: "client", Timed: true, Content: "garbage without timing\n"},
	}, Options{MergeGap: 0.6, MaxTextLen: 100})

	require.Len(t, segs, 2)
	assert.Nil(t, segs[0].Start)
	assert.Equal(t, "добрый день", segs[0].Text)
	assert.Equal(t, "garbage without timing", segs[1].Text)
	assert.Equal(t, "добрый день garbage without timing", text)
}
