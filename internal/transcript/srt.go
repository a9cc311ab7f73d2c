package transcript

import (
	"regexp"
	"strconv"
	"strings"
	"voxagent/pkg/model"
)

var (
	blockSep  = regexp.MustCompile(`\r?\n(\s*\r?\n)+`)
	timestamp = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{3})`)
)

// ParseSRT turns SubRip text into timed segments of one speaker. Blocks
// without a timestamp line or text are skipped; the index line is optional.
func ParseSRT(data string, speaker string) []model.Segment {
	var segs []model.Segment
	for _, block := range blockSep.Split(strings.TrimSpace(data), -1) {
		var lines []string
		for _, ln := range strings.Split(block, "\n") {
			ln = strings.TrimSpace(ln)
			if ln != "" {
				lines = append(lines, ln)
			}
		}
		if len(lines) < 2 {
			continue
		}

		var tsLine string
		var textLines []string
		switch {
		case strings.Contains(lines[0], "-->"):
			tsLine, textLines = lines[0], lines[1:]
		case strings.Contains(lines[1], "-->"):
			tsLine, textLines = lines[1], lines[2:]
		default:
			continue
		}

		m := timestamp.FindStringSubmatch(tsLine)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(strings.Join(textLines, " "))
		if text == "" {
			continue
		}
		segs = append(segs, model.Segment{
			Speaker: speaker,
			Text:    text,
			Start:   model.Seconds(toSeconds(m[1:5])),
			End:     model.Seconds(toSeconds(m[5:9])),
		})
	}
	return segs
}

// SRTPlainText drops indices and timestamp lines and joins the rest
func SRTPlainText(data string) string {
	var lines []string
	for _, ln := range strings.Split(data, "\n") {
		s := strings.TrimSpace(ln)
		if s == "" || strings.Contains(s, "-->") || isDigits(s) {
			continue
		}
		lines = append(lines, s)
	}
	return strings.Join(lines, " ")
}

func toSeconds(parts []string) float64 {
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	ms, _ := strconv.Atoi(parts[3])
	return float64(h*3600+m*60+s) + float64(ms)/1000.0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
