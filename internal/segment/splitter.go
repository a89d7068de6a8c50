package segment

import "strings"

// Splitter re-chunks section text into length-bounded pieces. The goal is one
// chunk ≈ one benefit/condition/rule: oversized chunks dilute embedding
// context, fragments below the keep threshold are noise.
type Splitter struct {
	MaxChars   int
	MergeBelow int
	MinKeep    int
}

// Splitter bound defaults.
const (
	DefaultMaxChunkChars   = 600
	DefaultMergeBelowChars = 140
	DefaultMinKeepChars    = 70
)

// forceSplitFloor is the minimum word-boundary position accepted when an
// overlong single line has to be cut mid-line.
const forceSplitFloor = 50

// NewSplitter creates a splitter, applying defaults for zero values.
func NewSplitter(maxChars, mergeBelow, minKeep int) Splitter {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	if mergeBelow <= 0 {
		mergeBelow = DefaultMergeBelowChars
	}
	if minKeep <= 0 {
		minKeep = DefaultMinKeepChars
	}
	return Splitter{MaxChars: maxChars, MergeBelow: mergeBelow, MinKeep: minKeep}
}

// Split packs lines greedily up to MaxChars, merges short pieces into
// neighbors when the merge stays under the cap, and drops residues shorter
// than MinKeep that could not be merged anywhere.
func (s Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}

	lines := SplitLines(text)
	if len(lines) == 0 {
		return nil
	}

	var chunks []string
	var buf []string
	bufLen := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(buf, " "))
		if joined != "" {
			chunks = append(chunks, joined)
		}
		buf = nil
		bufLen = 0
	}

	for _, ln := range lines {
		// A single overlong line is cut at word boundaries.
		if len(ln) > s.MaxChars {
			flush()
			start := 0
			for start < len(ln) {
				end := start + s.MaxChars
				if end >= len(ln) {
					end = len(ln)
				} else if space := strings.LastIndex(ln[start:end], " "); space > forceSplitFloor {
					end = start + space
				}
				if part := strings.TrimSpace(ln[start:end]); part != "" {
					chunks = append(chunks, part)
				}
				start = end
			}
			continue
		}

		if bufLen+len(ln)+1 > s.MaxChars && len(buf) > 0 {
			flush()
		}
		buf = append(buf, ln)
		bufLen += len(ln) + 1
	}
	flush()

	return s.mergeShort(chunks)
}

// mergeShort folds pieces below MergeBelow into an adjacent chunk where the
// result stays within MaxChars, preferring the previous chunk, then the next.
func (s Splitter) mergeShort(chunks []string) []string {
	tryMerge := func(prev, cur string) (string, bool) {
		if len(prev)+1+len(cur) <= s.MaxChars {
			return strings.TrimSpace(prev + " " + cur), true
		}
		return "", false
	}

	var merged []string
	pending := ""
	hasPending := false

	for _, ch := range chunks {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}

		if hasPending {
			if m, ok := tryMerge(pending, ch); ok {
				ch = m
			} else if len(pending) >= s.MinKeep {
				merged = append(merged, pending)
			}
			hasPending = false
		}

		if len(ch) < s.MergeBelow {
			if len(merged) > 0 {
				if m, ok := tryMerge(merged[len(merged)-1], ch); ok {
					merged[len(merged)-1] = m
					continue
				}
			}
			pending = ch
			hasPending = true
			continue
		}

		merged = append(merged, ch)
	}

	if hasPending {
		if len(merged) > 0 {
			if m, ok := tryMerge(merged[len(merged)-1], pending); ok {
				merged[len(merged)-1] = m
			} else if len(pending) >= s.MinKeep {
				merged = append(merged, pending)
			}
		} else if len(pending) >= s.MinKeep {
			merged = append(merged, pending)
		}
	}

	var out []string
	for _, c := range merged {
		if len(c) >= s.MinKeep {
			out = append(out, c)
		}
	}
	return out
}
