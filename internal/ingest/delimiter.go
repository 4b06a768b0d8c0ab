package ingest

import (
	"bytes"
)

const sniffSampleSize = 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var delimiterCandidates = []rune{',', ';'}

// stripBOM drops a leading UTF-8 byte-order mark.
func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// detectDelimiter inspects the first kilobyte. A candidate is consistent when
// every complete line in the sample carries the same non-zero number of it
// outside quotes. A single consistent candidate wins; when both are (or
// neither is) consistent the more frequent one wins, ',' on ties.
func detectDelimiter(data []byte) rune {
	sample := data
	if len(sample) > sniffSampleSize {
		sample = sample[:sniffSampleSize]
	}
	lines := sampleLines(sample, len(data) > sniffSampleSize)
	if len(lines) == 0 {
		return ','
	}

	var consistent []rune
	totals := make(map[rune]int, len(delimiterCandidates))
	for _, cand := range delimiterCandidates {
		want := -1
		ok := true
		for _, line := range lines {
			n := countOutsideQuotes(line, cand)
			totals[cand] += n
			if want == -1 {
				want = n
			}
			if n == 0 || n != want {
				ok = false
			}
		}
		if ok {
			consistent = append(consistent, cand)
		}
	}

	if len(consistent) == 1 {
		return consistent[0]
	}
	if totals[';'] > totals[','] {
		return ';'
	}
	return ','
}

// sampleLines splits the sample into non-empty lines. When the sample was
// truncated the last line may be partial and is dropped, unless it is the
// only one.
func sampleLines(sample []byte, truncated bool) [][]byte {
	raw := bytes.Split(sample, []byte("\n"))
	if truncated && len(raw) > 1 {
		raw = raw[:len(raw)-1]
	}
	var lines [][]byte
	for _, line := range raw {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func countOutsideQuotes(line []byte, delim rune) int {
	inQuotes := false
	n := 0
	for _, b := range line {
		switch {
		case b == '"':
			inQuotes = !inQuotes
		case !inQuotes && rune(b) == delim:
			n++
		}
	}
	return n
}
