package logs

import (
	"encoding/json"
	"strings"
)

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// Filter selects log records by scan label and minimum level. Console
// records span a headline and indented detail lines; the decision made on a
// headline carries over to its details, including across calls to Lines.
type Filter struct {
	Label    string
	MinLevel string

	keeping bool
}

// Active reports whether the filter drops anything.
func (f *Filter) Active() bool {
	return strings.TrimSpace(f.Label) != "" || levelRank[strings.ToLower(f.MinLevel)] > 0
}

// Lines returns the lines belonging to matching records.
func (f *Filter) Lines(lines []string) []string {
	if !f.Active() {
		return lines
	}
	out := lines[:0:0]
	for _, line := range lines {
		if isDetail(line) {
			if f.keeping {
				out = append(out, line)
			}
			continue
		}
		level, label := recordFields(line)
		f.keeping = f.match(level, label)
		if f.keeping {
			out = append(out, line)
		}
	}
	return out
}

func (f *Filter) match(level, label string) bool {
	if want := strings.TrimSpace(f.Label); want != "" && label != want {
		return false
	}
	if minimum, ok := levelRank[strings.ToLower(f.MinLevel)]; ok {
		rank, known := levelRank[level]
		if known && rank < minimum {
			return false
		}
	}
	return true
}

func isDetail(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

// recordFields extracts the lower-case level and scan label of a record
// headline in either log format.
func recordFields(line string) (level, label string) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var record struct {
			Level string `json:"level"`
			Label string `json:"scan_label"`
		}
		if json.Unmarshal([]byte(trimmed), &record) == nil {
			return strings.ToLower(record.Level), record.Label
		}
	}

	head, _, _ := strings.Cut(trimmed, " – ")
	for _, token := range strings.Fields(head) {
		if _, ok := levelRank[strings.ToLower(token)]; ok && token == strings.ToUpper(token) {
			level = strings.ToLower(token)
			break
		}
	}
	if _, subject, ok := strings.Cut(head, "Scan "); ok {
		label, _, _ = strings.Cut(subject, " (run ")
		label = strings.TrimSpace(label)
	}
	return level, label
}
