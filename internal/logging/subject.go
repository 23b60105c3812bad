package logging

import "strings"

// FormatSubject builds the scan/run subject string used in console output.
func FormatSubject(label, runUID string) string {
	label = strings.TrimSpace(label)
	runUID = strings.TrimSpace(runUID)
	if len(runUID) > 8 {
		runUID = runUID[:8]
	}
	switch {
	case label != "" && runUID != "":
		return "Scan " + label + " (run " + runUID + ")"
	case label != "":
		return "Scan " + label
	case runUID != "":
		return "Run " + runUID
	}
	return ""
}
