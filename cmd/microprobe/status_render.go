package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"microprobe/internal/hardware"
	"microprobe/internal/ipc"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const statusLabelWidth = 16

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	text := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		text += " " + message
	}
	line := fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", text)
	if colorize {
		return statusKindColor(kind) + line + ansiReset
	}
	return line
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

func renderSectionHeader(title string, colorize bool) string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	if colorize {
		return ansiBlue + line + ansiReset
	}
	return line
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderStageLines formats the stage readback. An open shutter is flagged so
// operators notice the beam is on the sample.
func renderStageLines(stage ipc.StageStatus, colorize bool) []string {
	if stage.Error != "" {
		return []string{renderStatusLine("Readback", statusError, stage.Error, colorize)}
	}
	shutterKind := statusOK
	if state, ok := hardware.ParseShutterState(stage.Shutter); !ok || state == hardware.ShutterOpen {
		shutterKind = statusWarn
	}
	return []string{
		renderStatusLine("X", statusInfo, formatMM(stage.X)+" mm", colorize),
		renderStatusLine("Y", statusInfo, formatMM(stage.Y)+" mm", colorize),
		renderStatusLine("Shutter", shutterKind, stage.Shutter, colorize),
	}
}
