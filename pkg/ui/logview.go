package ui

import (
	"bytes"
	"strings"
	"sync"

	"github.com/rivo/tview"
)

// LogView is an io.Writer that shows log lines in a text view. Pass it to
// logger.NewLogger to watch the bridge log while browsing.
type LogView struct {
	view *tview.TextView

	mu      sync.Mutex
	pending []byte
}

// NewLogView creates a log view keeping the last maxLines lines
func NewLogView(maxLines int) *LogView {
	view := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxLines)
	view.SetBorder(true).SetTitle("Logs")
	return &LogView{view: view}
}

// Primitive returns the text view
func (l *LogView) Primitive() *tview.TextView {
	return l.view
}

// Write colors complete lines by level and appends them to the view
func (l *LogView) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		line := string(l.pending[:i])
		l.pending = l.pending[i+1:]
		if _, err := l.view.Write([]byte(colorize(line))); err != nil {
			return 0, err
		}
	}
	l.view.ScrollToEnd()
	return len(p), nil
}

// colorize wraps a log line in a color tag for its level
func colorize(line string) string {
	color := "white"
	switch {
	case strings.Contains(line, "[ERROR]"):
		color = "red"
	case strings.Contains(line, "[WARN]"):
		color = "yellow"
	case strings.Contains(line, "[DEBUG]"):
		color = "gray"
	}
	return "[" + color + "]" + tview.Escape(line) + "[-]\n"
}
