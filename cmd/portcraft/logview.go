package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/portcraft/portcraft/internal/corebuild"
)

// logEntry is one browsable build log or tombstone archive, grounded on
// internal/hokuto/tui.go's logInfo.
type logEntry struct {
	label   string
	path    string
	isTomb  bool
	content string
}

// runLogViewer opens a tview/tcell TUI over the buildtrees directory (live
// *.log files) and the tombstone tree (failed-build archives), adapted from
// internal/hokuto/tui.go's runTUI — one header/body/footer Flex, left/right
// to switch entries, q to quit — generalized from a single flat BinDir of
// build logs to portcraft's buildtrees + archives/fail layout.
func runLogViewer(cfg *corebuild.Config) error {
	app := tview.NewApplication()

	header := tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignLeft)
	header.SetBorder(true)
	header.SetTitle("portcraft build log viewer")

	body := tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetChangedFunc(func() {
		app.Draw()
	})
	body.SetBorder(true)

	footer := tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignLeft)
	footer.SetBorder(true)
	footer.SetText("[yellow]left/right[-] switch log   [yellow]q[-] quit")

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 3, 0, false).
		AddItem(body, 0, 1, true).
		AddItem(footer, 3, 0, false)

	entries := readLogEntries(cfg)
	active := 0

	render := func() {
		if len(entries) == 0 {
			header.SetText("no build logs or tombstones found")
			body.SetText("")
			return
		}
		e := entries[active]
		kind := "log"
		if e.isTomb {
			kind = "tombstone"
		}
		header.SetText(e.label + "  [" + kind + "]")
		body.SetText(tview.Escape(e.content))
		body.ScrollToEnd()
	}
	render()

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			app.Stop()
			return nil
		case tcell.KeyLeft:
			if len(entries) > 0 {
				active = (active - 1 + len(entries)) % len(entries)
				render()
			}
			return nil
		case tcell.KeyRight:
			if len(entries) > 0 {
				active = (active + 1) % len(entries)
				render()
			}
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			entries = readLogEntries(cfg)
			app.QueueUpdateDraw(render)
		}
	}()

	return app.SetRoot(flex, true).Run()
}

func readLogEntries(cfg *corebuild.Config) []logEntry {
	var entries []logEntry

	filepath.WalkDir(cfg.BuildtreesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".log" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(cfg.BuildtreesDir, path)
		entries = append(entries, logEntry{label: rel, path: path, content: string(data)})
		return nil
	})

	filepath.WalkDir(cfg.TombstonesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".tar.gz") {
			return nil
		}
		rel, _ := filepath.Rel(cfg.TombstonesDir, path)
		entries = append(entries, logEntry{label: rel, path: path, isTomb: true, content: "(compressed tombstone archive; extract to view captured logs)"})
		return nil
	})

	sort.Slice(entries, func(i, j int) bool { return entries[i].label < entries[j].label })
	return entries
}
