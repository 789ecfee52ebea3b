package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/getlantern/systray"

	"github.com/reelsmith/reelsmith-agent/internal/pipelines"
)

//go:embed assets/icon.png
var iconBytes []byte

// Tray shows the pipeline activity of the agent in the system tray. It is a
// pipelines.Notifier; events may arrive before the menu exists.
type Tray struct {
	logger *slog.Logger
	addr   string

	statusItem *systray.MenuItem
	jobsItem   *systray.MenuItem

	mu     sync.Mutex
	active map[string]pipelines.Event
	last   string

	onQuit func()
}

type TrayConfig struct {
	Logger *slog.Logger
	// Addr is the API address shown in the menu.
	Addr   string
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		logger: cfg.Logger,
		addr:   cfg.Addr,
		active: make(map[string]pipelines.Event),
		last:   "Idle",
		onQuit: cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Reelsmith")
	systray.SetTooltip("Reelsmith Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: "+t.last, "Current pipeline status")
	t.statusItem.Disable()
	t.jobsItem = systray.AddMenuItem(jobsTitle(len(t.active)), "Pipelines in flight")
	t.jobsItem.Disable()
	t.mu.Unlock()

	if t.addr != "" {
		addrItem := systray.AddMenuItem("API: http://"+t.addr, "Local API address")
		addrItem.Disable()
	}

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Reelsmith Agent")

	go func() {
		<-quitItem.ClickedCh
		t.logger.Info("quit requested from tray")
		if t.onQuit != nil {
			t.onQuit()
		}
		systray.Quit()
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// Notify implements pipelines.Notifier.
func (t *Tray) Notify(ev pipelines.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ev.ProjectID + "/" + ev.Pipeline
	if ev.State.Active() {
		t.active[key] = ev
	} else {
		delete(t.active, key)
	}
	t.last = t.statusLocked(ev)

	if t.statusItem != nil {
		t.statusItem.SetTitle("Status: " + t.last)
		t.jobsItem.SetTitle(jobsTitle(len(t.active)))
	}
}

// Status returns the text of the status menu item.
func (t *Tray) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// statusLocked summarizes the newest event, or what is still running.
func (t *Tray) statusLocked(ev pipelines.Event) string {
	if ev.State.Active() || len(t.active) == 0 {
		return StatusLine(ev)
	}
	keys := make([]string, 0, len(t.active))
	for k := range t.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return StatusLine(t.active[keys[0]])
}

// StatusLine renders one pipeline event for the tray.
func StatusLine(ev pipelines.Event) string {
	name := strings.ReplaceAll(ev.Pipeline, "_", " ")
	switch ev.State {
	case pipelines.StateSubmitting:
		return fmt.Sprintf("Submitting %s", name)
	case pipelines.StatePolling:
		if ev.Total > 0 {
			return fmt.Sprintf("Generating %s %d/%d", name, ev.Completed, ev.Total)
		}
		return fmt.Sprintf("Generating %s", name)
	case pipelines.StateCompleted:
		return fmt.Sprintf("%s complete", capitalize(name))
	case pipelines.StateFailed:
		return fmt.Sprintf("%s failed", capitalize(name))
	case pipelines.StateTimedOut:
		return fmt.Sprintf("%s still running remotely", capitalize(name))
	default:
		return "Idle"
	}
}

func jobsTitle(n int) string {
	if n == 1 {
		return "1 pipeline running"
	}
	return fmt.Sprintf("%d pipelines running", n)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (t *Tray) Quit() {
	systray.Quit()
}
