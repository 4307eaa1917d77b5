// Package viewer renders the world as a terminal chronoscope. It reads the
// same hub the websocket feed serves and pushes its keystrokes through the
// same control intake, so everything it does is an ordinary subscriber
// action with a screen attached.
package viewer

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode"

	"github.com/gdamore/tcell/v2"

	"ebb-and-flow/server"
	"ebb-and-flow/server/feed"
)

const (
	// viewerSubscriber is the intake identity keystrokes are staged under.
	viewerSubscriber = "chronoscope"

	renderInterval   = 50 * time.Millisecond
	scrubStepSeconds = 1.0

	// worldExtent is the span of world units mapped onto the grid.
	worldExtent = 32.0

	minMultiplier = 0.25
	maxMultiplier = 32.0
)

// Run owns the terminal until the context ends or the user quits. The caller
// keeps the simulation ticking; the viewer only reads views and stages
// controls.
func Run(ctx context.Context, hub *server.Hub) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()

	events := make(chan tcell.Event, 8)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(renderInterval)
	defer ticker.Stop()

	v := &view{hub: hub, screen: screen}
	v.render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if v.handleEvent(ev) {
				return nil
			}
		case <-ticker.C:
			v.render()
		}
	}
}

type view struct {
	hub    *server.Hub
	screen tcell.Screen
	note   string
}

func (v *view) control(msg feed.ControlMessage) {
	if ok, reason := v.hub.EnqueueControl(viewerSubscriber, msg); !ok {
		v.note = fmt.Sprintf("%s rejected: %s", msg.Type, reason)
		return
	}
	v.note = ""
}

// handleEvent reacts to one terminal event, reporting true on quit.
func (v *view) handleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		v.screen.Sync()
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			return true
		case tcell.KeyLeft:
			v.scrub(-scrubStepSeconds)
		case tcell.KeyRight:
			v.scrub(scrubStepSeconds)
		case tcell.KeyTab:
			v.cycleBranch()
		case tcell.KeyRune:
			return v.handleRune(ev.Rune())
		}
	}
	return false
}

func (v *view) handleRune(r rune) bool {
	switch r {
	case 'q':
		return true
	case ' ':
		if v.hub.View().Status.Paused {
			v.control(feed.ControlMessage{Type: feed.ControlResume})
		} else {
			v.control(feed.ControlMessage{Type: feed.ControlPause})
		}
	case 'r':
		v.control(feed.ControlMessage{Type: feed.ControlReverse})
	case '+', '=':
		v.adjustMultiplier(2)
	case '-', '_':
		v.adjustMultiplier(0.5)
	case 'b':
		view := v.hub.View()
		name := fmt.Sprintf("branch-%d", len(view.Branches))
		v.control(feed.ControlMessage{Type: feed.ControlBranch, Name: name})
	}
	return false
}

func (v *view) scrub(delta float64) {
	target := v.hub.View().Status.TimeSeconds + delta
	if target < 0 {
		target = 0
	}
	v.control(feed.ControlMessage{Type: feed.ControlScrub, TimeSeconds: target})
}

// adjustMultiplier scales playback while keeping its sign; reversal stays a
// deliberate keystroke of its own.
func (v *view) adjustMultiplier(factor float64) {
	m := v.hub.View().Status.Multiplier
	sign := 1.0
	if m < 0 {
		sign = -1
	}
	mag := math.Abs(m) * factor
	if mag < minMultiplier {
		mag = minMultiplier
	}
	if mag > maxMultiplier {
		mag = maxMultiplier
	}
	v.control(feed.ControlMessage{Type: feed.ControlMultiplier, Multiplier: sign * mag})
}

func (v *view) cycleBranch() {
	view := v.hub.View()
	if len(view.Branches) < 2 {
		return
	}
	for i, branch := range view.Branches {
		if branch.Current {
			next := view.Branches[(i+1)%len(view.Branches)]
			v.control(feed.ControlMessage{Type: feed.ControlSwitch, Name: next.Name})
			return
		}
	}
}

func (v *view) render() {
	view := v.hub.View()
	s := v.screen
	s.Clear()
	width, height := s.Size()
	if width < 4 || height < 4 {
		s.Show()
		return
	}

	drawText(s, 0, 0, width, statusLine(view), tcell.StyleDefault.Reverse(true))
	drawText(s, 0, 1, width, branchLine(view), tcell.StyleDefault.Foreground(tcell.ColorGray))
	help := "[space] pause  [r] reverse  [+/-] speed  [arrows] scrub  [b] branch  [tab] switch  [q] quit"
	if v.note != "" {
		help = v.note
	}
	drawText(s, 0, height-1, width, help, tcell.StyleDefault.Foreground(tcell.ColorGray))

	gridTop, gridBottom := 2, height-2
	for _, actor := range view.Actors {
		x := int((actor.Pose.Linear.X/worldExtent + 0.5) * float64(width-1))
		y := gridTop + int((actor.Pose.Linear.Z/worldExtent+0.5)*float64(gridBottom-gridTop))
		if x < 0 || x >= width || y < gridTop || y > gridBottom {
			continue
		}
		glyph := '?'
		for _, r := range actor.ID {
			glyph = unicode.ToUpper(r)
			break
		}
		s.SetContent(x, y, glyph, nil, actorStyle(actor.ID))
	}
	s.Show()
}

func statusLine(view server.HubView) string {
	st := view.Status
	direction := ">"
	if st.Reversed {
		direction = "<"
	}
	if st.Paused {
		direction = "||"
	}
	return fmt.Sprintf(" %s  t=%8.2fs  step=%-8d x%5.2f %s  actors=%d ",
		st.Branch, st.TimeSeconds, int64(st.Step), st.Multiplier, direction, len(view.Actors))
}

func branchLine(view server.HubView) string {
	line := " branches:"
	for _, branch := range view.Branches {
		marker := " "
		if branch.Current {
			marker = "*"
		}
		line += fmt.Sprintf(" %s%s@%.1fs", marker, branch.Name, branch.TimeSeconds)
	}
	return line
}

func actorStyle(id string) tcell.Style {
	switch {
	case id == "obelisk":
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case id == "sentry":
		return tcell.StyleDefault.Foreground(tcell.ColorTeal)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	}
}

func drawText(s tcell.Screen, x, y, maxWidth int, text string, style tcell.Style) {
	col := x
	for _, r := range text {
		if col >= x+maxWidth {
			return
		}
		s.SetContent(col, y, r, nil, style)
		col++
	}
}
