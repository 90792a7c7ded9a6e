package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames once a second; a frozen ticker means a frozen UI.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() { t.index = (t.index + 1) % len(t.frames) }

func (t Ticker) Current() string { return t.frames[t.index] }

// Activity lights up on each event and fades over ten seconds.
type Activity struct {
	level     int
	lastEvent time.Time
}

const activityLevels = 5

func (a *Activity) OnEvent(now time.Time) {
	a.level = activityLevels
	a.lastEvent = now
}

// Decay drops one level for every two seconds without events.
func (a *Activity) Decay(now time.Time) {
	if a.level == 0 {
		return
	}
	lvl := activityLevels - int(now.Sub(a.lastEvent)/(2*time.Second))
	a.level = max(lvl, 0)
}

func (a Activity) Level() int { return a.level }

func (a Activity) LastEvent() time.Time { return a.lastEvent }

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := 0; i < activityLevels; i++ {
		if i < a.level {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}
