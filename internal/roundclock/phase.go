// Package roundclock derives the phase of a round from elapsed time and drives it on a fixed tick.
package roundclock

import "time"

type Phase string

const (
	PhaseIdle               Phase = ""
	PhaseOpenBetting        Phase = "openBetting"
	PhaseWaitingOpenResult  Phase = "waitingOpenResult"
	PhaseCloseBetting       Phase = "closeBetting"
	PhaseWaitingCloseResult Phase = "waitingCloseResult"
	PhaseEnded              Phase = "ended"
)

var order = map[Phase]int{
	PhaseIdle:               0,
	PhaseOpenBetting:        1,
	PhaseWaitingOpenResult:  2,
	PhaseCloseBetting:       3,
	PhaseWaitingCloseResult: 4,
	PhaseEnded:              5,
}

// Rank is the position of p in the round lifecycle.
func (p Phase) Rank() int { return order[p] }

// AcceptsWagers reports whether wagers may be placed during p.
func (p Phase) AcceptsWagers() bool {
	return p == PhaseOpenBetting || p == PhaseCloseBetting
}

// Thresholds are minute offsets from round start.
type Thresholds struct {
	OpenBettingEnd  int `yaml:"open_betting_end"`
	OpenResult      int `yaml:"open_result"`
	CloseBettingEnd int `yaml:"close_betting_end"`
	CloseResult     int `yaml:"close_result"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{OpenBettingEnd: 12, OpenResult: 15, CloseBettingEnd: 28, CloseResult: 30}
}

// Valid reports whether the thresholds are positive and strictly increasing.
func (t Thresholds) Valid() bool {
	return t.OpenBettingEnd > 0 &&
		t.OpenBettingEnd < t.OpenResult &&
		t.OpenResult < t.CloseBettingEnd &&
		t.CloseBettingEnd < t.CloseResult
}

// PhaseAt maps elapsed time since round start to a phase. Elapsed time is truncated to whole minutes.
func PhaseAt(elapsed time.Duration, t Thresholds) Phase {
	minutes := int(elapsed / time.Minute)
	switch {
	case elapsed < 0:
		return PhaseOpenBetting
	case minutes < t.OpenBettingEnd:
		return PhaseOpenBetting
	case minutes < t.OpenResult:
		return PhaseWaitingOpenResult
	case minutes < t.CloseBettingEnd:
		return PhaseCloseBetting
	case minutes < t.CloseResult:
		return PhaseWaitingCloseResult
	default:
		return PhaseEnded
	}
}

// BettingDeadline returns the instant the betting window containing phase p closes,
// or the zero time when p does not accept wagers.
func BettingDeadline(start time.Time, p Phase, t Thresholds) time.Time {
	switch p {
	case PhaseOpenBetting:
		return start.Add(time.Duration(t.OpenBettingEnd) * time.Minute)
	case PhaseCloseBetting:
		return start.Add(time.Duration(t.CloseBettingEnd) * time.Minute)
	default:
		return time.Time{}
	}
}

// Window is the daily operating window, [OpenHour, CloseHour) in local time.
type Window struct {
	OpenHour  int `yaml:"open_hour"`
	CloseHour int `yaml:"close_hour"`
}

func DefaultWindow() Window { return Window{OpenHour: 9, CloseHour: 22} }

func (w Window) Allows(t time.Time) bool {
	h := t.Hour()
	return h >= w.OpenHour && h < w.CloseHour
}

// NextRoundAt returns when the next round would start if rounds were aligned to cycle boundaries
// within the hour. Past the closing hour the next round is the next day's opening hour.
func NextRoundAt(now time.Time, cycle time.Duration, w Window) time.Time {
	if h := now.Hour(); h >= w.CloseHour {
		y, m, d := now.AddDate(0, 0, 1).Date()
		return time.Date(y, m, d, w.OpenHour, 0, 0, 0, now.Location())
	} else if h < w.OpenHour {
		y, m, d := now.Date()
		return time.Date(y, m, d, w.OpenHour, 0, 0, 0, now.Location())
	}
	if cycle <= 0 {
		return now
	}
	y, m, d := now.Date()
	hour := time.Date(y, m, d, now.Hour(), 0, 0, 0, now.Location())
	step := int(cycle / time.Minute)
	if step <= 0 {
		step = 1
	}
	next := (now.Minute()/step + 1) * step
	if now.Minute()%step == 0 && now.Second() == 0 && now.Nanosecond() == 0 {
		next = now.Minute()
	}
	return hour.Add(time.Duration(next) * time.Minute)
}
