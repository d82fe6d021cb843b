package activity

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CompletionEpsilon is float32 machine epsilon. A fraction closer than this
// to 1.0 counts as complete.
const CompletionEpsilon float32 = 1.1920929e-07

// Progress is a normalized progress value: Fraction is always in [0,1].
type Progress struct {
	Fraction float32
	Text     string
}

// Complete reports whether the fraction is within CompletionEpsilon of 1.0.
func (p Progress) Complete() bool {
	d := p.Fraction - 1
	if d < 0 {
		d = -d
	}
	return d < CompletionEpsilon
}

// Percent returns the fraction scaled to 0..100.
func (p Progress) Percent() float64 { return float64(p.Fraction) * 100 }

// ParseProgress normalizes a state map. It never fails.
func ParseProgress(state map[string]string) Progress {
	var (
		frac     float32
		found    bool
		pctRaw   string
		pctFound bool
	)
	if s, ok := state[KeyProgress]; ok {
		frac, found = parseFloat32(s)
	}
	pctRaw, pctFound = state[KeyPercent]
	if !found && pctFound {
		if v, ok := parseFloat32(pctRaw); ok {
			frac, found = v/100, true
		}
	}
	frac = clampFraction(frac)

	text := fmt.Sprintf("%.1f%%", float64(frac)*100)
	if pctFound {
		// Keep the caller's precision ("80" stays "80%", not "80.0%").
		text = pctRaw + "%"
	}
	return Progress{Fraction: frac, Text: text}
}

func parseFloat32(s string) (float32, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		// Out-of-range input still carries a usable sign (±Inf / 0); clamping handles it.
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return float32(v), true
		}
		return 0, false
	}
	return float32(v), true
}

func clampFraction(f float32) float32 {
	switch {
	case math.IsNaN(float64(f)):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
