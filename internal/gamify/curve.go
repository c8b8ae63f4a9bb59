package gamify

import (
	"errors"
	"fmt"
)

const (
	// MaxLevel is the terminal level.
	MaxLevel = 100
	// GatedLevel is the highest level reachable before every achievement is
	// unlocked.
	GatedLevel = MaxLevel - 1
)

// Band is a run of levels, ending at End inclusive, that all cost Step XP
// to advance from.
type Band struct {
	End  int `koanf:"end" validate:"gt=0"`
	Step int `koanf:"step" validate:"gt=0"`
}

// CurveConfig describes the level curve. Levels after the last band up to
// ConstantBandEnd share one derived step, the following level takes the
// remainder so the cumulative cost of reaching MaxLevel is exactly
// TargetTotal, and any level after that is free.
type CurveConfig struct {
	Bands           []Band `koanf:"bands" validate:"required,min=1,dive"`
	ConstantBandEnd int    `koanf:"constant_band_end" validate:"gt=0"`
	TargetTotal     int    `koanf:"target_total" validate:"gt=0"`
}

// DefaultCurveConfig returns the stock curve: 1,000,000 XP to reach level
// 100, with level 99 absorbing the remainder.
func DefaultCurveConfig() CurveConfig {
	return CurveConfig{
		Bands: []Band{
			{End: 10, Step: 500},
			{End: 25, Step: 1500},
			{End: 40, Step: 4000},
			{End: 50, Step: 8000},
		},
		ConstantBandEnd: 98,
		TargetTotal:     1_000_000,
	}
}

// Validate checks that the bands are ordered and that the constant band can
// absorb the rest of the target total.
func (c CurveConfig) Validate() error {
	if len(c.Bands) == 0 {
		return errors.New("level curve needs at least one band")
	}
	prev := 0
	early := 0
	for i, b := range c.Bands {
		if b.End <= prev {
			return fmt.Errorf("band %d ends at level %d, not after level %d", i+1, b.End, prev)
		}
		if b.Step <= 0 {
			return fmt.Errorf("band %d has non-positive step %d", i+1, b.Step)
		}
		early += (b.End - prev) * b.Step
		prev = b.End
	}
	if c.ConstantBandEnd <= prev {
		return fmt.Errorf("constant band end %d must be after the last band end %d", c.ConstantBandEnd, prev)
	}
	if c.ConstantBandEnd+1 > GatedLevel {
		return fmt.Errorf("constant band end %d leaves no room for the final step before level %d", c.ConstantBandEnd, MaxLevel)
	}
	if c.TargetTotal <= early {
		return fmt.Errorf("target total %d does not exceed the banded total %d", c.TargetTotal, early)
	}
	constant, final := c.derivedSteps(early, prev)
	if constant <= 0 || final <= 0 {
		return fmt.Errorf("target total %d is too small for %d constant levels", c.TargetTotal, c.ConstantBandEnd-prev)
	}
	return nil
}

func (c CurveConfig) derivedSteps(early, lastBandEnd int) (constant, final int) {
	constLevels := c.ConstantBandEnd - lastBandEnd
	constant = (c.TargetTotal - early) / (constLevels + 1)
	final = c.TargetTotal - (early + constant*constLevels)
	return constant, final
}

// Curve maps XP to levels.
type Curve struct {
	steps [MaxLevel + 1]int // steps[l] is the XP needed to go from l to l+1
	total int
}

// NewCurve validates cfg and precomputes the per-level steps.
func NewCurve(cfg CurveConfig) (*Curve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Curve{total: cfg.TargetTotal}

	level := 1
	early := 0
	prev := 0
	for _, b := range cfg.Bands {
		for ; level <= b.End; level++ {
			c.steps[level] = b.Step
		}
		early += (b.End - prev) * b.Step
		prev = b.End
	}
	constant, final := cfg.derivedSteps(early, prev)
	for ; level <= cfg.ConstantBandEnd; level++ {
		c.steps[level] = constant
	}
	c.steps[level] = final
	return c, nil
}

// DefaultCurve returns the curve built from DefaultCurveConfig.
func DefaultCurve() *Curve {
	c, err := NewCurve(DefaultCurveConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// Step returns the XP required to advance from level to level+1.
func (c *Curve) Step(level int) int {
	if level < 1 || level >= MaxLevel {
		return 0
	}
	return c.steps[level]
}

// Total is the cumulative XP needed to reach MaxLevel.
func (c *Curve) Total() int { return c.total }

// LevelForXP returns the level reached with xp, ignoring achievement gating.
func (c *Curve) LevelForXP(xp int) int {
	level := 1
	remaining := max(0, xp)
	for level < MaxLevel {
		step := c.Step(level)
		if remaining < step {
			break
		}
		remaining -= step
		level++
	}
	return level
}

// LevelProgress summarizes how far a profile is into its current level.
type LevelProgress struct {
	Level                int `json:"level"`
	XP                   int `json:"xp"`
	XPIntoLevel          int `json:"xp_into_level"`
	XPToNext             int `json:"xp_to_next"`
	NextLevelRequirement int `json:"next_level_requirement"`
}

// Progress walks the curve up to level and reports the position of xp
// within it. level is the stored, possibly gated, level.
func (c *Curve) Progress(xp, level int) LevelProgress {
	level = min(max(1, level), MaxLevel)
	base := 0
	for l := 1; l < level; l++ {
		base += c.Step(l)
	}
	into := max(0, xp-base)
	next := c.Step(level)
	return LevelProgress{
		Level:                level,
		XP:                   xp,
		XPIntoLevel:          into,
		XPToNext:             max(0, next-into),
		NextLevelRequirement: next,
	}
}
