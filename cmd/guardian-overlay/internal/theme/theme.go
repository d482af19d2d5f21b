package theme

import (
	"image/color"

	"gioui.org/unit"
	"gioui.org/widget/material"
)

// Palette defines the overlay colors. The lock screen is deliberately
// dark and high-contrast so it reads as a system state, not a popup.
type Palette struct {
	Background color.NRGBA
	Surface    color.NRGBA
	Primary    color.NRGBA
	Text       color.NRGBA
	TextMuted  color.NRGBA
	Danger     color.NRGBA
	Success    color.NRGBA
}

// Config defines the overlay metrics.
type Config struct {
	CornerRadius unit.Dp
	Spacing      unit.Dp
	Padding      unit.Dp
	FontTitle    unit.Sp
	FontBody     unit.Sp
	FontCaption  unit.Sp
}

// Theme wraps the material theme with overlay styling.
type Theme struct {
	*material.Theme
	Palette Palette
	Config  Config
}

// NewTheme creates the overlay theme.
func NewTheme(mtheme *material.Theme) *Theme {
	return &Theme{
		Theme: mtheme,
		Palette: Palette{
			Background: color.NRGBA{R: 0x14, G: 0x14, B: 0x18, A: 0xFF},
			Surface:    color.NRGBA{R: 0x1E, G: 0x1E, B: 0x26, A: 0xFF},
			Primary:    color.NRGBA{R: 0x4C, G: 0x8B, B: 0xF5, A: 0xFF},
			Text:       color.NRGBA{R: 0xF2, G: 0xF2, B: 0xF5, A: 0xFF},
			TextMuted:  color.NRGBA{R: 0x8A, G: 0x8A, B: 0x94, A: 0xFF},
			Danger:     color.NRGBA{R: 0xE5, G: 0x48, B: 0x4D, A: 0xFF},
			Success:    color.NRGBA{R: 0x3E, G: 0xC1, B: 0x6C, A: 0xFF},
		},
		Config: Config{
			CornerRadius: unit.Dp(8),
			Spacing:      unit.Dp(12),
			Padding:      unit.Dp(24),
			FontTitle:    unit.Sp(28),
			FontBody:     unit.Sp(16),
			FontCaption:  unit.Sp(12),
		},
	}
}
