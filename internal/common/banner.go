package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner.
func PrintBanner(config *Config, logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorCyan).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(72)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("FETICHE")
	b.PrintCenteredText("Aeronautical Data Acquisition Engine")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", GetVersion(), 12)
	b.PrintKeyValue("Engine", EngineBanner(), 12)
	b.PrintKeyValue("Home", config.Engine.BaseDir, 12)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", GetVersion()).
		Str("engine", EngineBanner()).
		Str("home", config.Engine.BaseDir).
		Int("sources", len(config.Sources)).
		Msg("Application started")
}
