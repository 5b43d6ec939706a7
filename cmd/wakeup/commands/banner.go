package commands

import (
	"github.com/pterm/pterm"

	"github.com/teranos/wakeup/version"
)

// printStartupBanner prints where the service listens and how it delivers
func printStartupBanner(addr, providerKind, publicURL string) {
	info := version.Get()
	pterm.DefaultHeader.WithFullWidth().Println("wakeup " + info.Version)

	if publicURL == "" {
		publicURL = pterm.Yellow("(not set, provider callbacks will fail)")
	}
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Listening", addr},
		{"Public URL", publicURL},
		{"Provider", providerKind},
		{"Commit", info.Short()},
	}).Render()

	pterm.Info.Println("Press Ctrl+C to stop")
}
