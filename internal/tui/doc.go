// Package tui renders dispatcher runs in a terminal for relay ask.
//
// Usage:
//
//	r := tui.NewRenderer(os.Stdout)
//	for ev := range events {
//	    r.Render(ev)
//	}
package tui
