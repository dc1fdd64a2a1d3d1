package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/relay/internal/llm"
)

// Clock reports the current time.
type Clock struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (Clock) Name() string { return "current_time" }

func (Clock) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in an IANA time zone such as 'Asia/Kolkata'.",
		Parameters: map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA time zone name (default UTC)",
			},
		},
	}
}

func (c Clock) Invoke(_ context.Context, args map[string]any) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := time.UTC
	if tz, ok := stringArg(args, "timezone", "tz"); ok {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown time zone %q", tz)
		}
		loc = l
	}
	return now().In(loc).Format("Monday, 02 January 2006 15:04:05 MST"), nil
}
