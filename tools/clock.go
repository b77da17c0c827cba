package tools

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/i2y/merco/llm"
)

// ClockInput defines the input for the clock tool.
type ClockInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone such as Europe/Paris (default: UTC)"`
}

// ClockOutput defines the output of the clock tool.
type ClockOutput struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
}

// ClockTool returns the get_current_time tool. now defaults to time.Now.
func ClockTool(now func() time.Time) (llm.Tool, error) {
	if now == nil {
		now = time.Now
	}
	return llm.NewTool(
		NameClock,
		"Get the current date and time, optionally in a given time zone.",
		func(ctx context.Context, input ClockInput) (ClockOutput, error) {
			return currentTime(now(), input)
		},
	)
}

// MustClock returns the clock tool, panicking on error.
func MustClock(now func() time.Time) llm.Tool {
	tool, err := ClockTool(now)
	if err != nil {
		panic(err)
	}
	return tool
}

func currentTime(t time.Time, input ClockInput) (ClockOutput, error) {
	name := input.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return ClockOutput{}, fmt.Errorf("unknown time zone %q", name)
	}
	local := t.In(loc)
	return ClockOutput{
		Time:     local.Format(time.RFC3339),
		Timezone: name,
		Weekday:  local.Weekday().String(),
	}, nil
}
