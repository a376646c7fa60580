package engine

import "time"

// Config carries everything the agent needs for one run. Nil pointer
// fields mean "unset": no step budget, provider-default temperature.
type Config struct {
	Model       string
	BaseURL     string
	APIKey      string
	SessionID   string
	Cwd         string
	Temperature *float64
	MaxSteps    *int
	TimeLimit   time.Duration

	// MaxToolOutputChars caps each tool output stream before it is
	// returned to the model.
	MaxToolOutputChars int

	// SubmitEnabled selects autonomous mode: the run ends via the
	// submit tool and the agent is nudged to continue when it answers
	// without calling one.
	SubmitEnabled bool

	// Retry429 allows retrying 429 responses that carry no Retry-After.
	Retry429 bool
}
