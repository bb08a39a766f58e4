package domain

// AccountAge is the coarse maturity class of an outbound channel. It selects
// the safety defaults applied wherever the user omits a config value.
type AccountAge string

const (
	AgeNew         AccountAge = "NEW"
	AgeWarming     AccountAge = "WARMING"
	AgeEstablished AccountAge = "ESTABLISHED"
)

// Range is an inclusive integer range the runner draws from. Units depend on
// the field (seconds, minutes, or messages).
type Range struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// BusinessHours restricts sending to a daily window in a given timezone.
type BusinessHours struct {
	Enabled           bool   `json:"enabled"`
	StartHour         int    `json:"start_hour"`
	EndHour           int    `json:"end_hour"`
	Timezone          string `json:"timezone"`
	ExcludeWeekends   bool   `json:"exclude_weekends"`
	ExcludeLunchBreak bool   `json:"exclude_lunch_break"`
	LunchStart        int    `json:"lunch_start"`
	LunchEnd          int    `json:"lunch_end"`
}

// RetryConfig controls per-item retry behavior for transient send failures.
type RetryConfig struct {
	MaxRetries         int      `json:"max_retries"`
	RetryDelaySeconds  int      `json:"retry_delay_seconds"`
	ExponentialBackoff bool     `json:"exponential_backoff"`
	RetryableErrors    []string `json:"retryable_errors,omitempty"`
}

// Config is the resolved, immutable configuration of a campaign. All ranges
// are fully populated after merging user input over channel-age defaults.
type Config struct {
	MessageDelay  Range         `json:"message_delay"`  // seconds, per API call
	ContactDelay  Range         `json:"contact_delay"`  // seconds, between recipients
	RestDelay     Range         `json:"rest_delay"`     // minutes
	RestThreshold Range         `json:"rest_threshold"` // messages between rests
	DailyLimit    Range         `json:"daily_limit"`    // messages per day
	BusinessHours BusinessHours `json:"business_hours"`
	Retry         RetryConfig   `json:"retry"`
	AccountAge    AccountAge    `json:"account_age"`
	Workers       int           `json:"workers"`
}

// ConfigInput is the user-supplied portion of a campaign creation request.
// Nil fields fall through to the channel-age default; non-nil leaves fully
// replace the default at that key.
type ConfigInput struct {
	MessageDelay  *Range              `json:"message_delay,omitempty"`
	ContactDelay  *Range              `json:"contact_delay,omitempty"`
	RestDelay     *Range              `json:"rest_delay,omitempty"`
	RestThreshold *Range              `json:"rest_threshold,omitempty"`
	DailyLimit    *Range              `json:"daily_limit,omitempty"`
	BusinessHours *BusinessHoursInput `json:"business_hours,omitempty"`
	Retry         *RetryInput         `json:"retry,omitempty"`
	AccountAge    AccountAge          `json:"account_age,omitempty"`
	Workers       *int                `json:"workers,omitempty"`
}

// BusinessHoursInput mirrors BusinessHours with optional leaves so the merge
// is per-key, not per-section.
type BusinessHoursInput struct {
	Enabled           *bool   `json:"enabled,omitempty"`
	StartHour         *int    `json:"start_hour,omitempty"`
	EndHour           *int    `json:"end_hour,omitempty"`
	Timezone          *string `json:"timezone,omitempty"`
	ExcludeWeekends   *bool   `json:"exclude_weekends,omitempty"`
	ExcludeLunchBreak *bool   `json:"exclude_lunch_break,omitempty"`
	LunchStart        *int    `json:"lunch_start,omitempty"`
	LunchEnd          *int    `json:"lunch_end,omitempty"`
}

// RetryInput mirrors RetryConfig with optional leaves.
type RetryInput struct {
	MaxRetries         *int     `json:"max_retries,omitempty"`
	RetryDelaySeconds  *int     `json:"retry_delay_seconds,omitempty"`
	ExponentialBackoff *bool    `json:"exponential_backoff,omitempty"`
	RetryableErrors    []string `json:"retryable_errors,omitempty"`
}

// ageDefaults are the channel-age safety defaults. Only fields the user
// omitted are taken from here.
var ageDefaults = map[AccountAge]Config{
	AgeNew: {
		MessageDelay: Range{2, 10},
		ContactDelay: Range{90, 300},
		DailyLimit:   Range{40, 60},
	},
	AgeWarming: {
		MessageDelay: Range{2, 10},
		ContactDelay: Range{60, 180},
		DailyLimit:   Range{80, 120},
	},
	AgeEstablished: {
		MessageDelay: Range{2, 10},
		ContactDelay: Range{45, 150},
		DailyLimit:   Range{150, 200},
	},
}

// DefaultConfig returns the full default configuration for a channel-age
// class. Unknown ages fall back to NEW, the most conservative tier.
func DefaultConfig(age AccountAge) Config {
	base, ok := ageDefaults[age]
	if !ok {
		age = AgeNew
		base = ageDefaults[AgeNew]
	}
	base.RestDelay = Range{60, 120}
	base.RestThreshold = Range{15, 25}
	base.BusinessHours = BusinessHours{
		Enabled:           false,
		StartHour:         9,
		EndHour:           18,
		Timezone:          "UTC",
		ExcludeWeekends:   true,
		ExcludeLunchBreak: false,
		LunchStart:        12,
		LunchEnd:          13,
	}
	base.Retry = RetryConfig{
		MaxRetries:        3,
		RetryDelaySeconds: 30,
	}
	base.AccountAge = age
	base.Workers = 1
	return base
}

// ResolveConfig merges user input over the channel-age defaults. A user value
// fully replaces the default at its leaf key; leaves the user did not set
// fall through unchanged. This is deliberately not a shallow section merge:
// setting business_hours.start_hour must not clobber the default end_hour.
func ResolveConfig(in ConfigInput) Config {
	cfg := DefaultConfig(in.AccountAge)

	if in.MessageDelay != nil {
		cfg.MessageDelay = *in.MessageDelay
	}
	if in.ContactDelay != nil {
		cfg.ContactDelay = *in.ContactDelay
	}
	if in.RestDelay != nil {
		cfg.RestDelay = *in.RestDelay
	}
	if in.RestThreshold != nil {
		cfg.RestThreshold = *in.RestThreshold
	}
	if in.DailyLimit != nil {
		cfg.DailyLimit = *in.DailyLimit
	}
	if in.Workers != nil && *in.Workers > 0 {
		cfg.Workers = *in.Workers
	}

	if bh := in.BusinessHours; bh != nil {
		if bh.Enabled != nil {
			cfg.BusinessHours.Enabled = *bh.Enabled
		}
		if bh.StartHour != nil {
			cfg.BusinessHours.StartHour = *bh.StartHour
		}
		if bh.EndHour != nil {
			cfg.BusinessHours.EndHour = *bh.EndHour
		}
		if bh.Timezone != nil {
			cfg.BusinessHours.Timezone = *bh.Timezone
		}
		if bh.ExcludeWeekends != nil {
			cfg.BusinessHours.ExcludeWeekends = *bh.ExcludeWeekends
		}
		if bh.ExcludeLunchBreak != nil {
			cfg.BusinessHours.ExcludeLunchBreak = *bh.ExcludeLunchBreak
		}
		if bh.LunchStart != nil {
			cfg.BusinessHours.LunchStart = *bh.LunchStart
		}
		if bh.LunchEnd != nil {
			cfg.BusinessHours.LunchEnd = *bh.LunchEnd
		}
	}

	if r := in.Retry; r != nil {
		if r.MaxRetries != nil {
			cfg.Retry.MaxRetries = *r.MaxRetries
		}
		if r.RetryDelaySeconds != nil {
			cfg.Retry.RetryDelaySeconds = *r.RetryDelaySeconds
		}
		if r.ExponentialBackoff != nil {
			cfg.Retry.ExponentialBackoff = *r.ExponentialBackoff
		}
		if len(r.RetryableErrors) > 0 {
			cfg.Retry.RetryableErrors = r.RetryableErrors
		}
	}

	return cfg
}

// Validate rejects ranges that cannot be drawn from.
func (c Config) Validate() error {
	for _, r := range []struct {
		name string
		r    Range
	}{
		{"message_delay", c.MessageDelay},
		{"contact_delay", c.ContactDelay},
		{"rest_delay", c.RestDelay},
		{"rest_threshold", c.RestThreshold},
		{"daily_limit", c.DailyLimit},
	} {
		if r.r.Min < 0 || r.r.Max < r.r.Min {
			return NewError(KindValidation, "invalid %s range: min=%d max=%d", r.name, r.r.Min, r.r.Max)
		}
	}
	if c.BusinessHours.Enabled {
		bh := c.BusinessHours
		if bh.StartHour < 0 || bh.StartHour > 23 || bh.EndHour < 1 || bh.EndHour > 24 || bh.EndHour <= bh.StartHour {
			return NewError(KindValidation, "invalid business hours window: %d-%d", bh.StartHour, bh.EndHour)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return NewError(KindValidation, "max_retries must be >= 0")
	}
	return nil
}
