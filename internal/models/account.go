package models

import (
	"errors"
	"fmt"
	"time"
)

// Provider identifies a cloud provider family.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderAWS, ProviderGCP, ProviderAzure}

// ParseProvider converts s into a Provider, rejecting unknown values.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Frequency is the recurrence of a schedule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ErrInvalidSchedule is returned for schedule fields outside their ranges.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ScheduleConfig is the recurring trigger configuration of one account.
// DayOfWeek follows time.Weekday (0 = Sunday) and is required for weekly
// schedules; DayOfMonth is 1-31 and is required for monthly schedules.
type ScheduleConfig struct {
	Frequency  Frequency `json:"frequency"    yaml:"frequency"`
	Hour       int       `json:"hour"         yaml:"hour"`
	DayOfWeek  *int      `json:"day_of_week,omitempty"  yaml:"day_of_week,omitempty"`
	DayOfMonth *int      `json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
}

// Validate checks every field against its allowed range.
func (c ScheduleConfig) Validate() error {
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("%w: hour %d not in [0,23]", ErrInvalidSchedule, c.Hour)
	}
	switch c.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if c.DayOfWeek == nil {
			return fmt.Errorf("%w: weekly schedule requires day_of_week", ErrInvalidSchedule)
		}
		if *c.DayOfWeek < 0 || *c.DayOfWeek > 6 {
			return fmt.Errorf("%w: day_of_week %d not in [0,6]", ErrInvalidSchedule, *c.DayOfWeek)
		}
	case FrequencyMonthly:
		if c.DayOfMonth == nil {
			return fmt.Errorf("%w: monthly schedule requires day_of_month", ErrInvalidSchedule)
		}
		if *c.DayOfMonth < 1 || *c.DayOfMonth > 31 {
			return fmt.Errorf("%w: day_of_month %d not in [1,31]", ErrInvalidSchedule, *c.DayOfMonth)
		}
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, c.Frequency)
	}
	return nil
}

// Account is one audited cloud scope: an AWS account, a GCP project or an
// Azure subscription.
//
// Schedule is nil when automatic scans are disabled, and NextScheduledScan is
// nil exactly when Schedule is nil.
type Account struct {
	ID                string          `json:"id"`
	Provider          Provider        `json:"provider"`
	ExternalID        string          `json:"external_id"`
	Name              string          `json:"name"`
	Region            string          `json:"region"`
	EncryptedSecret   []byte          `json:"-"`
	Schedule          *ScheduleConfig `json:"schedule,omitempty"`
	NextScheduledScan *time.Time      `json:"next_scheduled_scan,omitempty"`
	LastScanAt        *time.Time      `json:"last_scan_at,omitempty"`
	OwnerID           string          `json:"owner_id"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ScheduleEnabled reports whether automatic scans are configured.
func (a *Account) ScheduleEnabled() bool {
	return a.Schedule != nil
}
