package scheduler

import (
	"fmt"
	"time"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

// NextRun returns the soonest time strictly after now that matches cfg,
// evaluated in now's location. Monthly schedules whose day does not exist
// in a month run on that month's last day.
func NextRun(cfg models.ScheduleConfig, now time.Time) (time.Time, error) {
	if err := cfg.Validate(); err != nil {
		return time.Time{}, err
	}
	loc := now.Location()
	y, m, d := now.Date()

	switch cfg.Frequency {
	case models.FrequencyDaily:
		t := time.Date(y, m, d, cfg.Hour, 0, 0, 0, loc)
		if !t.After(now) {
			t = time.Date(y, m, d+1, cfg.Hour, 0, 0, 0, loc)
		}
		return t, nil

	case models.FrequencyWeekly:
		ahead := (*cfg.DayOfWeek - int(now.Weekday()) + 7) % 7
		t := time.Date(y, m, d+ahead, cfg.Hour, 0, 0, 0, loc)
		if !t.After(now) {
			t = time.Date(y, m, d+ahead+7, cfg.Hour, 0, 0, 0, loc)
		}
		return t, nil

	case models.FrequencyMonthly:
		for offset := 0; offset < 2; offset++ {
			first := time.Date(y, m+time.Month(offset), 1, 0, 0, 0, 0, loc)
			day := min(*cfg.DayOfMonth, daysIn(first.Year(), first.Month(), loc))
			t := time.Date(first.Year(), first.Month(), day, cfg.Hour, 0, 0, 0, loc)
			if t.After(now) {
				return t, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: no next run for %+v", models.ErrInvalidSchedule, cfg)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
