// Package schedule parses schedule trigger expressions into cron schedules.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned for expressions that yield no schedule.
var ErrInvalidSchedule = errors.New("invalid schedule expression")

var intervalPattern = regexp.MustCompile(`^(?:every\s+)?(\d+)?\s*(second|minute|hour|day|week)s?$`)

var units = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseInterval turns a fixed-rate expression into its period. It accepts
// "N unit" with unit one of second, minute, hour, day or week (singular or
// plural, optionally prefixed by "every"), Go durations such as "90s", and
// "@every <duration>". Anything else yields 0.
func ParseInterval(expr string) time.Duration {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return 0
	}

	if rest, ok := strings.CutPrefix(expr, "@every"); ok {
		expr = strings.TrimSpace(rest)
	}

	if match := intervalPattern.FindStringSubmatch(expr); match != nil {
		count := 1

		if match[1] != "" {
			n, err := strconv.Atoi(match[1])
			if err != nil {
				return 0
			}

			count = n
		}

		return time.Duration(count) * units[match[2]]
	}

	duration, err := time.ParseDuration(expr)
	if err != nil || duration <= 0 {
		return 0
	}

	return duration
}

// Parse returns the schedule for an interval expression or, failing that, a
// standard five-field cron expression or descriptor such as "@hourly".
func Parse(expr string) (cron.Schedule, error) {
	if interval := ParseInterval(expr); interval > 0 {
		if interval < time.Second {
			return nil, fmt.Errorf("%w: %q is shorter than one second", ErrInvalidSchedule, expr)
		}

		return cron.Every(interval), nil
	}

	sched, err := cron.ParseStandard(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}

	return sched, nil
}

// Logger adapts slog to cron.Logger. Cron's informational chatter is logged at debug level.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) cron.Logger {
	return Logger{logger: logger}
}

func (l Logger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l Logger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
