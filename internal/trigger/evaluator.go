// Package trigger computes the next eligible run time of a task from its
// trigger type and raw config.
package trigger

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/t77yq/taskpet/internal/model"
)

// Five fields: minute, hour, day-of-month, month, day-of-week. The second is
// always zero.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// IntervalConfig is the config shape of an interval trigger
type IntervalConfig struct {
	Seconds int64 `json:"seconds"`
}

// CronConfig is the config shape of a cron trigger
type CronConfig struct {
	Expression string `json:"expression"`
}

// Evaluator computes next run timestamps. The zero value evaluates cron
// expressions in UTC.
type Evaluator struct {
	Location *time.Location
}

var defaultEvaluator = Evaluator{}

// ComputeNextRun returns the next run in milliseconds after fromMs, or nil
// when the trigger cannot produce one. It never fails: malformed config is
// reported as "no next run".
func ComputeNextRun(triggerType, triggerConfig string, fromMs int64) *int64 {
	return defaultEvaluator.NextRun(triggerType, triggerConfig, fromMs)
}

// NextRun is ComputeNextRun using the evaluator's location for cron.
func (e Evaluator) NextRun(triggerType, triggerConfig string, fromMs int64) *int64 {
	switch triggerType {
	case model.TriggerInterval:
		cfg, err := decodeInterval(triggerConfig)
		if err != nil || cfg.Seconds <= 0 || intervalOverflows(cfg.Seconds, fromMs) {
			return nil
		}
		next := fromMs + cfg.Seconds*1000
		return &next
	case model.TriggerCron:
		cfg, err := decodeCron(triggerConfig)
		if err != nil {
			return nil
		}
		schedule, err := ParseCron(cfg.Expression)
		if err != nil {
			return nil
		}
		return e.cronNext(schedule, fromMs)
	default:
		// manual, event and unknown types are never auto-scheduled
		return nil
	}
}

func (e Evaluator) cronNext(schedule cron.Schedule, fromMs int64) *int64 {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	from := time.UnixMilli(fromMs).In(loc)
	next := schedule.Next(from)
	if next.IsZero() {
		return nil
	}
	ms := next.UnixMilli()
	return &ms
}

// ParseCron parses a 5-field cron expression. Descriptors such as @daily are
// rejected.
func ParseCron(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	if strings.HasPrefix(trimmed, "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// Validate reports why a trigger config would never schedule. Manual and
// event triggers are always valid.
func Validate(triggerType, triggerConfig string) error {
	switch triggerType {
	case model.TriggerInterval:
		cfg, err := decodeInterval(triggerConfig)
		if err != nil {
			return err
		}
		if cfg.Seconds <= 0 {
			return fmt.Errorf("%w: interval seconds must be positive", model.ErrConfigDecode)
		}
		if intervalOverflows(cfg.Seconds, time.Now().UnixMilli()) {
			return fmt.Errorf("%w: interval seconds out of range", model.ErrConfigDecode)
		}
	case model.TriggerCron:
		cfg, err := decodeCron(triggerConfig)
		if err != nil {
			return err
		}
		if _, err := ParseCron(cfg.Expression); err != nil {
			return fmt.Errorf("%w: %v", model.ErrConfigDecode, err)
		}
	case model.TriggerManual, model.TriggerEvent:
	default:
		return fmt.Errorf("%w: unknown trigger type %q", model.ErrConfigDecode, triggerType)
	}
	return nil
}

// intervalOverflows reports whether fromMs plus seconds does not fit in an int64
func intervalOverflows(seconds, fromMs int64) bool {
	return seconds > (math.MaxInt64-fromMs)/1000
}

func decodeInterval(raw string) (IntervalConfig, error) {
	var cfg struct {
		Seconds *int64 `json:"seconds"`
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return IntervalConfig{}, fmt.Errorf("%w: interval trigger: %v", model.ErrConfigDecode, err)
	}
	if cfg.Seconds == nil {
		return IntervalConfig{}, fmt.Errorf("%w: interval trigger: missing field seconds", model.ErrConfigDecode)
	}
	return IntervalConfig{Seconds: *cfg.Seconds}, nil
}

func decodeCron(raw string) (CronConfig, error) {
	var cfg CronConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return CronConfig{}, fmt.Errorf("%w: cron trigger: %v", model.ErrConfigDecode, err)
	}
	if strings.TrimSpace(cfg.Expression) == "" {
		return CronConfig{}, fmt.Errorf("%w: cron trigger: missing field expression", model.ErrConfigDecode)
	}
	return cfg, nil
}
