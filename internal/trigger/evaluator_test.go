package trigger

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskpet/internal/model"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func TestComputeNextRunInterval(t *testing.T) {
	from := ms(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	next := ComputeNextRun("interval", `{"seconds":60}`, from)
	require.NotNil(t, next)
	assert.Equal(t, from+60000, *next)

	tests := []struct {
		name   string
		config string
	}{
		{name: "zero seconds", config: `{"seconds":0}`},
		{name: "negative seconds", config: `{"seconds":-5}`},
		{name: "missing seconds", config: `{}`},
		{name: "wrong type", config: `{"seconds":"soon"}`},
		{name: "not json", config: `every minute`},
		{name: "overflowing seconds", config: `{"seconds":9223372036854775}`},
		{name: "max int64 seconds", config: `{"seconds":9223372036854775807}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ComputeNextRun("interval", tt.config, from))
		})
	}
}

func TestComputeNextRunIntervalNearOverflow(t *testing.T) {
	from := int64(1750000000000)
	seconds := (math.MaxInt64 - from) / 1000

	next := ComputeNextRun("interval", fmt.Sprintf(`{"seconds":%d}`, seconds), from)
	require.NotNil(t, next)
	assert.Greater(t, *next, from)

	assert.Nil(t, ComputeNextRun("interval", fmt.Sprintf(`{"seconds":%d}`, seconds+1), from))
}

func TestComputeNextRunCronDaily(t *testing.T) {
	cfg := `{"expression":"0 9 * * *"}`

	before := ms(time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC))
	next := ComputeNextRun("cron", cfg, before)
	require.NotNil(t, next)
	assert.Equal(t, ms(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)), *next)

	after := ms(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))
	next = ComputeNextRun("cron", cfg, after)
	require.NotNil(t, next)
	assert.Equal(t, ms(time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)), *next)
}

func TestComputeNextRunCronStrictlyAfter(t *testing.T) {
	exact := ms(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	next := ComputeNextRun("cron", `{"expression":"0 9 * * *"}`, exact)
	require.NotNil(t, next)
	assert.Equal(t, ms(time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)), *next)
}

func TestComputeNextRunCronInvalid(t *testing.T) {
	from := ms(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	for _, cfg := range []string{
		`{"expression":"not a cron"}`,
		`{"expression":"0 9 * *"}`,
		`{"expression":"@daily"}`,
		`{"expression":"0 0 30 2 *"}`,
		`{}`,
		`[]`,
	} {
		assert.Nil(t, ComputeNextRun("cron", cfg, from), cfg)
	}
}

func TestComputeNextRunNeverScheduled(t *testing.T) {
	from := time.Now().UnixMilli()
	assert.Nil(t, ComputeNextRun("manual", `{}`, from))
	assert.Nil(t, ComputeNextRun("event", `{"name":"startup"}`, from))
	assert.Nil(t, ComputeNextRun("sunrise", `{"seconds":10}`, from))
}

func TestEvaluatorLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	e := Evaluator{Location: loc}

	from := ms(time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC)) // 08:30 local
	next := e.NextRun("cron", `{"expression":"0 9 * * *"}`, from)
	require.NotNil(t, next)
	assert.Equal(t, ms(time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC)), *next)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("interval", `{"seconds":5}`))
	assert.NoError(t, Validate("cron", `{"expression":"*/5 * * * *"}`))
	assert.NoError(t, Validate("manual", ``))
	assert.Error(t, Validate("interval", `{"seconds":0}`))
	assert.ErrorIs(t, Validate("interval", `{"seconds":9223372036854775}`), model.ErrConfigDecode)
	assert.Error(t, Validate("cron", `{"expression":"bogus"}`))
	assert.Error(t, Validate("sunrise", `{}`))
}
