package cron

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    Schedule
		wantErr bool
	}{
		{"interval", "@every 15m", Schedule{Kind: ScheduleKindEvery, Every: 15 * time.Minute}, false},
		{"cron expression", "0 4 * * *", Schedule{Kind: ScheduleKindCron, Expr: "0 4 * * *"}, false},
		{"descriptor", "@daily", Schedule{Kind: ScheduleKindCron, Expr: "@daily"}, false},
		{"trimmed", "  @every 1h ", Schedule{Kind: ScheduleKindEvery, Every: time.Hour}, false},
		{"empty", "", Schedule{}, true},
		{"bad interval", "@every soon", Schedule{}, true},
		{"zero interval", "@every 0s", Schedule{}, true},
		{"bad expression", "61 * * * *", Schedule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	t.Run("every", func(t *testing.T) {
		next, err := CalculateNextRun(Schedule{Kind: ScheduleKindEvery, Every: time.Minute}, from)
		require.NoError(t, err)
		assert.Equal(t, from.Add(time.Minute), next)
	})

	t.Run("cron", func(t *testing.T) {
		next, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 4 * * *"}, from)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("cron in timezone", func(t *testing.T) {
		next, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 12 * * *", TZ: "Asia/Shanghai"}, from)
		require.NoError(t, err)
		// 10:30 UTC is 18:30 in Shanghai, so the next noon there is 04:00 UTC tomorrow
		assert.Equal(t, time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("invalid timezone", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 12 * * *", TZ: "Mars/Olympus"}, from)
		assert.Error(t, err)
	})

	t.Run("missing expression", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron}, from)
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: "at"}, from)
		assert.Error(t, err)
	})
}
