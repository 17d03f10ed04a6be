package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.NotNil(t, cfg)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 15, cfg.Schedule.TermWeeks)
	assert.Equal(t, 5, cfg.Schedule.DaysPerWeek)
	assert.Equal(t, 8, cfg.Schedule.PeriodsPerDay())
	assert.True(t, cfg.Schedule.EnforceUnitLimit)
	assert.Equal(t, 30*time.Second, cfg.Locks.SweepInterval)
	assert.Equal(t, 15*time.Second, cfg.Events.ConfirmationTimeout)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("SCHEDULE_UNIT_DURATION", "45m")
	v.Set("SCHEDULE_DAY_LENGTH", "9h")
	v.Set("STORE_DRIVER", "MEMORY")
	v.Set("LOCK_SWEEP_INTERVAL", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg := fromViper(v)
	assert.Equal(t, 12, cfg.Schedule.PeriodsPerDay())
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Locks.SweepInterval)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestPeriodsPerDayGuardsZeroUnit(t *testing.T) {
	assert.Equal(t, 0, ScheduleConfig{DayLength: time.Hour}.PeriodsPerDay())
}
