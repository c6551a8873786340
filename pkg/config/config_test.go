package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v, "confession-service")

	cfg, err := fromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "confession-service", cfg.App.Name)
	assert.Equal(t, 60*time.Second, cfg.Confession.Cooldown)
	assert.Equal(t, 30*time.Second, cfg.Comment.Window)
	assert.Equal(t, 3, cfg.Comment.MaxCount)
	assert.Equal(t, cfg.Comment.Window, cfg.Compaction.Window)
	assert.Equal(t, "sql", cfg.Throttle.Backend)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "* * * * *", cfg.Notify.RetryCron)
	assert.Equal(t, 8, cfg.Notify.MaxAttempts)
}

func TestOverridesAndValidation(t *testing.T) {
	v := viper.New()
	setDefaults(v, "confession-service")
	v.Set("comment.window", "45s")
	v.Set("admin.ids", []string{"root", "ops"})

	cfg, err := fromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Compaction.Window)
	assert.Equal(t, []string{"root", "ops"}, cfg.Admin.IDs)

	cases := map[string]func(v *viper.Viper){
		"driver":     func(v *viper.Viper) { v.Set("database.driver", "mysql") },
		"backend":    func(v *viper.Viper) { v.Set("throttle.backend", "memory") },
		"attempts":   func(v *viper.Viper) { v.Set("database.max_attempts", 0) },
		"max count":  func(v *viper.Viper) { v.Set("comment.max_count", 0) },
		"lengths":    func(v *viper.Viper) { v.Set("confession.max_length", 2) },
		"deliveries": func(v *viper.Viper) { v.Set("notify.max_attempts", 0) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			setDefaults(v, "confession-service")
			mutate(v)
			_, err := fromViper(v)
			assert.Error(t, err)
		})
	}
}
