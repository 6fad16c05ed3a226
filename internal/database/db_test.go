package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolConfigDefaults(t *testing.T) {
	t.Run("zero values use defaults", func(t *testing.T) {
		p := PoolConfig{}
		p.applyDefaults()
		assert.Equal(t, 25, p.MaxOpenConns)
		assert.Equal(t, 5, p.MaxIdleConns)
		assert.Equal(t, 5*time.Minute, p.ConnMaxLifetime)
	})

	t.Run("idle is capped by open", func(t *testing.T) {
		p := PoolConfig{MaxOpenConns: 3, MaxIdleConns: 10, ConnMaxLifetime: time.Minute}
		p.applyDefaults()
		assert.Equal(t, 3, p.MaxOpenConns)
		assert.Equal(t, 3, p.MaxIdleConns)
		assert.Equal(t, time.Minute, p.ConnMaxLifetime)
	})
}
