package torrent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigNormalize(t *testing.T) {
	def, err := DefaultConfig()
	require.NoError(t, err)
	cfg := &Config{}
	require.NoError(t, cfg.normalize())
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.RetryDelay, cfg.RetryDelay)
	assert.Equal(t, def.IdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, def.KeepAliveInterval, cfg.KeepAliveInterval)
	assert.Equal(t, def.DialRetries, cfg.DialRetries)
	assert.NotNil(t, cfg.Dial)
	assert.NotNil(t, cfg.Fs)
	assert.NotEqual(t, [20]byte{}, cfg.PeerID)
	//set fields are kept
	cfg = &Config{Port: 7000, RetryDelay: time.Millisecond, IdleTimeout: time.Second}
	require.NoError(t, cfg.normalize())
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, time.Second, cfg.IdleTimeout)
}
