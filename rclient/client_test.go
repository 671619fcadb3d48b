package rclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddr(t *testing.T) {
	golden := []struct{ Addr, Normal string }{
		{"", "localhost:6379"},
		{":", "localhost:6379"},
		{"test.host", "test.host:6379"},
		{"test.host:", "test.host:6379"},
		{":99", "localhost:99"},
		{"/var/redis/../run/redis.sock", "/var/run/redis.sock"},
	}
	for _, g := range golden {
		assert.Equal(t, g.Normal, normalizeAddr(g.Addr), "normalizeAddr(%q)", g.Addr)
	}
}

func TestIsUnixAddr(t *testing.T) {
	assert.True(t, isUnixAddr("/tmp/redis.sock"))
	assert.False(t, isUnixAddr("localhost:6379"))
	assert.False(t, isUnixAddr(""))
}
