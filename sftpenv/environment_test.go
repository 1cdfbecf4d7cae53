package sftpenv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuilderRoundTrip(t *testing.T) {
	env := NewBuilder().
		WithUsername("alice").
		WithClientConnectionCount(5).
		WithClientConnectionWaitTimeout(250 * time.Millisecond).
		Build()

	user, ok := env.Username()
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, 5, env.ClientConnectionCount())
	assert.Equal(t, 250*time.Millisecond, env.ClientConnectionWaitTimeout())
}

func TestClientConnectionCountClampsToOne(t *testing.T) {
	env := NewBuilder().WithClientConnectionCount(0).Build()
	assert.Equal(t, 1, env.ClientConnectionCount())

	unset := NewBuilder().Build()
	assert.Equal(t, 1, unset.ClientConnectionCount())
}

func TestClientConnectionWaitTimeoutDefaultsToZero(t *testing.T) {
	env := NewBuilder().Build()
	assert.Equal(t, time.Duration(0), env.ClientConnectionWaitTimeout())
}

func TestCloneIsIndependent(t *testing.T) {
	b := NewBuilder().WithUsername("bob")
	env := b.Build()
	b.WithUsername("mallory") // mutating the builder after Build

	user, _ := env.Username()
	assert.Equal(t, "bob", user, "Build must snapshot, not alias, the builder's map")
}

func TestServerAliveAndSocketSettingsRoundTrip(t *testing.T) {
	env := NewBuilder().
		WithServerAliveInterval(15 * time.Second).
		WithServerAliveCountMax(3).
		WithSocketTimeout(45 * time.Second).
		WithHostKeyAlias("prod-host").
		WithAgentForwarding(true).
		Build()

	interval, ok := env.ServerAliveInterval()
	assert.True(t, ok)
	assert.Equal(t, 15*time.Second, interval)

	countMax, ok := env.ServerAliveCountMax()
	assert.True(t, ok)
	assert.Equal(t, 3, countMax)

	timeout, ok := env.SocketTimeout()
	assert.True(t, ok)
	assert.Equal(t, 45*time.Second, timeout)

	alias, ok := env.HostKeyAlias()
	assert.True(t, ok)
	assert.Equal(t, "prod-host", alias)

	forwarding, ok := env.AgentForwarding()
	assert.True(t, ok)
	assert.True(t, forwarding)
}

func TestUnknownKeysAreIgnoredButInspectable(t *testing.T) {
	env := NewBuilder().Set("unknownFutureKey", "value").Build()
	assert.True(t, env.Has("unknownFutureKey"))
	v, ok := env.Raw("unknownFutureKey")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}
