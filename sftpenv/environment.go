// Package sftpenv implements the typed, validated view over a caller-supplied
// string-keyed map that configures session, auth, channel, and pool
// settings. It is a fluent "map-as-builder" reduced to an immutable builder
// plus a plain record.
package sftpenv

import (
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Well-known environment keys.
const (
	KeyUsername                   = "username"
	KeyPassword                   = "password"
	KeyConnectTimeout             = "connectTimeout"
	KeyTimeOut                    = "timeOut"
	KeyClientVersion               = "clientVersion"
	KeyHostKeyAlias                = "hostKeyAlias"
	KeyServerAliveInterval         = "serverAliveInterval"
	KeyServerAliveCountMax         = "serverAliveCountMax"
	KeyProxy                       = "proxy"
	KeySocketFactory               = "socketFactory"
	KeyUserInfo                    = "userInfo"
	KeyConfig                      = "config"
	KeyIdentityRepository          = "identityRepository"
	KeyIdentities                  = "identities"
	KeyHostKeyRepository           = "hostKeyRepository"
	KeyKnownHosts                  = "knownHosts"
	KeyAgentForwarding             = "agentForwarding"
	// KeyFilenameEncoding is accepted and stored but has no typed accessor:
	// neither pkg/sftp nor golang.org/x/crypto/ssh exposes a hook to
	// transcode path bytes in flight, so there is nothing downstream for a
	// materialized value to drive. Retrieve it with Raw if a caller-supplied
	// Factory or other extension wants to interpret it itself.
	KeyFilenameEncoding            = "filenameEncoding"
	KeyDefaultDir                  = "defaultDir"
	KeyClientConnectionCount       = "clientConnectionCount"
	KeyClientConnectionWaitTimeout = "clientConnectionWaitTimeout"
	KeyFileSystemExceptionFactory  = "fileSystemExceptionFactory"
	KeyIdentityAgentSocket         = "identityAgentSocket"
)

// Dialer describes a connector that opens a stream by network and address.
// No function in this package takes or calls a Dialer.
type Dialer interface {
	Dial(network, address string) (io.ReadWriteCloser, error)
}

// Environment is the immutable, typed view produced by materializing a
// caller-supplied map. Construct one with a Builder.
type Environment struct {
	values map[string]any
}

// New wraps a raw map as an Environment without cloning it, so later changes
// to values are visible through the result until it is cloned. Prefer
// NewBuilder for caller-facing construction.
func New(values map[string]any) Environment {
	return Environment{values: values}
}

// Clone produces an independent deep-enough copy: the top-level map is
// duplicated, but identity-bearing sub-objects (sockets, repositories,
// ssh.Signer values, etc.) are shared by reference. A pool takes its own
// clone on open, so later caller mutation of the original map cannot affect
// an already-open filesystem.
func (e Environment) Clone() Environment {
	cloned := make(map[string]any, len(e.values))
	for k, v := range e.values {
		cloned[k] = v
	}
	return Environment{values: cloned}
}

func (e Environment) str(key string) (string, bool) {
	v, ok := e.values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (e Environment) durationMillis(key string) (time.Duration, bool) {
	v, ok := e.values[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case time.Duration:
		return n, true
	case int:
		return time.Duration(n) * time.Millisecond, true
	case int64:
		return time.Duration(n) * time.Millisecond, true
	default:
		return 0, false
	}
}

func (e Environment) intVal(key string) (int, bool) {
	v, ok := e.values[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

func (e Environment) boolVal(key string) (bool, bool) {
	v, ok := e.values[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Username returns the configured auth username, empty if unset. The URI's
// user-info takes precedence at the call site that merges URI and
// Environment; Environment only supplies the fallback.
func (e Environment) Username() (string, bool) { return e.str(KeyUsername) }

// Password returns the configured auth password, empty if unset.
func (e Environment) Password() (string, bool) { return e.str(KeyPassword) }

// ConnectTimeout returns the session/channel connect timeout.
func (e Environment) ConnectTimeout() (time.Duration, bool) { return e.durationMillis(KeyConnectTimeout) }

// SocketTimeout returns the socket read timeout (the "timeOut" key).
func (e Environment) SocketTimeout() (time.Duration, bool) { return e.durationMillis(KeyTimeOut) }

// ClientVersion returns the SSH client version string to present.
func (e Environment) ClientVersion() (string, bool) { return e.str(KeyClientVersion) }

// HostKeyAlias returns the alias used for host-key lookups.
func (e Environment) HostKeyAlias() (string, bool) { return e.str(KeyHostKeyAlias) }

// ServerAliveInterval returns the keep-alive send interval.
func (e Environment) ServerAliveInterval() (time.Duration, bool) {
	return e.durationMillis(KeyServerAliveInterval)
}

// ServerAliveCountMax returns the number of missed keep-alives tolerated
// before the connection is considered dead.
func (e Environment) ServerAliveCountMax() (int, bool) { return e.intVal(KeyServerAliveCountMax) }

// KnownHosts returns the known-hosts file path, if configured as a string;
// callers wanting a pre-built ssh.HostKeyCallback should store one under
// KeyHostKeyRepository instead and retrieve it with HostKeyCallback.
func (e Environment) KnownHosts() (string, bool) { return e.str(KeyKnownHosts) }

// HostKeyCallback returns a pre-built ssh.HostKeyCallback stored under
// KeyHostKeyRepository, if present.
func (e Environment) HostKeyCallback() (ssh.HostKeyCallback, bool) {
	v, ok := e.values[KeyHostKeyRepository]
	if !ok {
		return nil, false
	}
	cb, ok := v.(ssh.HostKeyCallback)
	return cb, ok
}

// Identities returns pre-parsed ssh.Signer identities, if configured.
func (e Environment) Identities() ([]ssh.Signer, bool) {
	v, ok := e.values[KeyIdentities]
	if !ok {
		return nil, false
	}
	signers, ok := v.([]ssh.Signer)
	return signers, ok
}

// IdentityAgentSocket returns the ssh-agent socket path, if configured as a
// string under KeyIdentityAgentSocket.
func (e Environment) IdentityAgentSocket() (string, bool) { return e.str(KeyIdentityAgentSocket) }

// AgentSigners dials the configured ssh-agent socket and lists its signers,
// for merging into the auth method list alongside any static Identities.
// Returns (nil, nil) when no agent socket is configured.
func (e Environment) AgentSigners() ([]ssh.Signer, error) {
	sock, ok := e.IdentityAgentSocket()
	if !ok {
		return nil, nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, err
	}
	return agent.NewClient(conn).Signers()
}

// ResolveHostKeyCallback builds an ssh.HostKeyCallback. A pre-built
// callback stored under KeyHostKeyRepository takes precedence; otherwise a
// KnownHosts file path, if configured, is parsed with
// golang.org/x/crypto/ssh/knownhosts.
func (e Environment) ResolveHostKeyCallback() (ssh.HostKeyCallback, bool, error) {
	if cb, ok := e.HostKeyCallback(); ok {
		return cb, true, nil
	}
	path, ok := e.KnownHosts()
	if !ok {
		return nil, false, nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, false, err
	}
	return cb, true, nil
}

// AgentForwarding reports whether agent forwarding should be requested on
// the channel.
func (e Environment) AgentForwarding() (bool, bool) { return e.boolVal(KeyAgentForwarding) }

// DefaultDir returns the directory to chdir into after connect.
func (e Environment) DefaultDir() (string, bool) { return e.str(KeyDefaultDir) }

// ClientConnectionCount returns the pool capacity, clamped to at least 1.
func (e Environment) ClientConnectionCount() int {
	n, ok := e.intVal(KeyClientConnectionCount)
	if !ok || n < 1 {
		return 1
	}
	return n
}

// ClientConnectionWaitTimeout returns the acquisition wait timeout; zero
// means wait indefinitely.
func (e Environment) ClientConnectionWaitTimeout() time.Duration {
	d, ok := e.durationMillis(KeyClientConnectionWaitTimeout)
	if !ok || d < 0 {
		return 0
	}
	return d
}

// ExceptionFactory returns the caller-supplied error-translation override,
// if any. The returned value is `any` here to avoid sfterrors depending
// back on this package; the provider performs the type assertion to
// sfterrors.Factory.
func (e Environment) ExceptionFactory() (any, bool) {
	v, ok := e.values[KeyFileSystemExceptionFactory]
	return v, ok
}

// Has reports whether key is present, regardless of type — unknown keys are
// ignored by the pool but remain inspectable by user code.
func (e Environment) Has(key string) bool {
	_, ok := e.values[key]
	return ok
}

// Raw returns the underlying map value for key, for keys this package does
// not give a typed accessor for (proxy, socketFactory, userInfo, config,
// identityRepository).
func (e Environment) Raw(key string) (any, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Builder assembles an Environment fluently, keeping the result immutable
// once Build is called.
type Builder struct {
	values map[string]any
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{values: make(map[string]any)}
}

// Set stores an arbitrary key/value pair, for keys without a dedicated
// With* method (proxy, socketFactory, userInfo, config, identityRepository,
// hostKeyRepository as an opaque object, identities as a raw list).
func (b *Builder) Set(key string, value any) *Builder {
	b.values[key] = value
	return b
}

func (b *Builder) WithUsername(v string) *Builder { return b.Set(KeyUsername, v) }
func (b *Builder) WithPassword(v string) *Builder { return b.Set(KeyPassword, v) }
func (b *Builder) WithConnectTimeout(d time.Duration) *Builder {
	return b.Set(KeyConnectTimeout, d)
}
func (b *Builder) WithSocketTimeout(d time.Duration) *Builder { return b.Set(KeyTimeOut, d) }
func (b *Builder) WithClientVersion(v string) *Builder        { return b.Set(KeyClientVersion, v) }
func (b *Builder) WithHostKeyAlias(v string) *Builder          { return b.Set(KeyHostKeyAlias, v) }
func (b *Builder) WithServerAliveInterval(d time.Duration) *Builder {
	return b.Set(KeyServerAliveInterval, d)
}
func (b *Builder) WithServerAliveCountMax(n int) *Builder { return b.Set(KeyServerAliveCountMax, n) }
func (b *Builder) WithKnownHosts(path string) *Builder    { return b.Set(KeyKnownHosts, path) }
func (b *Builder) WithHostKeyCallback(cb ssh.HostKeyCallback) *Builder {
	return b.Set(KeyHostKeyRepository, cb)
}
func (b *Builder) WithIdentities(signers []ssh.Signer) *Builder {
	return b.Set(KeyIdentities, signers)
}
func (b *Builder) WithIdentityAgentSocket(path string) *Builder {
	return b.Set(KeyIdentityAgentSocket, path)
}
func (b *Builder) WithAgentForwarding(v bool) *Builder { return b.Set(KeyAgentForwarding, v) }
func (b *Builder) WithDefaultDir(v string) *Builder    { return b.Set(KeyDefaultDir, v) }
func (b *Builder) WithClientConnectionCount(n int) *Builder {
	return b.Set(KeyClientConnectionCount, n)
}

// WithClientConnectionWaitTimeout stores d as a time.Duration, which
// durationMillis returns unchanged; only plain int or int64 values under
// this key are read as milliseconds.
func (b *Builder) WithClientConnectionWaitTimeout(d time.Duration) *Builder {
	return b.Set(KeyClientConnectionWaitTimeout, d)
}

func (b *Builder) WithExceptionFactory(f any) *Builder {
	return b.Set(KeyFileSystemExceptionFactory, f)
}

// Build finalizes the Builder into an Environment. The Builder remains
// usable afterward; further Set calls do not affect previously built
// Environments because Build clones the map.
func (b *Builder) Build() Environment {
	return Environment{values: b.values}.Clone()
}
