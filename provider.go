// Package sftpfs exposes a remote host's files, reachable over SFTP, as a
// mountable, path-addressable filesystem: a bounded pool of SSH/SFTP
// channels behind a façade that implements the usual directory, file,
// attribute, copy/move, and symlink operations, and a process-wide
// registry mapping normalized authorities to open filesystem instances.
package sftpfs

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/go-sftpfs/sftpfs/pool"
	"github.com/go-sftpfs/sftpfs/sfterrors"
	"github.com/go-sftpfs/sftpfs/sftpenv"
)

// Provider is a process-wide mapping from normalized authority to open
// FileSystem, with create-or-fail registration and lookup. It is exposed
// as an injectable dependency rather than bare global state; DefaultProvider
// is the process-scoped instance most callers want.
type Provider struct {
	mu  sync.Mutex
	fss map[authorityKey]*FileSystem
	log *logrus.Entry
}

// NewProvider constructs an empty, independent registry.
func NewProvider() *Provider {
	return &Provider{fss: make(map[authorityKey]*FileSystem), log: logrus.NewEntry(logrus.New())}
}

// DefaultProvider is the process-scoped registry used by package-level
// convenience wrappers; most applications need only one.
var DefaultProvider = NewProvider()

// NewFileSystem opens and registers a FileSystem for the authority encoded
// in rawURI, dialing env.ClientConnectionCount() channels. Concurrent
// NewFileSystem calls for the same authority are serialized by the
// registry's mutex so exactly one creation wins; the loser receives
// FileSystemAlreadyExists.
func (p *Provider) NewFileSystem(ctx context.Context, rawURI string, env sftpenv.Environment) (*FileSystem, error) {
	parsed, err := parseURI(rawURI)
	if err != nil {
		return nil, err
	}
	env = env.Clone()

	p.mu.Lock()
	if _, exists := p.fss[parsed.key]; exists {
		p.mu.Unlock()
		return nil, sfterrors.NewFileSystemAlreadyExists(buildAuthorityURI(parsed.key))
	}
	// Reserve the slot before dialing so a concurrent caller sees the
	// collision immediately instead of racing the dial.
	placeholder := &FileSystem{}
	p.fss[parsed.key] = placeholder
	p.mu.Unlock()

	fs, err := p.connect(ctx, parsed, env)
	if err != nil {
		p.mu.Lock()
		delete(p.fss, parsed.key)
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.fss[parsed.key] = fs
	p.mu.Unlock()
	return fs, nil
}

func (p *Provider) connect(ctx context.Context, parsed parsedURI, env sftpenv.Environment) (*FileSystem, error) {
	cfg, err := buildDialConfig(parsed, env)
	if err != nil {
		return nil, err
	}
	return p.connectDialer(ctx, parsed, env, pool.NewSSHDialer(cfg))
}

// connectDialer does the dial-pool-then-assemble work shared by connect's
// real SSH path and tests exercising the same sequence against a fake
// pool.Dialer.
func (p *Provider) connectDialer(ctx context.Context, parsed parsedURI, env sftpenv.Environment, dialer pool.Dialer) (*FileSystem, error) {
	capacity := env.ClientConnectionCount()
	waitTimeout := env.ClientConnectionWaitTimeout()

	poolOpts := []pool.Option{pool.WithLogger(p.log)}
	if n, ok := env.ServerAliveCountMax(); ok {
		poolOpts = append(poolOpts, pool.WithServerAliveCountMax(n))
	}

	chPool, err := pool.New(ctx, capacity, waitTimeout, dialer, poolOpts...)
	if err != nil {
		return nil, err
	}

	factory := sfterrors.Factory(sfterrors.DefaultFactory{})
	if custom, ok := env.ExceptionFactory(); ok {
		if f, ok := custom.(sfterrors.Factory); ok {
			factory = f
		}
	}

	defaultDir, err := capturePwd(ctx, chPool)
	if err != nil {
		_ = chPool.Close()
		return nil, err
	}

	fs := &FileSystem{
		provider:   p,
		key:        parsed.key,
		pool:       chPool,
		defaultDir: defaultDir,
		factory:    factory,
		locks:      newKeyedLock(),
		log:        p.log,
	}

	if interval, ok := env.ServerAliveInterval(); ok && interval > 0 {
		keepAliveCtx, cancel := context.WithCancel(context.Background())
		fs.keepAliveCancel = cancel
		fs.StartKeepAlive(keepAliveCtx, interval)
	}

	return fs, nil
}

// capturePwd borrows one channel from chPool and reads its resulting
// working directory, which reflects whatever DialConfig.DefaultDir chdir'd
// into (or the login directory, if none was configured). This is the
// default directory relative paths resolve against, not a copy of the
// configured string, since the server's actual cwd can differ (a symlinked
// or server-remapped home directory, or a server that ignores an empty
// DefaultDir differently than "/").
func capturePwd(ctx context.Context, chPool *pool.Pool) (string, error) {
	ch, err := chPool.GetOrCreate(ctx)
	if err != nil {
		return "", err
	}
	defer ch.Release()
	dir, err := ch.Client().Getwd()
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "/"
	}
	return dir, nil
}

func buildDialConfig(parsed parsedURI, env sftpenv.Environment) (pool.DialConfig, error) {
	username, _ := env.Username()
	if parsed.key.user != "" {
		username = parsed.key.user // URI wins over Environment
	}
	password := parsed.password
	if password == "" {
		password, _ = env.Password()
	}

	sshConfig := &ssh.ClientConfig{
		User:            username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	if cb, ok, err := env.ResolveHostKeyCallback(); err != nil {
		return pool.DialConfig{}, err
	} else if ok {
		sshConfig.HostKeyCallback = cb
	}
	if alias, ok := env.HostKeyAlias(); ok && alias != "" {
		// Substitute alias for the real hostname in the callback's lookup
		// key, so a known_hosts entry keyed on a stable alias still matches
		// when the address a caller dials by differs (round-robin DNS, a
		// jump host, a port-forwarded tunnel).
		inner := sshConfig.HostKeyCallback
		sshConfig.HostKeyCallback = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			return inner(alias, remote, key)
		}
	}
	if v, ok := env.ClientVersion(); ok {
		sshConfig.ClientVersion = v
	}
	if d, ok := env.ConnectTimeout(); ok {
		sshConfig.Timeout = d
	}

	var auths []ssh.AuthMethod
	if password != "" {
		auths = append(auths, ssh.Password(password))
	}
	var signers []ssh.Signer
	if s, ok := env.Identities(); ok {
		signers = append(signers, s...)
	}
	agentSigners, err := env.AgentSigners()
	if err != nil {
		return pool.DialConfig{}, err
	}
	signers = append(signers, agentSigners...)
	if len(signers) > 0 {
		auths = append(auths, ssh.PublicKeys(signers...))
	}
	sshConfig.Auth = auths

	defaultDir, _ := env.DefaultDir()
	socketTimeout, _ := env.SocketTimeout()
	agentForwarding, _ := env.AgentForwarding()
	agentSocket, _ := env.IdentityAgentSocket()

	port := parsed.key.port
	if port == 0 {
		port = defaultPort
	}

	return pool.DialConfig{
		Network:         "tcp",
		Address:         parsed.key.host + ":" + strconv.Itoa(port),
		SSHConfig:       sshConfig,
		DefaultDir:      defaultDir,
		SocketTimeout:   socketTimeout,
		AgentForwarding: agentForwarding,
		AgentSocket:     agentSocket,
	}, nil
}

// GetFileSystem looks up the filesystem already registered for rawURI's
// authority. It fails with FileSystemNotFound(normalized-uri) if none is
// registered.
func (p *Provider) GetFileSystem(rawURI string) (*FileSystem, error) {
	parsed, err := parseURI(rawURI)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	fs, ok := p.fss[parsed.key]
	p.mu.Unlock()
	if !ok {
		return nil, sfterrors.NewFileSystemNotFound(buildAuthorityURI(parsed.key))
	}
	return fs, nil
}

// GetPath resolves rawURI to a Path on its registered filesystem.
func (p *Provider) GetPath(rawURI string) (Path, error) {
	parsed, err := parseURI(rawURI)
	if err != nil {
		return Path{}, err
	}
	fs, err := p.GetFileSystem(rawURI)
	if err != nil {
		return Path{}, err
	}
	return newPath(fs, parsed.path), nil
}

// KeepAlive verifies fs was produced by this Provider (else
// ProviderMismatch — a nil fs also raises ProviderMismatch) and delegates
// to the pool's keep-alive sweep.
func (p *Provider) KeepAlive(fs *FileSystem) error {
	if fs == nil {
		return sfterrors.NewProviderMismatch()
	}
	p.mu.Lock()
	registered, ok := p.fss[fs.key]
	p.mu.Unlock()
	if !ok || registered != fs {
		return sfterrors.NewProviderMismatch()
	}
	return fs.pool.KeepAlive()
}

// unregister removes fs from the registry; called by FileSystem.Close
// before the pool is drained.
func (p *Provider) unregister(fs *FileSystem) {
	p.mu.Lock()
	if p.fss[fs.key] == fs {
		delete(p.fss, fs.key)
	}
	p.mu.Unlock()
}
