package pool

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// File is the subset of *sftp.File the façade depends on, carved out as a
// narrow interface so tests can exercise the façade against a fake without
// a real SFTP server.
type File interface {
	Name() string
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// Client is the subset of *sftp.Client's method set the façade issues
// primitives against. Everything above this interface (pool, façade) is
// unaware it is talking to the real wire protocol.
type Client interface {
	Open(path string) (File, error)
	OpenFile(path string, flags int) (File, error)
	Create(path string) (File, error)
	Mkdir(path string) error
	MkdirAll(path string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	Rename(oldpath, newpath string) error
	PosixRename(oldpath, newpath string) error
	Symlink(oldname, newname string) error
	ReadLink(path string) (string, error)
	Stat(path string) (os.FileInfo, error)
	Lstat(path string) (os.FileInfo, error)
	Chmod(path string, mode os.FileMode) error
	Chown(path string, uid, gid int) error
	Chtimes(path string, atime, mtime time.Time) error
	Truncate(path string, size int64) error
	ReadDir(path string) ([]os.FileInfo, error)
	StatVFS(path string) (*sftp.StatVFS, error)
	Getwd() (string, error)
	Close() error
}

// Session bundles one live Client with the transport primitives the pool
// needs for liveness checking and teardown, independent of Client.
type Session interface {
	Client() Client
	// Ping performs a cheap round-trip (Getwd) that doubles as a keep-alive.
	Ping() error
	Close() error
}

// Dialer opens one new Session. Production code uses NewSSHDialer; tests
// supply a fake.
type Dialer func(ctx context.Context) (Session, error)

// realClient adapts *sftp.Client to Client.
type realClient struct{ c *sftp.Client }

func (r realClient) Open(path string) (File, error)                 { return r.c.Open(path) }
func (r realClient) OpenFile(path string, flags int) (File, error)  { return r.c.OpenFile(path, flags) }
func (r realClient) Create(path string) (File, error)                { return r.c.Create(path) }
func (r realClient) Mkdir(path string) error                         { return r.c.Mkdir(path) }
func (r realClient) MkdirAll(path string) error                      { return r.c.MkdirAll(path) }
func (r realClient) Remove(path string) error                        { return r.c.Remove(path) }
func (r realClient) RemoveDirectory(path string) error                { return r.c.RemoveDirectory(path) }
func (r realClient) Rename(oldpath, newpath string) error             { return r.c.Rename(oldpath, newpath) }
func (r realClient) PosixRename(oldpath, newpath string) error        { return r.c.PosixRename(oldpath, newpath) }
func (r realClient) Symlink(oldname, newname string) error            { return r.c.Symlink(oldname, newname) }
func (r realClient) ReadLink(path string) (string, error)             { return r.c.ReadLink(path) }
func (r realClient) Stat(path string) (os.FileInfo, error)            { return r.c.Stat(path) }
func (r realClient) Lstat(path string) (os.FileInfo, error)           { return r.c.Lstat(path) }
func (r realClient) Chmod(path string, mode os.FileMode) error        { return r.c.Chmod(path, mode) }
func (r realClient) Chown(path string, uid, gid int) error            { return r.c.Chown(path, uid, gid) }
func (r realClient) Chtimes(path string, atime, mtime time.Time) error {
	return r.c.Chtimes(path, atime, mtime)
}
func (r realClient) Truncate(path string, size int64) error { return r.c.Truncate(path, size) }
func (r realClient) ReadDir(path string) ([]os.FileInfo, error) { return r.c.ReadDir(path) }
func (r realClient) StatVFS(path string) (*sftp.StatVFS, error) { return r.c.StatVFS(path) }
func (r realClient) Getwd() (string, error)                     { return r.c.Getwd() }
func (r realClient) Close() error                                { return r.c.Close() }

// realSession owns the ssh.Client underneath one sftp.Client.
type realSession struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *realSession) Client() Client { return realClient{s.sftp} }

func (s *realSession) Ping() error {
	_, err := s.sftp.Getwd()
	return err
}

func (s *realSession) Close() error {
	sftpErr := s.sftp.Close()
	sshErr := s.ssh.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}

// DialConfig carries everything NewSSHDialer needs to open a session; it is
// the materialized form of an sftpenv.Environment plus the authority being
// connected to.
type DialConfig struct {
	Network     string // "tcp"
	Address     string // host:port
	SSHConfig   *ssh.ClientConfig
	DefaultDir  string
	Subsystem   string // defaults to "sftp"

	// SocketTimeout, if positive, is applied as a rolling read/write
	// deadline on the underlying TCP connection: every Read/Write resets
	// the deadline forward by this duration, so it bounds how long a
	// stalled peer can sit silent rather than how long the link may live.
	SocketTimeout time.Duration

	// AgentForwarding requests ssh-agent forwarding over the session and
	// relays it to AgentSocket; both must be set for forwarding to happen.
	AgentForwarding bool
	AgentSocket     string
}

// deadlineConn wraps a net.Conn to push a rolling read/write deadline ahead
// of every call, implementing DialConfig.SocketTimeout without needing a
// background timer.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(p)
}

// NewSSHDialer builds a Dialer that opens a fresh SSH connection, requests
// the SFTP subsystem, and optionally chdirs into DefaultDir.
func NewSSHDialer(cfg DialConfig) Dialer {
	subsystem := cfg.Subsystem
	if subsystem == "" {
		subsystem = "sftp"
	}
	return func(ctx context.Context) (Session, error) {
		d := net.Dialer{}
		if deadline, ok := ctx.Deadline(); ok {
			d.Deadline = deadline
		}
		conn, err := d.DialContext(ctx, cfg.Network, cfg.Address)
		if err != nil {
			return nil, errors.Wrap(err, "sftpfs/pool: dial SSH transport")
		}
		if cfg.SocketTimeout > 0 {
			conn = &deadlineConn{Conn: conn, timeout: cfg.SocketTimeout}
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, cfg.Address, cfg.SSHConfig)
		if err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "sftpfs/pool: SSH handshake")
		}
		sshClient := ssh.NewClient(sshConn, chans, reqs)

		if cfg.AgentForwarding && cfg.AgentSocket != "" {
			if agentConn, aerr := net.Dial("unix", cfg.AgentSocket); aerr == nil {
				_ = agent.ForwardToAgent(sshClient, agent.NewClient(agentConn))
			}
		}

		sess, err := sshClient.NewSession()
		if err != nil {
			_ = sshClient.Close()
			return nil, errors.Wrap(err, "sftpfs/pool: open SSH session")
		}
		if cfg.AgentForwarding && cfg.AgentSocket != "" {
			_ = agent.RequestAgentForwarding(sess)
		}
		pw, err := sess.StdinPipe()
		if err != nil {
			_ = sshClient.Close()
			return nil, errors.Wrap(err, "sftpfs/pool: stdin pipe")
		}
		pr, err := sess.StdoutPipe()
		if err != nil {
			_ = sshClient.Close()
			return nil, errors.Wrap(err, "sftpfs/pool: stdout pipe")
		}
		if err := sess.RequestSubsystem(subsystem); err != nil {
			_ = sshClient.Close()
			return nil, errors.Wrap(err, "sftpfs/pool: request sftp subsystem")
		}

		sftpClient, err := sftp.NewClientPipe(pr, pw)
		if err != nil {
			_ = sshClient.Close()
			return nil, errors.Wrap(err, "sftpfs/pool: initialise SFTP client")
		}

		if cfg.DefaultDir != "" {
			if err := sftpClient.Chdir(cfg.DefaultDir); err != nil {
				_ = sftpClient.Close()
				_ = sshClient.Close()
				return nil, errors.Wrapf(err, "sftpfs/pool: chdir %q", cfg.DefaultDir)
			}
		}

		return &realSession{ssh: sshClient, sftp: sftpClient}, nil
	}
}
