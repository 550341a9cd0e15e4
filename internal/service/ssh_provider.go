package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haatos/multici/internal/types"
	"github.com/haatos/multici/internal/util"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sshDialTimeout = 10 * time.Second

type SSHExecutorConfig struct {
	Name           string
	Host           string
	User           string
	PrivateKey     []byte
	KnownHostsFile string
	Workspace      string
	Tiers          TierSet
}

// SSHProvider runs jobs on a remote posix machine. Each job gets its own
// connection; the workspace is managed over sftp.
type SSHProvider struct {
	name      string
	host      string
	workspace string
	tiers     TierSet
	config    *ssh.ClientConfig
}

func NewSSHProvider(cfg SSHExecutorConfig) (*SSHProvider, error) {
	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("executor %q: parsing private key: %w", cfg.Name, err)
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("executor %q: reading known hosts: %w", cfg.Name, err)
		}
	}
	return &SSHProvider{
		name:      cfg.Name,
		host:      hostWithPort(cfg.Host),
		workspace: cfg.Workspace,
		tiers:     cfg.Tiers,
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         sshDialTimeout,
		},
	}, nil
}

func hostWithPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "22")
}

func (p *SSHProvider) Acquire(ctx context.Context, req AcquireRequest) (Handle, error) {
	env := req.Environment.WithDefaults()
	if env.Shell != types.ShellPosix {
		return nil, NewProvisioningError(env, "ssh executors only support the posix shell", nil)
	}
	if !p.tiers.Allows(env.ResourceTier) {
		return nil, NewProvisioningError(env, "resource tier is not configured", nil)
	}

	client, err := p.dial(ctx)
	if err != nil {
		return nil, NewProvisioningError(env, "cannot connect to "+p.host, err)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, NewProvisioningError(env, "cannot open sftp session", err)
	}

	id := util.SanitizeName(req.JobName) + "-" + uuid.NewString()[:8]
	root := path.Join(p.workspace, util.SanitizeName(req.RunID), id)
	h := &sshHandle{id: id, env: env, root: root, client: client, sftp: sftpClient}
	for _, dir := range []string{h.Workspace().Workdir, h.Workspace().StagingDir} {
		if err := sftpClient.MkdirAll(dir); err != nil {
			h.close()
			return nil, NewProvisioningError(env, "cannot create remote workspace", err)
		}
	}
	slog.Debug("acquired ssh environment", "executor", p.name, "host", p.host, "root", root)
	return h, nil
}

func (p *SSHProvider) dial(ctx context.Context) (*ssh.Client, error) {
	d := net.Dialer{Timeout: p.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.host)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, p.host, p.config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func (p *SSHProvider) Release(ctx context.Context, h Handle) error {
	sh, ok := h.(*sshHandle)
	if !ok {
		return fmt.Errorf("handle %s does not belong to ssh executor %q", h.ID(), p.name)
	}
	sh.releaseOnce.Do(func() {
		sh.releaseErr = sh.sftp.RemoveAll(sh.Workspace().Workdir)
		sh.releaseErr = errors.Join(sh.releaseErr, sh.close())
	})
	return sh.releaseErr
}

// PurgeRun removes the remote directories of every job of runID over a
// short-lived connection.
func (p *SSHProvider) PurgeRun(runID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sshDialTimeout)
	defer cancel()
	client, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("executor %q: connecting to %s: %w", p.name, p.host, err)
	}
	defer client.Close()
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("executor %q: opening sftp session: %w", p.name, err)
	}
	defer sftpClient.Close()
	return sftpClient.RemoveAll(path.Join(p.workspace, util.SanitizeName(runID)))
}

type sshHandle struct {
	id     string
	env    types.Environment
	root   string
	client *ssh.Client
	sftp   *sftp.Client

	releaseOnce sync.Once
	releaseErr  error
}

func (h *sshHandle) ID() string                     { return h.id }
func (h *sshHandle) Environment() types.Environment { return h.env }

func (h *sshHandle) Workspace() Workspace {
	return Workspace{
		Root:       h.root,
		Workdir:    path.Join(h.root, "work"),
		StagingDir: path.Join(h.root, "staging"),
	}
}

func (h *sshHandle) close() error {
	return errors.Join(h.sftp.Close(), h.client.Close())
}

func (h *sshHandle) Prepare(ctx context.Context) error {
	ws := h.Workspace()
	for _, dir := range []string{ws.Workdir, ws.StagingDir} {
		if err := h.sftp.RemoveAll(dir); err != nil {
			return err
		}
		if err := h.sftp.MkdirAll(dir); err != nil {
			return err
		}
	}
	return nil
}

func (h *sshHandle) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	sess, err := h.client.NewSession()
	if err != nil {
		return ExecResult{ExitCode: -1}, fmt.Errorf("creating ssh session: %w", err)
	}
	defer sess.Close()
	out := &gatedWriter{w: req.Output}
	defer out.close()
	sess.Stdout = out
	sess.Stderr = out

	if err := sess.Start(remoteCommand(req)); err != nil {
		return ExecResult{ExitCode: -1}, fmt.Errorf("starting remote command: %w", err)
	}

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- sess.Wait()
	}()

	select {
	case <-ctx.Done():
		if err := sess.Signal(ssh.SIGKILL); err != nil {
			slog.Warn("signalling remote command", "handle", h.id, "error", err)
		}
		sess.Close()
		select {
		case <-doneCh:
		case <-time.After(killGrace):
			slog.Warn("remote command did not exit after kill", "handle", h.id)
		}
		return ExecResult{ExitCode: -1}, ctx.Err()
	case err := <-doneCh:
		if err == nil {
			return ExecResult{}, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return ExecResult{ExitCode: exitErr.ExitStatus()}, nil
		}
		return ExecResult{ExitCode: -1}, err
	}
}

// gatedWriter forwards writes until close. Session copy goroutines may
// outlive Exec when the remote side never closes its streams.
type gatedWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0, io.ErrClosedPipe
	}
	return g.w.Write(p)
}

func (g *gatedWriter) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// remoteCommand builds the command line for a posix body run over ssh. The
// environment is passed through env(1) since most servers refuse setenv
// requests.
func remoteCommand(req ExecRequest) string {
	var b strings.Builder
	b.WriteString("cd ")
	b.WriteString(posixQuote(req.Workdir))
	b.WriteString(" && exec env")
	for _, kv := range slices.Sorted(slices.Values(req.Env)) {
		b.WriteString(" ")
		b.WriteString(posixQuote(kv))
	}
	for _, arg := range posixArgs(normalizeBody(types.ShellPosix, req.Body)) {
		b.WriteString(" ")
		b.WriteString(posixQuote(arg))
	}
	return b.String()
}

func (h *sshHandle) ListArtifacts(ctx context.Context) ([]string, error) {
	staging := h.Workspace().StagingDir
	paths := make([]string, 0)
	walker := h.sftp.Walk(staging)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, err
		}
		if walker.Stat().IsDir() {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), staging), "/")
		paths = append(paths, rel)
	}
	slices.Sort(paths)
	return paths, nil
}
