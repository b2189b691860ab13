// Package sshfiles implements the Provisioner capability for file artifacts
// on a remote host, reached over SSH and manipulated with SFTP. It covers the
// "remote-file" and "remote-dir" resource types: deployment scopes that stage
// artifacts onto hosts record them here so finalization can remove them.
package sshfiles

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Resource types handled by this provisioner.
const (
	TypeRemoteFile = "remote-file"
	TypeRemoteDir  = "remote-dir"
)

// Config holds SSH connection and layout configuration.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string `yaml:"host" validate:"required"`

	// Port is the SSH port (default 22).
	Port int `yaml:"port"`

	// User is the SSH username.
	User string `yaml:"user" validate:"required"`

	// Password enables password authentication when set.
	Password string `yaml:"password"`

	// PrivateKeyPath enables key authentication when set.
	PrivateKeyPath string `yaml:"private_key_path"`

	// KnownHostsPath is the known_hosts file for host key verification.
	// When empty, host keys are not verified.
	KnownHostsPath string `yaml:"known_hosts_path"`

	// BaseDir is the remote directory under which managed artifacts live,
	// addressed by resource id.
	BaseDir string `yaml:"base_dir" validate:"required"`

	// ConnectTimeout bounds connection establishment (default 10s).
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Provisioner deletes and creates remote file artifacts over SFTP.
type Provisioner struct {
	config Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// New creates an SFTP-backed provisioner. The SSH connection is established
// lazily on first use.
func New(cfg Config, logger zerolog.Logger) (*Provisioner, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, fmt.Errorf("ssh host and user are required")
	}
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("remote base directory is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Provisioner{
		config: cfg,
		logger: logger.With().Str("component", "sshfiles-provisioner").Logger(),
	}, nil
}

// connect dials the remote host if no live connection exists.
func (p *Provisioner) connect(ctx context.Context) (*ssh.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	auth, err := p.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() // #nosec G106 -- verified below when known_hosts is configured
	if p.config.KnownHostsPath != "" {
		cb, err := knownhosts.New(p.config.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	clientConfig := &ssh.ClientConfig{
		User:            p.config.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         p.config.ConnectTimeout,
	}

	addr := net.JoinHostPort(p.config.Host, strconv.Itoa(p.config.Port))
	dialer := net.Dialer{Timeout: p.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	p.client = ssh.NewClient(sshConn, chans, reqs)
	p.logger.Debug().Str("host", addr).Msg("SSH connection established")
	return p.client, nil
}

func (p *Provisioner) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if p.config.PrivateKeyPath != "" {
		keyData, err := os.ReadFile(p.config.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if p.config.Password != "" {
		methods = append(methods, ssh.Password(p.config.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no ssh authentication method configured")
	}
	return methods, nil
}

// remotePath resolves the remote location for a resource. The id is the only
// addressing input so Create and Delete always resolve the same location.
func (p *Provisioner) remotePath(id string) string {
	return path.Join(p.config.BaseDir, id)
}

// Create places a remote artifact. For files, the "content" attribute is
// written verbatim; directories are created recursively.
func (p *Provisioner) Create(ctx context.Context, resourceType, id string, attributes map[string]string) error {
	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer sftpClient.Close()

	target := p.remotePath(id)
	switch resourceType {
	case TypeRemoteDir:
		if err := sftpClient.MkdirAll(target); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", target, err)
		}
	case TypeRemoteFile:
		if err := sftpClient.MkdirAll(path.Dir(target)); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", path.Dir(target), err)
		}
		f, err := sftpClient.Create(target)
		if err != nil {
			return fmt.Errorf("failed to create remote file %s: %w", target, err)
		}
		if content := attributes["content"]; content != "" {
			if _, err := f.Write([]byte(content)); err != nil {
				_ = f.Close()
				return fmt.Errorf("failed to write remote file %s: %w", target, err)
			}
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close remote file %s: %w", target, err)
		}
	default:
		return fmt.Errorf("unsupported resource type %q", resourceType)
	}

	p.logger.Info().Str("type", resourceType).Str("id", id).Str("target", target).Msg("Remote artifact created")
	return nil
}

// Delete removes a remote artifact. A missing artifact is treated as success.
func (p *Provisioner) Delete(ctx context.Context, resourceType, id string) error {
	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer sftpClient.Close()

	target := p.remotePath(id)
	switch resourceType {
	case TypeRemoteDir:
		err = sftpClient.RemoveAll(target)
	case TypeRemoteFile:
		err = sftpClient.Remove(target)
	default:
		return fmt.Errorf("unsupported resource type %q", resourceType)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove remote artifact %s: %w", target, err)
	}

	p.logger.Info().Str("type", resourceType).Str("id", id).Str("target", target).Msg("Remote artifact removed")
	return nil
}

// Close tears down the SSH connection if one was established.
func (p *Provisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
