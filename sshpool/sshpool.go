// Package sshpool implements the pooled, multiplexed SSH execution
// channel described in spec.md §4.2: connections are keyed by the
// 6-tuple (host, user, port, password-hash, key-hash, keyfile-hash) so
// that many sources targeting the same host share one transport, and
// unknown host keys are learned-on-first-use and persisted.
//
// Grounded on original_source/tensor/protocol/ssh.py (SSHClient,
// verifyHostKey, fork). golang.org/x/crypto/ssh is the only SSH client
// library present anywhere in the retrieved corpus, so it's the natural
// real-ecosystem replacement for twisted.conch (see DESIGN.md).
package sshpool

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Key identifies a pooled connection by the 6-tuple spec.md §4.2 names.
type Key struct {
	Host          string
	User          string
	Port          int
	PasswordHash  string
	KeyHash       string
	KeyfileHash   string
}

// Config describes how to establish one connection.
type Config struct {
	Host          string
	User          string
	Port          int
	Password      string
	KeyPEM        string // inline private key material
	KeyPassphrase string
	Keyfile       string
	KnownHosts    string // path; defaults to /var/lib/tensor/known_hosts
}

func (c Config) key() Key {
	return Key{
		Host:         c.Host,
		User:         c.User,
		Port:         c.Port,
		PasswordHash: hashOf(c.Password),
		KeyHash:      hashOf(c.KeyPEM),
		KeyfileHash:  hashOf(c.Keyfile),
	}
}

func hashOf(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:8])
}

// Pool holds process-wide SSH connections keyed by the 6-tuple. A
// connection is dialed on the first Get for its key and reused by later
// calls; Close tears every pooled connection down.
type Pool struct {
	mu    sync.Mutex
	conns map[Key]*ssh.Client
}

func NewPool() *Pool {
	return &Pool{conns: make(map[Key]*ssh.Client)}
}

// Get returns the pooled connection for cfg, dialing one if none exists
// yet.
func (p *Pool) Get(cfg Config) (*ssh.Client, error) {
	key := cfg.key()

	p.mu.Lock()
	if c, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	client, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	// Another goroutine may have raced us; prefer the existing one and
	// close ours to avoid leaking a connection.
	if existing, ok := p.conns[key]; ok {
		p.mu.Unlock()
		client.Close()
		return existing, nil
	}
	p.conns[key] = client
	p.mu.Unlock()

	return client, nil
}

// Close tears down every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, c := range p.conns {
		c.Close()
		delete(p.conns, k)
	}
}

func dial(cfg Config) (*ssh.Client, error) {
	knownHostsPath := cfg.KnownHosts
	if knownHostsPath == "" {
		knownHostsPath = "/var/lib/tensor/known_hosts"
	}
	hostKeyCallback, err := learnOnFirstUseCallback(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("sshpool: known_hosts: %w", err)
	}

	var auths []ssh.AuthMethod
	if cfg.Password != "" {
		auths = append(auths, ssh.Password(cfg.Password))
	}
	if signer, err := loadSigner(cfg); err == nil && signer != nil {
		auths = append(auths, ssh.PublicKeys(signer))
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
	}

	log.WithFields(log.Fields{
		"host": cfg.Host,
		"user": cfg.User,
		"port": port,
	}).Info("sshpool: opening SSH connection")

	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	return ssh.Dial("tcp", addr, clientCfg)
}

func loadSigner(cfg Config) (ssh.Signer, error) {
	var pemBytes []byte
	var err error
	switch {
	case cfg.KeyPEM != "":
		pemBytes = []byte(cfg.KeyPEM)
	case cfg.Keyfile != "":
		pemBytes, err = os.ReadFile(cfg.Keyfile)
		if err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	if cfg.KeyPassphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(cfg.KeyPassphrase))
	}
	return ssh.ParsePrivateKey(pemBytes)
}

// learnOnFirstUseCallback returns a HostKeyCallback that accepts and
// persists any host key not yet present in the known_hosts file,
// otherwise delegating to knownhosts' normal verification.
func learnOnFirstUseCallback(path string) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			f.Close()
		}
	}

	base, err := knownhosts.New(path)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := base(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if ok := asKeyError(err, &keyErr); ok && len(keyErr.Want) == 0 {
			// Unknown host: learn it.
			line := knownhosts.Line([]string{hostname}, key)
			f, ferr := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
			if ferr != nil {
				return ferr
			}
			defer f.Close()
			if _, werr := f.WriteString(line + "\n"); werr != nil {
				return werr
			}
			log.WithField("host", hostname).Info("sshpool: learned new host key")
			return nil
		}
		return err
	}, nil
}

func asKeyError(err error, target **knownhosts.KeyError) bool {
	ke, ok := err.(*knownhosts.KeyError)
	if !ok {
		return false
	}
	*target = ke
	return true
}

// Fork runs command remotely over an established connection, returning
// (stdout, stderr, exit_code) per spec.md §4.2.
func Fork(ctx context.Context, client *ssh.Client, command string, args []string, env map[string]string) (string, string, int, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", "", 255, err
	}
	defer session.Close()

	for k, v := range env {
		_ = session.Setenv(k, v) // best-effort: many servers reject SetEnv
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	full := command
	for _, a := range args {
		full += " " + a
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(full) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), 255, ctx.Err()
	case err := <-done:
		code := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				code = exitErr.ExitStatus()
			} else {
				code = 255
			}
		}
		return stdout.String(), stderr.String(), code, nil
	}
}
