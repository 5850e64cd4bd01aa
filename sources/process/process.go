// Package process implements a remote command-execution check: it runs a
// configured command (optionally over a pooled SSH connection) on every
// tick and derives state from the exit code.
//
// Grounded on original_source/tensor/sources/process.py, which shells out
// locally or via SSHClient.fork and maps exit status to event state.
package process

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/calston/tensor-go/config"
	"github.com/calston/tensor-go/event"
	"github.com/calston/tensor-go/registry"
	"github.com/calston/tensor-go/source"
	"github.com/calston/tensor-go/sshpool"
)

const RegistryName = "tensor.sources.process.Process"

var pool = sshpool.NewPool()

// Source runs one command per tick, locally or remotely over SSH.
type Source struct {
	command string
	args    []string
	useSSH  bool
	sshCfg  sshpool.Config
}

func New(cfg config.SourceConfig) (*Source, error) {
	command, _ := cfg.Extra["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("process: missing command")
	}
	var args []string
	if raw, ok := cfg.Extra["args"].([]interface{}); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	s := &Source{command: command, args: args, useSSH: cfg.UseSSH}
	if cfg.UseSSH {
		s.sshCfg = sshpool.Config{
			Host:          cfg.Hostname,
			User:          cfg.SSHUsername,
			Port:          cfg.SSHPort,
			Password:      cfg.SSHPassword,
			KeyPEM:        cfg.SSHKey,
			KeyPassphrase: cfg.SSHKeypass,
			Keyfile:       cfg.SSHKeyfile,
			KnownHosts:    cfg.SSHKnownHosts,
		}
	}
	return s, nil
}

func (s *Source) Tick(ctx context.Context) ([]*event.Event, error) {
	var stdout, stderr string
	var code int
	var err error

	if s.useSSH {
		var client *ssh.Client
		client, err = pool.Get(s.sshCfg)
		if err != nil {
			return nil, err
		}
		stdout, stderr, code, err = sshpool.Fork(ctx, client, s.command, s.args, nil)
	} else {
		stdout, stderr, code, err = runLocal(ctx, s.command, s.args)
	}
	if err != nil && code == 0 {
		code = 255
	}

	state := "ok"
	switch {
	case code != 0:
		state = "critical"
	}

	desc := strings.TrimSpace(stdout)
	if desc == "" {
		desc = strings.TrimSpace(stderr)
	}

	return []*event.Event{{
		State:       state,
		Description: fmt.Sprintf("exit %d: %s", code, desc),
		Metric:      float64(code),
		HasMetric:   true,
		Time:        float64(time.Now().UnixNano()) / 1e9,
		Kind:        event.KindMetric,
	}}, nil
}

func runLocal(ctx context.Context, command string, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			return stdout.String(), stderr.String(), 255, err
		}
	}
	return stdout.String(), stderr.String(), code, nil
}

func (s *Source) Close() error { return nil }

func init() {
	registry.RegisterSource(RegistryName, func(cfg config.SourceConfig) (source.Source, error) {
		return New(cfg)
	})
}
