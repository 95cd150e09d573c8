// Command zkcli runs one-shot znode operations against a ZooKeeper ensemble.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mikekulinski/zkclient/pkg/client"
	"github.com/mikekulinski/zkclient/pkg/conn"
	"github.com/mikekulinski/zkclient/pkg/logging"
	"github.com/mikekulinski/zkclient/pkg/persistence"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

var version = "dev"

const (
	// Snapshots kept in --session-dir.
	keepSnapshots = 3
	closeTimeout  = 5 * time.Second
)

type cli struct {
	configPath string
	server     string
	timeout    time.Duration
	sessionDir string
	logLevel   string

	cfg   config
	log   zerolog.Logger
	store *persistence.Store
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "zkcli",
		Short:         "Run znode operations against a ZooKeeper ensemble",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "TOML config file")
	flags.StringVarP(&c.server, "server", "s", "", "connection string, e.g. zk1:2181,zk2:2181/chroot")
	flags.DurationVar(&c.timeout, "timeout", 10*time.Second, "time limit for the whole command, 0 for none")
	flags.StringVar(&c.sessionDir, "session-dir", "", "directory to resume the session from and save it to")
	flags.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error, off)")

	root.AddCommand(
		c.getCmd(),
		c.setCmd(),
		c.createCmd(),
		c.deleteCmd(),
		c.lsCmd(),
		c.statCmd(),
		c.mkdirpCmd(),
		c.watchCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server = c.server
	}
	if flags.Changed("session-dir") {
		cfg.SessionDir = c.sessionDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	c.cfg = cfg

	c.log = logging.NewWriter(cmd.ErrOrStderr(), "zkcli")
	if os.Getenv(logging.EnvLogLevel) == "" {
		level, ok := logging.ParseLevel(cfg.LogLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", cfg.LogLevel)
		}
		c.log = c.log.Level(level)
	}

	if cfg.SessionDir != "" {
		if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
			return fmt.Errorf("creating session dir: %w", err)
		}
		if c.store, err = persistence.NewStore(cfg.SessionDir); err != nil {
			return fmt.Errorf("opening session dir: %w", err)
		}
	}
	return nil
}

// connect builds a client, resuming the saved session when there is one.
func (c *cli) connect() (*client.Client, error) {
	opts := []client.Option{
		client.WithLogger(c.log),
		client.WithSessionTimeout(c.cfg.SessionTimeout),
		client.WithSpinDelay(c.cfg.SpinDelay),
		client.WithCanBeReadOnly(c.cfg.ReadOnly),
	}
	if c.store != nil {
		snap, err := c.store.Load()
		switch {
		case err == nil:
			c.log.Debug().Int64("session", snap.SessionID).Stringer("zxid", snap.LastZxid).Msg("resuming session")
			opts = append(opts, client.WithSession(snap.SessionID, snap.Password, snap.LastZxid))
			if snap.Timeout > 0 {
				opts = append(opts, client.WithSessionTimeout(snap.Timeout))
			}
		case errors.Is(err, persistence.ErrNoSnapshot):
		default:
			return nil, err
		}
	}
	return client.New(c.cfg.Server, opts...)
}

// run connects, calls fn and then either saves the session for the next
// invocation or closes it.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, zk *client.Client) error) error {
	var ctx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(cmd.Context(), c.timeout)
	} else {
		ctx, cancel = context.WithCancel(cmd.Context())
	}
	defer cancel()

	zk, err := c.connect()
	if err != nil {
		return err
	}
	fnErr := fn(ctx, zk)

	if c.store != nil && sessionEnded(zk, fnErr) {
		// The saved session is gone for good; the next run starts a new one.
		c.log.Debug().Err(fnErr).Msg("discarding saved session")
		if err := c.store.Clear(); err != nil {
			c.log.Warn().Err(err).Msg("clearing session dir")
		}
	}
	if c.store == nil || zk.SessionID() == 0 || sessionEnded(zk, fnErr) || errors.Is(fnErr, context.Canceled) {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := zk.Close(closeCtx); err != nil {
			c.log.Warn().Err(err).Msg("closing session")
		}
		return fnErr
	}
	// Leave the session open on the server; the next run picks it up.
	zk.Detach()
	err = c.store.Save(persistence.Snapshot{
		SessionID: zk.SessionID(),
		Password:  zk.SessionPassword(),
		Timeout:   zk.SessionTimeout(),
		LastZxid:  zk.LastZxid(),
	})
	switch {
	case errors.Is(err, persistence.ErrStale):
	case err != nil:
		c.log.Warn().Err(err).Msg("saving session")
	default:
		if err := c.store.Prune(keepSnapshots); err != nil {
			c.log.Warn().Err(err).Msg("pruning old sessions")
		}
	}
	return fnErr
}

// sessionEnded reports whether the server has ended the session, so there is
// nothing left to resume.
func sessionEnded(zk *client.Client, err error) bool {
	if s := zk.State(); s == conn.StateSessionExpired || s == conn.StateAuthFailed {
		return true
	}
	return errors.Is(err, zookeeper.ErrSessionExpired) || errors.Is(err, zookeeper.ErrAuthFailed)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorColor("error:"), err)
		os.Exit(1)
	}
}
