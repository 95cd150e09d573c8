package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikekulinski/zkclient/pkg/client"
	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Print the data of a znode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, zk *client.Client) error {
				data, _, err := zk.GetData(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			})
		},
	}
}

func (c *cli) setCmd() *cobra.Command {
	var version int32
	cmd := &cobra.Command{
		Use:   "set PATH DATA",
		Short: "Replace the data of a znode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, zk *client.Client) error {
				stat, err := zk.SetData(ctx, args[0], []byte(args[1]), version)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", stat.Version)
				return err
			})
		},
	}
	cmd.Flags().Int32Var(&version, "version", -1, "expected data version, -1 for any")
	return cmd
}

func (c *cli) createCmd() *cobra.Command {
	var ephemeral, sequential bool
	cmd := &cobra.Command{
		Use:   "create PATH [DATA]",
		Short: "Create a znode",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			}
			var mode zookeeper.CreateMode
			switch {
			case ephemeral && sequential:
				mode = zookeeper.ModeEphemeralSequential
			case ephemeral:
				mode = zookeeper.ModeEphemeral
			case sequential:
				mode = zookeeper.ModePersistentSequential
			default:
				mode = zookeeper.ModePersistent
			}
			return c.run(cmd, func(ctx context.Context, zk *client.Client) error {
				created, err := zk.Create(ctx, args[0], data, nil, mode)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), created)
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&ephemeral, "ephemeral", "e", false, "remove the node when the session ends")
	cmd.Flags().BoolVarP(&sequential, "sequential", "q", false, "append a sequence number to the name")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	var version int32
	cmd := &cobra.Command{
		Use:   "delete PATH",
		Short: "Delete a znode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, zk *client.Client) error {
				return zk.Delete(ctx, args[0], version)
			})
		},
	}
	cmd.Flags().Int32Var(&version, "version", -1, "expected data version, -1 for any")
	return cmd
}

func (c *cli) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls PATH",
		Short: "List the children of a znode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, zk *client.Client) error {
				children, _, err := zk.GetChildren(ctx, args[0])
				if err != nil {
					return err
				}
				for _, child := range children {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), child); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func (c *cli) statCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stat PATH",
		Short: "Print the metadata of a znode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "text" && output != "yaml" {
				return fmt.Errorf("unknown output format %q", output)
			}
			return c.run(cmd, func(ctx context.Context, zk *client.Client) error {
				ok, stat, err := zk.Exists(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return zookeeper.ErrorFromCode(zookeeper.CodeNoNode, args[0])
				}
				return writeStat(cmd.OutOrStdout(), args[0], stat, output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or yaml")
	return cmd
}

func (c *cli) mkdirpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdirp PATH",
		Short: "Create a znode and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, zk *client.Client) error {
				return zk.MkdirAll(ctx, args[0])
			})
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var children bool
	cmd := &cobra.Command{
		Use:   "watch PATH",
		Short: "Print changes to a znode until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			// Watching has no time limit.
			c.timeout = 0
			cmd.SetContext(ctx)
			err := c.run(cmd, func(ctx context.Context, zk *client.Client) error {
				return watchLoop(ctx, cmd, zk, args[0], children)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&children, "children", "c", false, "watch the children instead of the data")
	return cmd
}

// watchLoop re-arms a one-shot watch on path after every event.
func watchLoop(ctx context.Context, cmd *cobra.Command, zk *client.Client, path string, children bool) error {
	for {
		var events <-chan zookeeper.Event
		var err error
		if children {
			_, _, events, err = zk.GetChildrenW(ctx, path)
		} else {
			_, _, events, err = zk.ExistsW(ctx, path)
		}
		if err != nil {
			return err
		}
		if err := waitWatch(ctx, cmd.OutOrStdout(), zk, events); err != nil {
			return err
		}
	}
}

// waitWatch prints connectivity changes until the watch fires.
func waitWatch(ctx context.Context, out io.Writer, zk *client.Client, events <-chan zookeeper.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-zk.Events():
			writeEvent(out, ev)
			if ev.State == zookeeper.StateExpired || ev.State == zookeeper.StateAuthFailed {
				return fmt.Errorf("session ended: %s", ev.State)
			}
		case ev := <-events:
			writeEvent(out, ev)
			if ev.Type == zookeeper.EventNone {
				return fmt.Errorf("session ended: %s", ev.State)
			}
			return nil
		}
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the zkcli version",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "zkcli", version)
			return err
		},
	}
}
