// Command zkserver serves an in-memory znode tree over the ZooKeeper client
// protocol, for local development against zkcli or the client package.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikekulinski/zkclient/pkg/logging"
	"github.com/mikekulinski/zkclient/pkg/zktest"
)

func main() {
	var addr string
	log := logging.New("zkserver")

	cmd := &cobra.Command{
		Use:          "zkserver",
		Short:        "Serve an in-memory znode tree",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			zk, err := zktest.NewServer(zktest.WithAddr(addr), zktest.WithLogger(log))
			if err != nil {
				return err
			}
			log.Info().Str("addr", zk.Addr()).Msg("listening")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Info().Msg("shutting down")
			return zk.Close()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:2181", "address to listen on")

	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("zkserver failed")
		os.Exit(1)
	}
}
