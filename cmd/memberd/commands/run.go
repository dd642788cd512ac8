package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"membership/internal/agent"
	"membership/internal/config"
	"membership/internal/logging"
)

func runCmd() *cobra.Command {
	var (
		configPath string
		nodeID     string
		listen     string
		advertise  string
		seedsStr   string
		dataDir    string
		bootstrap  bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a membership agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Flags override the file.
			if nodeID != "" {
				cfg.NodeID = nodeID
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			if advertise != "" {
				cfg.AdvertiseAddr = advertise
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("bootstrap") {
				cfg.Bootstrap = bootstrap
			}
			if seedsStr != "" {
				seeds, err := config.ParsePeers(seedsStr)
				if err != nil {
					return err
				}
				cfg.Seeds = seeds
			}

			logging.Configure(logging.Config{Level: cfg.LogLevel})
			log := logging.WithComponent("memberd")

			a, err := agent.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().Str("node", cfg.NodeID).Str("listen", cfg.ListenAddr).Msg("starting agent")
			if err := a.Run(ctx); err != nil {
				log.Error().Err(err).Msg("agent exited")
				return err
			}
			log.Info().Msg("agent stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "node identity (stable across restarts)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (host:port)")
	cmd.Flags().StringVar(&advertise, "advertise", "", "address advertised to peers")
	cmd.Flags().StringVar(&seedsStr, "seeds", "", "seed peers as id1=addr1,id2=addr2")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for the persistent event log")
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "bootstrap a new group from the seed list")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	return cmd
}
