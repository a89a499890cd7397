package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"panel-tracker/internal/config"
	"panel-tracker/internal/station"
	"panel-tracker/internal/types"
)

// main 是工位终端模拟器的入口
func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFlag   string
		stationFlag  string
		operatorFlag string
		endpointFlag string
	)

	rootCmd := &cobra.Command{
		Use:           "station-terminal",
		Short:         "Simulated inspection terminal for one station",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFlag)
			if err != nil {
				return err
			}
			tc := cfg.Terminal
			if stationFlag != "" {
				tc.StationID = types.StationID(stationFlag)
			}
			if operatorFlag != "" {
				tc.OperatorID = operatorFlag
			}
			if endpointFlag != "" {
				tc.OrchestratorURL = endpointFlag
			}
			if !knownStation(tc.StationID) {
				return fmt.Errorf("unknown station %q", tc.StationID)
			}
			if tc.OperatorID == "" {
				return errors.New("operator id is required (--operator or terminal.operator_id)")
			}

			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "station-terminal")
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := station.NewClient(tc.OrchestratorURL, logger)
			inspector := station.NewSimulatedInspector(tc.StationID, tc.OperatorID, tc.FailRate, tc.PollInterval())
			terminal := station.NewTerminal(client, inspector, tc.PollInterval(), logger)
			logger.Info("=== 工位终端启动 ===", "station_id", tc.StationID, "operator_id", tc.OperatorID, "orchestrator", tc.OrchestratorURL)

			if err := terminal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&stationFlag, "station", "", "Station ID served by this terminal (overrides terminal.station_id)")
	flags.StringVar(&operatorFlag, "operator", "", "Operator ID recorded on inspections (overrides terminal.operator_id)")
	flags.StringVar(&endpointFlag, "orchestrator", "", "Orchestrator base URL (overrides terminal.orchestrator_url)")
	return rootCmd
}

func knownStation(id types.StationID) bool {
	for _, s := range types.Stations {
		if s == id {
			return true
		}
	}
	return false
}
