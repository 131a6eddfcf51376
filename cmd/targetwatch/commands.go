package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmslite/targetwatch/internal/channels"
	"github.com/nmslite/targetwatch/internal/config"
	"github.com/nmslite/targetwatch/internal/fetcher"
	"github.com/nmslite/targetwatch/internal/models"
	"github.com/nmslite/targetwatch/internal/registry"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string

	watchAll         bool
	watchInteractive bool

	refreshPasswordStdin bool
	refreshPort          int
)

var rootCmd = &cobra.Command{
	Use:   "targetwatch",
	Short: "Poll remote targets for metrics",
	Long: `targetwatch periodically fetches metrics for registered Linux and Windows
targets, resolving the credential each fetch needs and asking for one when
nothing usable is cached.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var watchCmd = &cobra.Command{
	Use:   "watch [target-id...]",
	Short: "Poll targets until interrupted",
	Long: `Enable polling for the given targets (or every registered target with --all)
and log each outcome until SIGINT or SIGTERM.

Examples:
  targetwatch watch web-1 dc-1
  targetwatch watch --all --interactive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !watchAll {
			return errors.New("pass target ids or --all")
		}
		return runWatch(cmd.Context(), args)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <target-id>",
	Short: "Fetch metrics for one target once and print the outcome",
	Long: `Run a single out-of-band fetch and print the outcome as JSON.

Examples:
  targetwatch refresh web-1
  echo "$PASSWORD" | targetwatch refresh dc-1 --password-stdin --port 5986`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRefresh(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.DumpExampleConfig(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")

	watchCmd.Flags().BoolVar(&watchAll, "all", false, "poll every registered target")
	watchCmd.Flags().BoolVarP(&watchInteractive, "interactive", "i", false, "prompt for secrets on the terminal when a target needs one")

	refreshCmd.Flags().BoolVar(&refreshPasswordStdin, "password-stdin", false, "read the secret from stdin")
	refreshCmd.Flags().IntVar(&refreshPort, "port", 0, "port override used with --password-stdin")

	configCmd.AddCommand(configExampleCmd)
	rootCmd.AddCommand(watchCmd, refreshCmd, configCmd)
}

func loadEngine(ctx context.Context) (*engine, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, logCloser, err := config.InitLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	return eng, logCloser, nil
}

func runWatch(ctx context.Context, ids []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, logCloser, err := loadEngine(ctx)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer eng.close()

	if watchAll {
		ids, err = allTargetIDs(ctx, eng.registry)
		if err != nil {
			return err
		}
	}

	serveMetrics(ctx, eng.metricsCfg, eng.metrics, eng.logger)

	if watchInteractive {
		go promptLoop(ctx, eng, newTerminalPrompter(), eng.logger)
	} else {
		channels.StartOutcomeLogger(ctx, eng.events, eng.logger)
	}

	for _, id := range ids {
		eng.manager.Enable(id)
	}
	eng.logger.Info("watching targets", "count", len(ids))

	<-ctx.Done()
	eng.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return eng.manager.Shutdown(shutdownCtx)
}

func allTargetIDs(ctx context.Context, reg registry.Registry) ([]string, error) {
	lister, ok := reg.(registry.Lister)
	if !ok {
		return nil, errors.New("--all is not supported by this registry")
	}
	targets, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func runRefresh(ctx context.Context, id string, stdin io.Reader, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var override *models.Override
	if refreshPasswordStdin {
		secret, err := readSecret(stdin)
		if err != nil {
			return err
		}
		override = &models.Override{Secret: secret, Port: refreshPort}
		if err := models.ValidateOverride(*override); err != nil {
			return err
		}
	}

	eng, logCloser, err := loadEngine(ctx)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	defer eng.close()

	out := eng.manager.RefreshNow(ctx, id, override)
	if err := printOutcome(stdout, out); err != nil {
		return err
	}
	if !out.OK() {
		return fmt.Errorf("fetch for %s ended with %s", id, out.Kind)
	}
	return nil
}

// readSecret reads the first line of r without its line ending
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("empty secret on stdin")
	}
	return secret, nil
}

func printOutcome(w io.Writer, out fetcher.Outcome) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// targetLabel names a target for humans, falling back to its id
func targetLabel(ctx context.Context, reg registry.Registry, id string) string {
	t, err := reg.Lookup(ctx, id)
	if err != nil {
		return id
	}
	if name := t.DisplayName(); name != "" && name != id {
		return fmt.Sprintf("%s (%s)", name, id)
	}
	return id
}

// promptLoop logs outcomes and asks for a secret whenever a target needs one
func promptLoop(ctx context.Context, eng *engine, p prompter, logger *slog.Logger) {
	answered := make(map[string]time.Time)
	for {
		select {
		case ev, ok := <-eng.events.Outcome:
			if !ok {
				return
			}
			logger.Info("Fetch completed",
				"target_id", ev.TargetID,
				"kind", ev.Kind,
				"trigger", ev.Trigger,
				"reason", ev.Reason)

			if ev.Kind != string(fetcher.KindCredentialRequired) || ev.Trigger == string(fetcher.TriggerRefresh) {
				continue
			}
			// Outcomes queued before the last answer are already handled
			if last, ok := answered[ev.TargetID]; ok && !ev.Timestamp.After(last) {
				continue
			}

			override, err := p.Prompt(targetLabel(ctx, eng.registry, ev.TargetID), ev.Reason)
			answered[ev.TargetID] = time.Now()
			if err != nil {
				logger.Warn("prompt failed", "target_id", ev.TargetID, "error", err)
				continue
			}
			if override == nil {
				continue
			}

			out := eng.manager.RefreshNow(ctx, ev.TargetID, override)
			logger.Info("Refresh with new secret", "target_id", ev.TargetID, "kind", out.Kind, "reason", out.Reason)
		case ev, ok := <-eng.events.CredentialInvalidated:
			if !ok {
				return
			}
			logger.Warn("Cached credential invalidated", "target_id", ev.TargetID, "reason", ev.Reason)
		case ev, ok := <-eng.events.TargetStatus:
			if !ok {
				return
			}
			logger.Warn("Target status changed", "target_id", ev.TargetID, "event_type", ev.EventType)
		case <-eng.events.PollingState:
		case <-ctx.Done():
			return
		case <-eng.events.Done():
			return
		}
	}
}
