package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/gattwatch/internal/config"
	"github.com/srg/gattwatch/internal/display"
	"github.com/srg/gattwatch/internal/gatt"
	"github.com/srg/gattwatch/internal/gattfmt"
	"github.com/srg/gattwatch/internal/groutine"
	"github.com/srg/gattwatch/internal/history"
	"github.com/srg/gattwatch/internal/ptysink"
	"github.com/srg/gattwatch/internal/transport/goble"
	"github.com/srg/gattwatch/scanner"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <address>",
	Short: "Connect to a device and stream its GATT values",
	Long: `Connect to a BLE peripheral, enumerate its GATT table and stream values.

Every readable characteristic is read once, every characteristic that
supports notifications or indications is subscribed via its CCCD, and
value updates are printed as they arrive until interrupted with Ctrl+C
or the device disconnects.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchTimeout time.Duration
	watchPTY     bool
	watchSummary bool
	watchNoColor bool
)

func init() {
	watchCmd.Flags().DurationVarP(&watchTimeout, "timeout", "t", 30*time.Second, "Connection timeout")
	watchCmd.Flags().BoolVar(&watchPTY, "pty", false, "Mirror the value stream to a pseudo-terminal")
	watchCmd.Flags().BoolVar(&watchSummary, "summary", false, "Print a JSON session summary on exit")
	watchCmd.Flags().BoolVar(&watchNoColor, "no-color", false, "Disable colored output")
	watchCmd.Flags().BoolP("verbose", "", false, "Enable debug logging")
}

func runWatch(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// A config file level applies only when no flag asked for something else
	fallbackLevel := ""
	if cfgPath != "" {
		fallbackLevel = cfg.LogLevel
	}
	logger, err := configureLogger(cmd, "verbose", fallbackLevel)
	if err != nil {
		return err
	}

	// Flags override the config file
	if cmd.Flags().Changed("timeout") {
		cfg.ConnectTimeout = watchTimeout
	}
	if watchSummary {
		cfg.SummaryOnExit = true
	}
	if watchNoColor {
		cfg.Colorize = false
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := scanner.DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": cfg.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := ble.Dial(dialCtx, ble.NewAddr(address))
	if err != nil {
		return fmt.Errorf("failed to connect to device with address %q: %w", address, err)
	}

	// History capture is always on; a PTY mirror is opt-in
	hist, err := history.New(cfg.HistorySize, func(err error) {
		logger.WithError(err).Warn("History capture error")
	})
	if err != nil {
		return fmt.Errorf("failed to create history collector: %w", err)
	}
	sinks := []display.Sink{hist}

	var pty *ptysink.Sink
	if watchPTY {
		pty, err = ptysink.New(cfg.PTYBufferSize, logger)
		if err != nil {
			return fmt.Errorf("failed to open PTY: %w", err)
		}
		defer func() {
			if err := pty.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close PTY")
			}
		}()
		fmt.Printf("PTY: %s\n", pty.TTYName())
		sinks = append(sinks, pty)
	}

	colorize := cfg.Colorize && term.IsTerminal(int(os.Stdout.Fd()))

	ch := display.NewChannel()
	consumer := display.NewConsumer(ch, os.Stdout, logger, colorize, sinks...)
	consumerDone := make(chan struct{})
	groutine.Go(ctx, "display-consumer", func(context.Context) {
		defer close(consumerDone)
		consumer.Run()
	})

	adapter := goble.NewAdapter(client, logger)
	engine := gatt.NewEngine(adapter, gattfmt.New(), ch, logger)
	adapter.SetSink(engine)
	engine.SetDrainHook(func(s *gatt.Session) {
		logger.WithFields(logrus.Fields{
			"conn":            s.Conn(),
			"characteristics": s.Registry().Len(),
		}).Info("Discovery drained, streaming updates")
	})

	conn := adapter.Conn()
	engine.Start(conn)

	// Some platforms surface link loss through a Disconnected channel
	var disconnected <-chan struct{}
	if d, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		disconnected = d.Disconnected()
	}

	var watchErr error
	select {
	case <-ctx.Done():
	case <-disconnected:
		watchErr = ErrConnectionLost
	}

	engine.Shutdown()
	adapter.Close()
	if err := client.CancelConnection(); err != nil {
		logger.WithError(err).Debug("Failed to cancel connection")
	}

	select {
	case <-consumerDone:
	case <-time.After(2 * time.Second):
		logger.Warn("Display consumer did not exit in time")
	}

	m := hist.GetMetrics()
	logger.WithFields(logrus.Fields{
		"recorded":    m.Recorded,
		"overwritten": m.Overwritten,
	}).Debug("History capture finished")

	if cfg.SummaryOnExit {
		if s, ok := engine.Session(conn); ok {
			js, err := s.Summary().JSON()
			if err != nil {
				return fmt.Errorf("failed to render session summary: %w", err)
			}
			fmt.Println(js)
		}
	}

	if watchErr != nil {
		return watchErr
	}
	return ctx.Err()
}
