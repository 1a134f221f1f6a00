package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jd3nn1s/dashlog"
	"github.com/jd3nn1s/dashlog/display"
	"github.com/jd3nn1s/dashlog/forwarder"
	"github.com/jd3nn1s/dashlog/record"
	"github.com/jd3nn1s/dashlog/storage"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runOptions override the configuration file from the command line.
type runOptions struct {
	dataDir      string
	obdPort      string
	gpsPort      string
	imuPort      string
	testMode     bool
	printRecords bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Log and display until interrupted",
	Long: `Start every enabled sensor source, the dashboard and the storage sink.
SIGINT or SIGTERM stops the sources and flushes pending records.

Exit status is 0 after a clean shutdown, 2 when a device, the data
directory or the configuration could not be set up, 1 otherwise.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd.Context(), runOpts)
	},
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runOpts.dataDir, "data-dir", "", "directory for record segments")
	cmd.Flags().StringVar(&runOpts.obdPort, "obd-port", "", "serial port of the diagnostic adapter")
	cmd.Flags().StringVar(&runOpts.gpsPort, "gps-port", "", "serial port of the GPS receiver")
	cmd.Flags().StringVar(&runOpts.imuPort, "imu-port", "", "serial port of the inertial sensor")
	cmd.Flags().BoolVar(&runOpts.testMode, "testmode", false, "generate test data instead of reading sensors")
	cmd.Flags().BoolVar(&runOpts.printRecords, "print-records", false, "print every record to stdout")
}

func (o runOptions) apply(cfg *dashlog.Config) {
	if o.dataDir != "" {
		cfg.Storage.Dir = o.dataDir
	}
	if o.obdPort != "" {
		cfg.OBD.Port = o.obdPort
	}
	if o.gpsPort != "" {
		cfg.GPS.Port = o.gpsPort
	}
	if o.imuPort != "" {
		cfg.IMU.Port = o.imuPort
	}
	if o.testMode {
		cfg.TestMode = true
	}
}

func runCommand(ctx context.Context, opts runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return dashlog.NewInitError(err, "config")
	}
	opts.apply(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, opts.printRecords)
}

// run wires sources, aggregator and sinks together and blocks until ctx is
// done and everything has shut down.
func run(ctx context.Context, cfg *dashlog.Config, printRecords bool) error {
	codec, err := record.NewCodec(cfg.Record.Scales)
	if err != nil {
		return dashlog.NewInitError(err, "record scales")
	}
	tb := dashlog.NewTimebase()
	clock := dashlog.NewClockSync(cfg.GPS, tb)
	agg := dashlog.NewAggregator(cfg.Aggregator, codec, tb)

	var (
		forwarders []func(context.Context) error
		closers    []io.Closer
	)
	fail := func(err error, what string) error {
		for _, c := range closers {
			c.Close()
		}
		return dashlog.NewInitError(err, what)
	}
	if cfg.Forward.UDP.Enabled() {
		udp, err := forwarder.NewUDPForwarder(cfg.Forward.UDP)
		if err != nil {
			return fail(err, "udp forwarder")
		}
		closers = append(closers, udp)
		agg.AddForwarder(udp)
		forwarders = append(forwarders, udp.Start)
	}
	if cfg.Forward.MQTT.Enabled() {
		mqtt, err := forwarder.NewMQTTForwarder(cfg.Forward.MQTT)
		if err != nil {
			return fail(err, "mqtt forwarder")
		}
		agg.AddForwarder(mqtt)
		forwarders = append(forwarders, mqtt.Start)
	}
	if printRecords {
		agg.AddForwarder(newRecordPrinter(codec, os.Stdout))
	}

	store, err := storage.NewSegmentStore(cfg.Storage.Dir, cfg.Storage.SegmentBytes, cfg.Storage.SegmentAge.Duration)
	if err != nil {
		return fail(err, "storage")
	}
	closers = append(closers, store)
	sink := storage.NewSink(storage.Config{
		Capacity:       cfg.Storage.Capacity,
		FlushInterval:  cfg.Storage.FlushInterval.Duration,
		FlushThreshold: cfg.Storage.FlushThreshold,
		RetryBackoff:   cfg.Storage.RetryBackoff.Duration,
		MaxBackoff:     cfg.Storage.MaxBackoff.Duration,
	}, store, func(st storage.Status) {
		status := dashlog.StorageStatus{
			Captured: dashlog.Captured{At: tb.Now()},
			Synced:   st.Synced,
			Failing:  st.Failing,
			Pending:  st.Pending,
			Evicted:  st.Evicted,
		}
		select {
		case agg.Readings() <- status:
		default:
		}
	})

	renderer, err := openRenderer(cfg.Display)
	if err != nil {
		return fail(err, "display")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return agg.Run(ctx)
	})
	g.Go(func() error {
		return sink.Run(ctx, agg.Records().C())
	})
	if renderer != nil {
		g.Go(func() error {
			return renderer.Run(ctx, agg.Frames().C())
		})
	}
	for _, start := range forwarders {
		start := start
		g.Go(func() error {
			return start(ctx)
		})
	}
	g.Go(func() error {
		return dashlog.RunSources(ctx, cfg, tb, clock, agg.Readings())
	})

	log.WithField("dataDir", cfg.Storage.Dir).
		WithField("testMode", cfg.TestMode).
		WithField("display", renderer != nil).
		Info("dashlog running")
	err = g.Wait()
	log.WithField("pending", sink.Pending()).
		WithField("evicted", sink.Evicted()).
		Info("dashlog stopped")
	return err
}

func openRenderer(cfg dashlog.DisplayConfig) (*display.Renderer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	fb, err := display.OpenFramebuffer(cfg.Framebuffer, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	outputs := []display.Output{fb}
	cols, rows := display.DefaultCols, display.DefaultRows
	if cfg.Console != "" {
		con, err := display.OpenConsole(cfg.Console)
		if err != nil {
			fb.Close()
			return nil, err
		}
		cols, rows = con.Size()
		outputs = append(outputs, con)
	}
	width, height := fb.Size()
	return display.NewRenderer(display.NewCanvas(width, height, cols, rows), outputs...), nil
}
