// Command faceenroll runs one guided face enrollment without a camera: it
// replays a recorded sample script through a session, takes snapshots from
// a still image and uploads them to the register-face endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/attendify/faceenroll/cli"
	"github.com/attendify/faceenroll/enrollment"
	"github.com/attendify/faceenroll/envutil"
	"github.com/attendify/faceenroll/logger"
	"github.com/attendify/faceenroll/sampler"
	"github.com/attendify/faceenroll/shutdown"
	"github.com/attendify/faceenroll/snapshot"
	"github.com/attendify/faceenroll/telemetry"
	"github.com/attendify/faceenroll/upload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInterrupted = 130

	defaultInterval    = 33 * time.Millisecond
	defaultMaxAttempts = 3
	readHeaderTimeout  = 5 * time.Second

	// rejectedTitle heads the notice printed after a failed attempt.
	rejectedTitle = "Enrollment rejected"

	// settlePoll and settleTicks decide when a session left without samples
	// has stopped making progress.
	settlePoll  = 10 * time.Millisecond
	settleTicks = 5
)

var (
	errNoUploadURL     = errors.New("ENROLL_UPLOAD_URL is not set")
	errScriptExhausted = errors.New("sample script ended before the attempt finished")
)

type options struct {
	envFile     string
	script      string
	image       string
	outDir      string
	metricsAddr string
	interval    time.Duration
	maxAttempts int
	assumeYes   bool
	keep        bool
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("faceenroll", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&opts.envFile, "env", "", "YAML or JSON file with an `env` map to load")
	fs.StringVar(&opts.script, "script", "", "YAML sample script to replay (required)")
	fs.StringVar(&opts.image, "image", "", "JPEG used as the camera frame (required)")
	fs.StringVar(&opts.outDir, "out", filepath.Join(os.TempDir(), "faceenroll"), "directory for snapshots")
	fs.StringVar(&opts.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	fs.DurationVar(&opts.interval, "interval", defaultInterval, "time between samples")
	fs.IntVar(&opts.maxAttempts, "attempts", defaultMaxAttempts, "give up after this many failed attempts")
	fs.BoolVar(&opts.assumeYes, "yes", false, "acknowledge failures without prompting")
	fs.BoolVar(&opts.keep, "keep", false, "keep snapshots after a successful upload")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if opts.script == "" || opts.image == "" {
		fs.Usage()

		return nil, flag.ErrHelp
	}

	return opts, nil
}

func main() {
	handler := shutdown.New()
	ctx := handler.Listen(context.Background())

	os.Exit(run(ctx, handler, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, handler *shutdown.Handler, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return exitUsage
	}

	if opts.envFile != "" {
		env, err := envutil.LoadEnvFile(opts.envFile)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)

			return exitUsage
		}

		if _, err := envutil.Apply(env, false); err != nil {
			_, _ = fmt.Fprintln(stderr, err)

			return exitUsage
		}
	}

	log, err := setupObservability(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)

		return exitUsage
	}

	defer func() {
		if err := telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	d, err := newDriver(ctx, opts, log, stdout)
	if err != nil {
		log.Error("unable to start enrollment", "error", err)

		return exitFailed
	}

	handler.BeforeShutdown(d.session.Abandon)

	if opts.metricsAddr != "" {
		stop := serveMetrics(opts.metricsAddr, log)
		defer stop()
	}

	return d.run(ctx)
}

func setupObservability(ctx context.Context) (*slog.Logger, error) {
	environment := envutil.String(ctx, "ENVIRONMENT", envutil.Default("local")).ValueOrElse("local")

	ctx = logger.WithSubsystem(ctx, "faceenroll")

	otelConfig, err := telemetry.LoadConfigFromEnv(ctx, environment)
	if err != nil {
		return nil, err
	}

	extra, err := telemetry.Initialize(ctx, otelConfig)
	if err != nil {
		return nil, err
	}

	var logOpts []logger.Option
	if extra != nil {
		logOpts = append(logOpts, logger.WithExtraHandler(extra))
	}

	return logger.ConfigureLogging(ctx, "faceenroll", logOpts...)
}

func serveMetrics(addr string, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	log.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), readHeaderTimeout)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}
}

type driver struct {
	opts     *options
	log      *slog.Logger
	stdout   io.Writer
	script   sampler.Script
	session  *enrollment.Session
	outcomes chan enrollment.Outcome
	confirm  func(label string) (bool, error)
}

func newDriver(ctx context.Context, opts *options, log *slog.Logger, stdout io.Writer) (*driver, error) {
	cfg, err := enrollment.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.UploadURL == nil {
		return nil, errNoUploadURL
	}

	script, err := sampler.LoadScript(opts.script)
	if err != nil {
		return nil, err
	}

	frame, err := os.ReadFile(opts.image)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.outDir, 0o700); err != nil { //nolint:mnd
		return nil, err
	}

	capturer := snapshot.NewFileCapturer(opts.outDir, snapshot.GrabberFunc(func(context.Context) ([]byte, error) {
		return frame, nil
	}))

	batcher := upload.NewBatcher(upload.NewHTTPEndpoint(ctx, cfg.UploadURL),
		upload.WithTimeout(cfg.UploadTimeout),
		upload.WithLogger(log))

	d := &driver{
		opts:     opts,
		log:      log,
		stdout:   stdout,
		script:   script,
		outcomes: make(chan enrollment.Outcome, 1),
		confirm:  cli.PromptConfirm,
	}

	d.session = enrollment.NewSession(capturer, batcher,
		enrollment.WithConfig(cfg),
		enrollment.WithLogger(log),
		enrollment.WithViewListener(d.render()),
		enrollment.WithOutcomeListener(func(o enrollment.Outcome) {
			d.outcomes <- o
		}))

	return d, nil
}

// render prints a line whenever the step, phase or notice changes.
func (d *driver) render() func(enrollment.View) {
	var last enrollment.View

	return func(v enrollment.View) {
		if v.Step == last.Step && v.Phase == last.Phase && v.Notice == last.Notice && v.Attempt == last.Attempt {
			return
		}

		last = v

		line := fmt.Sprintf("[attempt %d] %s %s: %s", v.Attempt, v.Phase, v.Label, v.Guidance)
		if v.Notice != "" {
			line += " (" + v.Notice + ")"
		}

		_, _ = fmt.Fprintln(d.stdout, line)
	}
}

func (d *driver) run(ctx context.Context) int {
	ctx = logger.WithSessionID(ctx, d.session.ID().String())

	errc := make(chan error, 1)

	go func() {
		errc <- d.session.Run(ctx)
	}()

	for attempt := 1; ; attempt++ {
		if err := d.session.Start(); err != nil {
			return d.stopped(ctx, <-errc)
		}

		outcome, err := d.attempt(ctx, errc)
		if errors.Is(err, errScriptExhausted) {
			logger.From(d.log, ctx).Error("enrollment stopped", "error", err, "attempt", attempt)
			d.session.Abandon()
			<-errc

			return exitFailed
		}

		if err != nil || outcome == nil {
			return d.stopped(ctx, err)
		}

		if outcome.Kind == enrollment.Success {
			_, _ = fmt.Fprintf(d.stdout, "Face registered (attempt %s)\n", outcome.AttemptID)

			if !d.opts.keep {
				if err := snapshot.Discard(outcome.Artifacts...); err != nil {
					d.log.Warn("unable to remove snapshots", "error", err)
				}
			}

			return d.stopped(ctx, <-errc)
		}

		cli.Notice(d.stdout, rejectedTitle, outcome.Reason)

		if attempt >= d.opts.maxAttempts {
			d.log.Error("giving up on enrollment", "attempts", attempt)
			d.session.Abandon()
			<-errc

			return exitFailed
		}

		if !d.opts.assumeYes {
			ok, err := d.confirm("Try again")
			if err != nil || !ok {
				d.session.Abandon()
				<-errc

				return exitFailed
			}
		}

		if err := d.session.Acknowledge(); err != nil {
			return d.stopped(ctx, <-errc)
		}
	}
}

// attempt replays the script until the attempt finishes. A nil outcome
// means the session stopped first. Once the script runs out, in-flight
// captures and uploads may still finish the attempt; if the session goes
// idle instead, attempt returns errScriptExhausted.
func (d *driver) attempt(ctx context.Context, errc <-chan error) (*enrollment.Outcome, error) {
	playCtx, stop := context.WithCancel(ctx)
	defer stop()

	played := make(chan struct{})

	go func() {
		defer close(played)

		accepted, err := d.script.Play(playCtx, d.opts.interval, d.session.Offer)
		if err == nil {
			d.log.Warn("sample script finished before the attempt did", "accepted", accepted)
		}
	}()

	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	var (
		settle <-chan time.Time
		idle   int
	)

	for {
		select {
		case outcome := <-d.outcomes:
			return &outcome, nil
		case err := <-errc:
			return nil, err
		case <-played:
			played = nil
			settle = ticker.C
		case <-settle:
			if !stalled(d.session.View()) {
				idle = 0

				continue
			}

			idle++
			if idle >= settleTicks {
				return nil, errScriptExhausted
			}
		}
	}
}

// stalled reports whether v can't advance without more samples.
func stalled(v enrollment.View) bool {
	return v.Phase == enrollment.PhaseCapturing && !v.Busy
}

func (d *driver) stopped(ctx context.Context, err error) int {
	switch {
	case err == nil && d.session.View().Phase == enrollment.PhaseDone:
		return exitOK
	case err == nil, errors.Is(err, context.Canceled):
		logger.From(d.log, ctx).Warn("enrollment abandoned")

		return exitInterrupted
	default:
		logger.From(d.log, ctx).Error("enrollment stopped", "error", err)

		return exitFailed
	}
}
