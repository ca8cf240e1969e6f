// Package main runs a browser agent from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/entrhq/browseruse/pkg/agent"
	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/browser/watchdog"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/eventbus"
	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/entrhq/browseruse/pkg/llm/tokenizer"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/entrhq/browseruse/pkg/metrics"
	actions "github.com/entrhq/browseruse/pkg/tools/browser"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	Task        string
	TaskFile    string
	APIKey      string
	BaseURL     string
	Model       string
	CDPURL      string
	Headless    bool
	MaxSteps    int
	ClaimMode   string
	Workspace   string
	Output      string
	Timeout     time.Duration
	NoInstall   bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("browseruse v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		log.Printf("Run failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

func parseFlags() *CLIConfig {
	cli := &CLIConfig{}
	defaultConfig, _ := config.DefaultPath()

	flag.StringVar(&cli.ConfigFile, "config", defaultConfig, "Path to configuration file (YAML)")
	flag.StringVar(&cli.Task, "task", "", "Task description (required if no task file)")
	flag.StringVar(&cli.TaskFile, "task-file", "", "Path to a YAML task file")
	flag.StringVar(&cli.APIKey, "api-key", "", "API key for the LLM endpoint")
	flag.StringVar(&cli.BaseURL, "base-url", "", "OpenAI-compatible API base URL")
	flag.StringVar(&cli.Model, "model", "", "LLM model to use")
	flag.StringVar(&cli.CDPURL, "cdp-url", "", "Connect to an existing browser over CDP")
	flag.BoolVar(&cli.Headless, "headless", false, "Launch the browser without a window")
	flag.IntVar(&cli.MaxSteps, "max-steps", 0, "Maximum agent steps")
	flag.StringVar(&cli.ClaimMode, "claim", "", "Session claim mode: exclusive or shared")
	flag.StringVar(&cli.Workspace, "workspace", ".", "Directory the agent may read and write files in")
	flag.StringVar(&cli.Output, "output", "-", "Where to write the run history as YAML (- for stdout)")
	flag.DurationVar(&cli.Timeout, "timeout", 0, "Overall run timeout")
	flag.BoolVar(&cli.NoInstall, "no-install", false, "Do not download the playwright driver and browsers")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "browseruse - drive a browser with an LLM agent\n\n")
		fmt.Fprintf(os.Stderr, "Usage: browseruse [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  browseruse -task \"Find the price of the cheapest flight from AMS to LIS\"\n")
		fmt.Fprintf(os.Stderr, "  browseruse -task-file checkout.yaml -headless -output history.yaml\n\n")
	}

	flag.Parse()
	return cli
}

// overrides maps explicitly set flags onto the configuration.
func (cli *CLIConfig) overrides() config.Override {
	return func(cfg *config.Config) {
		if cli.APIKey != "" {
			cfg.LLM.APIKey = cli.APIKey
		}
		if cli.BaseURL != "" {
			cfg.LLM.BaseURL = cli.BaseURL
		}
		if cli.Model != "" {
			cfg.LLM.Model = cli.Model
		}
		if cli.CDPURL != "" {
			cfg.Browser.CDPURL = cli.CDPURL
		}
		if cli.Headless {
			cfg.Browser.Headless = true
		}
		if cli.MaxSteps > 0 {
			cfg.Agent.MaxSteps = cli.MaxSteps
		}
		if cli.ClaimMode != "" {
			cfg.Agent.ClaimMode = cli.ClaimMode
		}
	}
}

//nolint:gocyclo
func run(ctx context.Context, cli *CLIConfig) error {
	task, err := resolveTask(cli)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cli.ConfigFile, cli.overrides(), task.override())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newRunLogger(cfg.Logging)
	if err != nil {
		log.Printf("Logging to stderr: %v", err)
	}
	defer logger.Close()

	client, err := config.BuildClient(cfg.LLM)
	if err != nil {
		return err
	}
	var extraction llm.Client = client
	if m := cfg.LLM.ExtractionModelOrDefault(); m != client.Model() {
		extraction = client.CloneWithModel(m)
	}

	var busOpts []eventbus.Option
	busOpts = append(busOpts, eventbus.WithLogger(logger.With("eventbus")))
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.NewRegistry(), logger.With("metrics"))
		busOpts = append(busOpts, eventbus.WithObserver(collector.Observe))

		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := collector.Serve(metricsCtx, cfg.Metrics.Addr); err != nil {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	var driverOpts []browser.DriverOption
	if cli.NoInstall {
		driverOpts = append(driverOpts, browser.WithoutInstall())
	}
	driver := browser.NewPlaywrightDriver(driverOpts...)
	defer func() {
		if err := driver.Shutdown(); err != nil {
			logger.Warnf("Playwright shutdown: %v", err)
		}
	}()

	session := browser.NewSession(cfg.Browser, driver,
		browser.WithLogger(logger.With("browser")),
		browser.WithBus(eventbus.New(busOpts...)),
	)
	if err := watchdog.AttachDefaults(session, cfg.Watchdogs); err != nil {
		return fmt.Errorf("failed to attach watchdogs: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := session.Stop(stopCtx); err != nil {
			logger.Warnf("Session stop: %v", err)
		}
	}()

	fs, err := actions.NewDirFileSystem(cli.Workspace)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}

	opts := []agent.Option{
		agent.WithSettings(cfg.Agent),
		agent.WithLogger(logger.With("agent")),
		agent.WithExtractionLLM(extraction),
		agent.WithFileSystem(fs),
		agent.WithCustomInstructions(task.CustomInstructions),
	}
	if tok, err := tokenizer.ForModel(cfg.LLM.Model); err == nil {
		opts = append(opts, agent.WithTokenizer(tok))
	}

	ag, err := agent.New(task.Task, session, client, opts...)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	logger.Infof("Starting run %s with model %s", logger.RunID(), client.Model())
	history, runErr := ag.Run(ctx)
	if collector != nil && history != nil {
		collector.RecordRun(string(history.StopReason), len(history.Steps), history.Duration, history.Usage)
	}
	if history != nil {
		if err := writeHistory(cli.Output, history); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("agent run failed: %w", runErr)
	}

	if !history.IsSuccessful() {
		return fmt.Errorf("task not completed: %s", history.StopReason)
	}
	fmt.Fprintln(os.Stderr, history.FinalResult())
	return nil
}

func resolveTask(cli *CLIConfig) (*TaskFile, error) {
	if cli.TaskFile != "" {
		tf, err := loadTaskFile(cli.TaskFile)
		if err != nil {
			return nil, err
		}
		if cli.Task != "" {
			tf.Task = cli.Task
		}
		return tf, nil
	}
	if cli.Task == "" {
		return nil, fmt.Errorf("a task is required: use -task or -task-file")
	}
	return &TaskFile{Task: cli.Task}, nil
}

func (tf *TaskFile) override() config.Override {
	return func(cfg *config.Config) {
		if tf.StartURL != "" {
			cfg.Browser.StartURL = tf.StartURL
		}
		if tf.MaxSteps > 0 {
			cfg.Agent.MaxSteps = tf.MaxSteps
		}
		if len(tf.SensitiveData) > 0 {
			cfg.Agent.SensitiveData = tf.SensitiveData
		}
		if len(tf.AvailableFilePaths) > 0 {
			cfg.Agent.AvailableFilePaths = tf.AvailableFilePaths
		}
	}
}

// newRunLogger returns the logger for this run, honouring the configured
// level and directory.
func newRunLogger(s config.LoggingSettings) (*logging.Logger, error) {
	var (
		logger *logging.Logger
		err    error
	)
	if s.Dir != "" {
		logger, err = openLogFile(s.Dir)
	} else {
		logger, err = logging.NewLogger("browseruse")
	}
	logger.SetLevel(logging.ParseLevel(s.Level))
	return logger, err
}

func openLogFile(dir string) (*logging.Logger, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return logging.NewWriterLogger("browseruse", os.Stderr), err
	}
	path := filepath.Join(dir, logging.GetRunID()+"-browseruse.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return logging.NewWriterLogger("browseruse", os.Stderr), err
	}
	return logging.NewWriterLogger("browseruse", f), nil
}

func writeHistory(path string, h *agent.History) error {
	if path == "" || path == "-" {
		return h.WriteYAML(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	defer f.Close()
	return h.WriteYAML(f)
}
