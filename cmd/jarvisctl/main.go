package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	cli "github.com/spf13/pflag"

	"github.com/ent0n29/jarvis/internal/app"
	"github.com/ent0n29/jarvis/internal/config"
	"github.com/ent0n29/jarvis/internal/logging"
	"github.com/ent0n29/jarvis/internal/provider"
	"github.com/ent0n29/jarvis/internal/voice"
)

type options struct {
	envFile      string
	logLevel     string
	store        string
	settingsFile string
	provider     string
	setKey       string
	noBrowser    bool
	metricsNS    string
}

var quitWords = map[string]bool{"выход": true, "exit": true, "quit": true}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := cli.NewFlagSet("jarvisctl", cli.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.envFile, "env", "e", ".env", "Env file path")
	fs.StringVarP(&o.logLevel, "log", "l", "warn", "Log level")
	fs.StringVar(&o.store, "store", "file", "Settings store (memory|file|postgres|redis|auto)")
	fs.StringVar(&o.settingsFile, "settings-file", "", "Settings file (overrides JARVIS_SETTINGS_FILE)")
	fs.StringVarP(&o.provider, "provider", "p", "", "Provider for --set-key (mistral|openai)")
	fs.StringVar(&o.setKey, "set-key", "", "Save this API key and exit")
	fs.BoolVar(&o.noBrowser, "no-browser", false, "Print navigation URLs instead of opening them")
	fs.StringVar(&o.metricsNS, "metrics-namespace", "jarvisctl", "Prometheus namespace")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func loadConfig(o options) (config.Config, error) {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(o.logLevel))
	if v := strings.TrimSpace(o.store); v != "" {
		cfg.SettingsStore = strings.ToLower(v)
	}
	if v := strings.TrimSpace(o.settingsFile); v != "" {
		cfg.SettingsFile = v
	}
	if v := strings.TrimSpace(o.metricsNS); v != "" {
		cfg.MetricsNamespace = v
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}
	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "jarvisctl: config: %v\n", err)
		return 1
	}
	log := logging.New(stderr, cfg.LogLevel)

	built, err := app.Build(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "jarvisctl: %v\n", err)
		return 1
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Warn("cleanup failed", "err", err)
		}
	}()

	if o.setKey != "" {
		return saveKey(ctx, built, o, stdout, stderr)
	}

	current, err := built.Settings.Load(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "jarvisctl: load settings: %v\n", err)
		return 1
	}

	term := &terminal{w: stdout}
	if !o.noBrowser {
		term.open = browser.OpenURL
	}
	sess := voice.NewSession(uuid.NewString(), built.Orchestrator, term.Outputs(), current,
		voice.WithSessionLogger(log.With("component", "jarvisctl")),
	)

	if current.Provider.HasCredential() {
		term.printf("Джарвис: %s\n", voice.CredentialReadyText)
	} else {
		term.printf("Джарвис: %s\n", voice.NoCredentialText)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if quitWords[strings.ToLower(text)] {
				return 0
			}
			if _, err := sess.RunTurn(ctx, text); err != nil {
				if errors.Is(err, voice.ErrTurnInProgress) {
					continue
				}
				fmt.Fprintf(stderr, "jarvisctl: %v\n", err)
			}
		}
	}
}

func saveKey(ctx context.Context, built *app.BuildResult, o options, stdout, stderr io.Writer) int {
	id := provider.ID(strings.ToLower(strings.TrimSpace(o.provider)))
	if id == "" {
		id = provider.ID(built.Config.DefaultProvider)
	}
	backend, err := built.Settings.SaveCredential(ctx, id, o.setKey)
	if err != nil {
		fmt.Fprintf(stderr, "jarvisctl: %s\n", errorText(err))
		return 1
	}
	fmt.Fprintln(stdout, voice.CredentialSavedText(backend.DisplayName))
	return 0
}

func errorText(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return voice.ApologyFor(err)
	}
	return err.Error()
}
