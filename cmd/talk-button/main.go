// Command talk-button is a terminal talk button for a voice AI agent. It
// fetches a session token from the token broker, opens the default
// microphone and speaker, and runs one voice conversation per press.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/vango-go/vai-talk/internal/dotenv"
	"github.com/vango-go/vai-talk/pkg/talk/audio"
	"github.com/vango-go/vai-talk/pkg/talk/bland"
	"github.com/vango-go/vai-talk/pkg/talk/session"
	"github.com/vango-go/vai-talk/pkg/talk/tokens"
)

type options struct {
	brokerURL  string
	sdkURL     string
	sampleRate int
	logOutput  string
	help       bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "talk-button: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, *pflag.FlagSet, error) {
	opts := options{}
	flagSet := pflag.NewFlagSet("talk-button", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&opts.brokerURL, "broker-url", envOr("TALK_BROKER_URL", tokens.DefaultBrokerURL), "token broker base URL")
	flagSet.StringVar(&opts.sdkURL, "sdk-url", envOr("TALK_SDK_URL", bland.DefaultURL), "voice session websocket URL")
	flagSet.IntVar(&opts.sampleRate, "sample-rate", session.DefaultSampleRate, "microphone and speaker sample rate in Hz")
	flagSet.StringVar(&opts.logOutput, "log-output", "", "write JSON log records to this file (the terminal is owned by the UI)")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		return options{}, flagSet, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, flagSet, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.sampleRate <= 0 {
		return options{}, flagSet, fmt.Errorf("--sample-rate must be > 0")
	}
	return opts, flagSet, nil
}

func run(args []string) error {
	// Best effort; the broker URL may come from a local .env.
	_ = dotenv.LoadFiles(".env")

	opts, flagSet, err := parseFlags(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		printHelp(flagSet)
		return nil
	}
	if err != nil {
		return err
	}
	if opts.help {
		printHelp(flagSet)
		return nil
	}

	logger, closeLog, err := openLogger(opts.logOutput)
	if err != nil {
		return fmt.Errorf("cannot open log file %s: %w", opts.logOutput, err)
	}
	defer closeLog()

	ctrl, err := newController(opts, logger)
	if err != nil {
		return err
	}

	program := tea.NewProgram(newModel(ctrl))
	_, err = program.Run()
	return err
}

func newController(opts options, logger *slog.Logger) (*session.Controller, error) {
	return session.New(session.Options{
		Tokens:          tokens.New(opts.brokerURL),
		Media:           audio.NewDevices(opts.sampleRate, logger),
		NewConversation: bland.NewFactory(bland.Options{URL: opts.sdkURL, Logger: logger}),
		Logger:          logger,
		SampleRate:      opts.sampleRate,
	})
}

// openLogger returns a JSON file logger, or a discarding logger when path is
// empty. Writing to stderr would corrupt the UI.
func openLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { file.Close() }, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `talk-button: talk to a voice AI agent from the terminal.

Press enter or space to start a conversation and again to end it.
The token broker must be running and configured with the agent
credentials.

Usage:
  talk-button [flags]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
