package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/httpapi"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/notify"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/orchestrator"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/runner"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/store/sqlite"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/telegram"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/translate"
)

const usage = `Usage: ttuex-bot <command> [flags]

Commands:
  login       log every configured account in once and persist sessions
  copy-trade  copy an order across all configured accounts
  serve       run the WhatsApp webhook + reports HTTP server
  telegram    run the Telegram bot (long polling)

Run 'ttuex-bot <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "login":
		err = cmdLogin(os.Args[2:])
	case "copy-trade":
		err = cmdCopyTrade(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "telegram":
		err = cmdTelegram(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

type app struct {
	cfg      config.Config
	bus      *logbus.Bus
	store    *sqlite.Store
	notifier notify.Notifier
	runner   *runner.Runner

	stopSink func()
}

func newApp(configPath string, override func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if override != nil {
		override(&cfg)
	}

	bus := logbus.New(500)
	stopSink := consoleSink(bus)

	store, err := sqlite.Open(context.Background(), cfg.Storage.SQLitePath)
	if err != nil {
		stopSink()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	var notifier notify.Notifier
	if cfg.Email.Enabled {
		notifier = notify.NewEmailNotifier(cfg.Email, bus.With(logbus.Fields{"component": "notify"}))
	}

	return &app{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		notifier: notifier,
		runner:   runner.New(cfg, bus.With(logbus.Fields{"component": "runner"}), store, notifier),
		stopSink: stopSink,
	}, nil
}

func (a *app) close() {
	if c, ok := a.notifier.(*notify.EmailNotifier); ok && c != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.Close(ctx); err != nil {
			log.Printf("email notifier shutdown: %v", err)
		}
		cancel()
	}
	a.store.Close()
	a.stopSink()
	a.bus.Close()
}

// consoleSink mirrors bus log messages to stderr so CLI runs are not
// silent. The websocket handler remains the structured consumer.
func consoleSink(bus *logbus.Bus) (stop func()) {
	ch, cancel := bus.Subscribe(128)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			data, ok := msg.Data.(logbus.LogData)
			if !ok {
				continue
			}
			if len(data.Fields) > 0 {
				log.Printf("[%s] %s %v", data.Level, data.Msg, data.Fields)
			} else {
				log.Printf("[%s] %s", data.Level, data.Msg)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func cmdLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "path to config.yaml")
	dryRun := fs.Bool("dry-run", false, "simulate without launching a browser")
	mode := fs.String("mode", "", "browser mode: visible or invisible (overrides config)")
	accountsFile := fs.String("accounts", "", "accounts JSON file (overrides config)")
	performant := fs.Bool("performant", false, "block heavy resources for faster page loads")
	fs.Parse(args)

	a, err := newApp(*configPath, func(cfg *config.Config) {
		applyBrowserFlags(cfg, *mode, *accountsFile, *performant)
	})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	results, err := a.runner.Login(ctx, runner.Options{DryRun: *dryRun, Trigger: "cli"})
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func cmdCopyTrade(args []string) error {
	fs := flag.NewFlagSet("copy-trade", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "path to config.yaml")
	order := fs.String("order", "", "order number to copy (required)")
	dryRun := fs.Bool("dry-run", false, "simulate without launching a browser")
	skipHistory := fs.Bool("skip-history-verification", false, "skip the extra follow-up verification pass")
	concurrency := fs.Int("concurrency", 0, "parallel accounts, 0 uses the config value")
	yes := fs.Bool("yes", false, "skip the live trade confirmation prompt")
	mode := fs.String("mode", "", "browser mode: visible or invisible (overrides config)")
	accountsFile := fs.String("accounts", "", "accounts JSON file (overrides config)")
	performant := fs.Bool("performant", false, "block heavy resources for faster page loads")
	fs.Parse(args)

	if strings.TrimSpace(*order) == "" {
		return fmt.Errorf("-order is required")
	}

	a, err := newApp(*configPath, func(cfg *config.Config) {
		applyBrowserFlags(cfg, *mode, *accountsFile, *performant)
	})
	if err != nil {
		return err
	}
	defer a.close()

	if !*dryRun && a.cfg.Automation.ConfirmLiveTrades() && !*yes {
		if !confirm(fmt.Sprintf("About to place REAL trades for order %s on every configured account.", *order)) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	results, err := a.runner.CopyTrade(ctx, *order, runner.Options{
		DryRun:                  *dryRun,
		SkipHistoryVerification: *skipHistory,
		Concurrency:             *concurrency,
		Trigger:                 "cli",
	})
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "path to config.yaml")
	fs.Parse(args)

	a, err := newApp(*configPath, nil)
	if err != nil {
		return err
	}
	defer a.close()

	api := httpapi.New(httpapi.Options{
		Cfg:    a.cfg,
		Bus:    a.bus,
		Store:  a.store,
		Runner: a.runner,
	})

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.bus.Log("info", "server starting", map[string]any{"addr": a.cfg.Server.Addr})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		a.bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	a.bus.Log("info", "server stopped", nil)
	return nil
}

func cmdTelegram(args []string) error {
	fs := flag.NewFlagSet("telegram", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "path to config.yaml")
	fs.Parse(args)

	a, err := newApp(*configPath, nil)
	if err != nil {
		return err
	}
	defer a.close()

	bot, err := telegram.New(a.cfg.Telegram, a.bus.With(logbus.Fields{"component": "telegram"}), a.runner)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return bot.Run(ctx)
}

// applyBrowserFlags folds CLI overrides into the loaded config.
func applyBrowserFlags(cfg *config.Config, mode, accountsFile string, performant bool) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "visible":
		headless := false
		cfg.Automation.Headless = &headless
	case "invisible":
		headless := true
		cfg.Automation.Headless = &headless
	}
	if accountsFile != "" {
		cfg.Accounts.File = accountsFile
	}
	if performant {
		cfg.Automation.Performant = true
	}
}

func confirm(warning string) bool {
	fmt.Printf("%s\nType 'yes' to continue: ", warning)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func printResults(results []orchestrator.Result) {
	succeeded := 0
	for _, res := range results {
		name := res.Account.AccountName
		switch {
		case res.Err != nil:
			fmt.Printf("FAIL  %-20s %v\n", name, res.Err)
		case res.Report != nil && res.Report.Success:
			succeeded++
			fmt.Printf("OK    %-20s %s\n", name, res.Report.Duration.Round(time.Millisecond))
		default:
			reason := ""
			if res.Report != nil {
				reason = translate.Error(res.Report.FailureReason())
			}
			fmt.Printf("FAIL  %-20s %s\n", name, reason)
		}
	}
	fmt.Printf("\n%d/%d account(s) succeeded\n", succeeded, len(results))
}
