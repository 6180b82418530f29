// Command rates prints PrivatBank archive exchange rates for the previous
// days, one table per day.
//
//	rates [-timeout 10s] <days> [currency]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Tyrowin/ratechat/internal/config"
	"github.com/Tyrowin/ratechat/internal/exchange"
	"github.com/Tyrowin/ratechat/internal/logging"
)

var errUsage = errors.New("usage: rates [-timeout 10s] <days> [currency]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			slog.Error("rates failed", "error", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("rates", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 10*time.Second, "overall time limit for fetching all days")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, errUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	days, currency, err := parseArgs(fs.Args())
	if err != nil {
		fs.Usage()
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	client := exchange.NewClient(exchange.Options{
		HistoryURL: cfg.ExchangeHistoryURL,
		Timeout:    cfg.ExchangeTimeout,
		Logger:     logger,
	})

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	history, err := client.History(ctx, days, currency)
	if err != nil {
		return err
	}

	for _, day := range history {
		_, _ = fmt.Fprintln(stdout, exchange.RenderDay(day))
		_, _ = fmt.Fprintln(stdout)
	}
	_, _ = fmt.Fprintf(stdout, "Execution time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func parseArgs(args []string) (int, string, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, "", errUsage
	}

	days, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q is not a number", exchange.ErrInvalidDays, args[0])
	}
	if days < 1 || days > exchange.MaxHistoryDays {
		return 0, "", fmt.Errorf("%w: %d (must be 1-%d)", exchange.ErrInvalidDays, days, exchange.MaxHistoryDays)
	}

	var currency string
	if len(args) == 2 {
		currency = args[1]
	}
	return days, currency, nil
}
