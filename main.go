package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/voc/tsmon/analyzer"
	"github.com/voc/tsmon/api"
	"github.com/voc/tsmon/capture"
	"github.com/voc/tsmon/config"
	"github.com/voc/tsmon/pipeline"
	"github.com/voc/tsmon/registry"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (default: search config.toml, /etc/tsmon/config.toml)")
	summary := flag.Duration("summary", 0, "log the PID summary at this interval, 0 disables")
	flag.Parse()

	paths := config.DefaultPaths
	if *configFlag != "" {
		paths = []string{*configFlag}
	}
	conf, err := config.Parse(paths)
	if err != nil {
		log.Fatal(err)
	}

	closeLog := setupLogging(conf.Log)
	defer closeLog()

	if err := run(conf, *summary); err != nil {
		slog.Error("exiting", "err", err)
		closeLog()
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler, writing to a rotating
// file when configured. SIGHUP rotates the file.
func setupLogging(conf config.LogConfig) func() {
	var w io.Writer = os.Stderr
	closer := func() {}
	if conf.File != "" {
		l := &lumberjack.Logger{
			Filename:   conf.File,
			MaxSize:    conf.MaxSizeMB,
			MaxBackups: conf.MaxBackups,
			MaxAge:     conf.MaxAgeDays,
		}
		w = l

		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGHUP)
		go func() {
			for range ch {
				if err := l.Rotate(); err != nil {
					fmt.Fprintln(os.Stderr, "log rotate:", err)
				}
			}
		}()
		closer = func() {
			signal.Stop(ch)
			l.Close()
		}
	}

	opts := &slog.HandlerOptions{Level: conf.Level}
	var handler slog.Handler
	if conf.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}

func run(conf *config.Config, summary time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := conf.NewQueue()
	if err != nil {
		return err
	}
	source, err := capture.NewSource(conf.Source())
	if err != nil {
		return err
	}
	sink, err := pipeline.OpenJSONSink(conf.Output.JSONFile)
	if err != nil {
		return err
	}
	if c, ok := sink.(io.Closer); ok {
		defer c.Close()
	}

	reg := registry.New()
	errs := analyzer.NewTR101290Errors()
	p := pipeline.New(conf.Pipeline(), q, reg, errs, sink)

	slog.Info("tsmon starting", "capture", conf.Capture.Type, "address", conf.Capture.Address,
		"queue_capacity", q.Cap(), "queue_policy", q.Policy())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the pipeline drains and exits once the source is done
		defer q.Close()
		if err := source.Run(ctx, q); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// everything else ends with the pipeline
		defer cancel()
		return p.Run(ctx)
	})

	if conf.API.Enabled {
		session := &api.Session{
			Registry: reg,
			Errors:   errs,
			Pipeline: p,
			Queue:    q,
		}
		if s, ok := source.(*capture.SRTSource); ok {
			session.Sockets = s
		}
		server := api.NewServer(api.Config{Address: conf.API.Address, Hostname: conf.API.Hostname}, session)
		if err := server.Listen(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
		g.Go(func() error {
			server.Wait()
			return nil
		})
	}

	if summary > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(summary)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					slog.Info("PID summary\n" + reg.RenderSummary())
					slog.Info(errs.String())
				}
			}
		})
	}

	err = g.Wait()
	slog.Info("tsmon stopped", "pids", reg.Len(), "drops", q.Drops())
	slog.Info("PID summary\n" + reg.RenderSummary())
	slog.Info(errs.String())
	return err
}
