package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/kevinxiao27/livelist/service"
)

const usage = `livelist server.

Serves one synchronized list over websocket and http.

Usage:
    server [--port=<port>] [--db=<db_url>] [--verbosity=<level>]
    server -h | --help

Options:
    -h --help            Show this screen.
    -p --port=<port>     Listen port [default: 8080].
    --db=<db_url>        Database url [default: mem://demo/items].
    --verbosity=<level>  Log verbosity [default: 0].`

type settings struct {
	port      int
	dbURL     string
	verbosity string
}

func parseArgs(parser *docopt.Parser, argv []string) (settings, error) {
	opts, err := parser.ParseArgs(usage, argv, "")
	if err != nil {
		return settings{}, err
	}
	var s settings
	if s.port, err = opts.Int("--port"); err != nil {
		return settings{}, fmt.Errorf("invalid --port: %w", err)
	}
	if s.port < 0 || s.port > 65535 {
		return settings{}, fmt.Errorf("invalid --port: %d out of range", s.port)
	}
	if s.dbURL, err = opts.String("--db"); err != nil {
		return settings{}, fmt.Errorf("invalid --db: %w", err)
	}
	if s.verbosity, err = opts.String("--verbosity"); err != nil {
		return settings{}, fmt.Errorf("invalid --verbosity: %w", err)
	}
	if _, err := strconv.Atoi(s.verbosity); err != nil {
		return settings{}, fmt.Errorf("invalid --verbosity: %w", err)
	}
	return s, nil
}

func main() {
	s, err := parseArgs(docopt.DefaultParser, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n%s\n", err, usage)
		os.Exit(2)
	}

	// glog reads its settings from the standard flag set
	flag.Set("logtostderr", "true")
	flag.Set("v", s.verbosity)
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	if err := run(s.port, s.dbURL); err != nil {
		glog.Errorf("[server]exit error = %s\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(port int, dbURL string) error {
	svc, err := service.Initialize(service.Config{DatabaseURL: dbURL})
	if err != nil {
		return err
	}
	server, err := NewServer(svc)
	if err != nil {
		return err
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Printf("livelist server starting on :%d\n", port)
		fmt.Printf("WebSocket API: ws://localhost:%d/ws\n", port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
