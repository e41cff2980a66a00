// cascade runs cascade classifiers on images, once from the command line or
// as a bridge server for host runtimes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/bridge"
	"github.com/teslashibe/go-cascade/pkg/cascade"
	"github.com/teslashibe/go-cascade/pkg/hub"
)

const usage = `usage: cascade <command> [flags]

commands:
  detect   run a classifier on one image and print the detections as JSON
  serve    run the bridge server
  purge    clear the download cache
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "detect":
		err = runDetect(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "purge":
		err = runPurge(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "cascade:", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every subcommand takes.
type commonFlags struct {
	config   *string
	backend  *string
	logLevel *string
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:   fs.String("config", "", "YAML config file"),
		backend:  fs.String("backend", "", "detection backend: gocv or pigo"),
		logLevel: fs.String("log-level", "", "debug, info, warn or error"),
	}
}

func (f commonFlags) app() (*app, error) {
	cfg, err := loadConfig(*f.config, *f.backend, *f.logLevel)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.LogLevel)
	return newApp(cfg)
}

func runDetect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	common := addCommon(fs)
	classifier := fs.String("classifier", "", "classifier file path")
	image := fs.String("image", "", "image: file:// URI, URL or bundled asset ID")
	best := fs.Bool("best", false, "print only the largest detection")
	fs.Parse(args)

	if *classifier == "" || *image == "" {
		fs.Usage()
		return errors.New("-classifier and -image are required")
	}

	a, err := common.app()
	if err != nil {
		return err
	}
	defer a.Close()

	inv := cascade.New(a.backend, a.locator)
	dets, err := inv.Detect(ctx, *classifier, parseImage(*image))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if *best {
		return enc.Encode(cascade.SelectBest(dets))
	}
	return enc.Encode(dets)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommon(fs)
	addr := fs.String("addr", "", "listen address (default from config, :8080)")
	access := fs.Bool("access-log", false, "log every HTTP request")
	fs.Parse(args)

	a, err := common.app()
	if err != nil {
		return err
	}
	defer a.Close()
	if *addr != "" {
		a.cfg.Addr = *addr
	}

	events := hub.New("events")
	go events.Run(ctx)

	inv := cascade.New(a.backend, a.locator, cascade.WithObserver(events.Observer()))
	srv := bridge.NewServer(inv,
		bridge.WithEvents(events),
		bridge.WithBackendName(a.backend.Name()),
		bridge.WithAccessLog(*access),
		bridge.WithMaxInFlight(a.cfg.MaxInFlight),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(a.cfg.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runPurge(args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	common := addCommon(fs)
	fs.Parse(args)

	a, err := common.app()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.downloader.Purge(); err != nil {
		return err
	}
	log.Info("cache purged", "dir", a.downloader.Dir())
	return nil
}
