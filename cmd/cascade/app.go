package main

import (
	"fmt"
	"strconv"

	"github.com/teslashibe/go-cascade/internal/config"
	"github.com/teslashibe/go-cascade/internal/httpc"
	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/asset"
	"github.com/teslashibe/go-cascade/pkg/cascade"
	"github.com/teslashibe/go-cascade/pkg/cv"
	"github.com/teslashibe/go-cascade/pkg/fetch"
	"github.com/teslashibe/go-cascade/pkg/pigo"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg        *config.Config
	downloader *fetch.Downloader
	registry   *asset.Registry
	locator    *asset.Locator
	backend    cascade.Backend
}

// loadConfig reads the file, overlays the environment and applies flag
// overrides. Empty overrides are ignored.
func loadConfig(path, backend, level string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	dl, err := fetch.New(cfg.CacheDir,
		fetch.WithHTTPClient(httpc.NewClient(cfg.HTTPTimeout)),
		fetch.WithAccessToken(cfg.AccessToken),
		fetch.WithGCSAnonymous(cfg.GCSAnonymous),
	)
	if err != nil {
		return nil, err
	}

	reg := newRegistry(cfg)
	a := &app{
		cfg:        cfg,
		downloader: dl,
		registry:   reg,
		locator:    asset.NewLocator(reg, dl),
	}

	a.backend, err = newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRegistry(cfg *config.Config) *asset.Registry {
	var opts []asset.RegistryOption
	if cfg.AssetServer != "" {
		opts = append(opts, asset.WithServer(cfg.AssetServer))
	}
	if cfg.BundleDir != "" {
		opts = append(opts, asset.WithBundleDir(cfg.BundleDir))
	}
	reg := asset.NewRegistry(opts...)
	for _, e := range cfg.Assets {
		id := reg.Register(asset.Asset{Name: e.Name, Type: e.Type, Dir: e.Dir})
		log.Debug("asset registered", "id", id, "name", e.Name)
	}
	return reg
}

func newBackend(cfg *config.Config) (cascade.Backend, error) {
	switch cfg.Backend {
	case config.BackendGoCV:
		return cv.New(cv.WithConfig(cv.Config{
			ScaleFactor:        cfg.ScaleFactor,
			MinNeighbors:       cfg.MinNeighbors,
			MinSize:            cfg.MinSize,
			MaxSize:            cfg.MaxSize,
			FallbackClassifier: cfg.FallbackClassifier,
		})), nil
	case config.BackendPigo:
		pc := pigo.DefaultConfig()
		pc.ScaleFactor = cfg.ScaleFactor
		pc.MinSize = cfg.MinSize
		pc.MaxSize = cfg.MaxSize
		pc.FallbackClassifier = cfg.FallbackClassifier
		return pigo.New(pigo.WithConfig(pc)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (a *app) Close() error {
	return a.backend.Close()
}

// parseImage turns the -image flag into a reference. A bare integer is a
// bundled asset ID.
func parseImage(s string) asset.Reference {
	if id, err := strconv.Atoi(s); err == nil {
		return asset.BundledAsset(asset.Descriptor{ID: id})
	}
	return asset.ParseReference(s)
}
