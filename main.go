package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"avatarsync.dev/client/avatar"
	"avatarsync.dev/client/config"
	"avatarsync.dev/client/entity"
	"avatarsync.dev/client/network"
	"avatarsync.dev/client/participant"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "avatarsync",
		Short:        "Join a lobby and show the other players with their avatars",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run,
	}
	registerLoggingFlags(cmd)

	f := cmd.Flags()
	f.String("config", "", "path to the configuration file")
	f.String("server", "", "websocket address of the game server (env "+config.EnvServer+")")
	f.String("name", "", "name shown to the other players")
	f.String("avatar", "", "content hash of the local player's avatar")
	f.String("avatars-dir", "", "directory of local and downloaded avatars")
	f.String("metrics-addr", "", "address to serve prometheus metrics on")
	return cmd
}

// loadConfig loads the configuration file and applies the flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	for flag, field := range map[string]*string{
		"server":       &cfg.Server,
		"name":         &cfg.Name,
		"avatar":       &cfg.AvatarHash,
		"avatars-dir":  &cfg.AvatarsDir,
		"metrics-addr": &cfg.MetricsAddr,
	} {
		if cmd.Flags().Changed(flag) {
			*field, _ = cmd.Flags().GetString(flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	base, err := getBaseLogger(cmd)
	if err != nil {
		return err
	}
	logger := logr.FromSlogHandler(base.Handler())

	cfg, err := loadConfig(cmd)
	if err != nil {
		logger.Error(err, "unable to load configuration")
		return err
	}

	store, err := avatar.NewStore(cfg.AvatarsDir)
	if err != nil {
		return err
	}
	cache := newCache(cfg, store, logger)
	defer cache.Close()

	// Players seen before the scan finishes must not trigger downloads of
	// avatars that exist locally.
	release := cache.Gate()
	defer release()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	loading := loadDefaultAvatar(ctx, cache, cfg, logger)

	session := uuid.NewString()
	hub := network.NewHub(network.HubOptions{
		Session: session,
		Factory: func(p *entity.Player) *participant.Participant {
			pl := logger.WithName("participant").WithValues("id", p.ID)
			return participant.New(participant.Options{
				Host:    newHeadlessHost(pl),
				Cache:   cache,
				Default: loading,
				Logger:  pl,
			})
		},
		FrameRate: cfg.FrameRate,
		TickRate:  cfg.TickRate,
		Spacing:   cfg.Spacing,
		Logger:    logger.WithName("hub"),
	})

	client, err := network.Dial(ctx, hub, network.ClientOptions{
		Server:     cfg.Server,
		Name:       cfg.Name,
		AvatarHash: cfg.AvatarHash,
		Session:    session,
		Logger:     logger.WithName("client"),
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer release()
		registerLocalAvatars(ctx, cache, cfg, logger)
		return nil
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return client.Run(ctx)
	})
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, g, cfg.MetricsAddr, logger)
	}

	return g.Wait()
}

// newCache creates the avatar cache. Without a lookup URL only local avatars
// can be resolved.
func newCache(cfg *config.Config, store *avatar.Store, logger logr.Logger) *avatar.Cache {
	opts := avatar.Options{
		Downloader: &avatar.Fetcher{Client: &http.Client{}, StallTimeout: cfg.StallTimeout.Duration},
		Storage:    store,
		Logger:     logger.WithName("avatar"),
	}
	if cfg.LookupURL != "" {
		opts.Lookup = avatar.NewModelSaber(cfg.LookupURL, cfg.LookupTimeout.Duration, logger.WithName("modelsaber"))
	} else {
		logger.Info("no lookup URL configured, only local avatars are available")
	}
	return avatar.NewCache(opts)
}

// loadDefaultAvatar loads the avatar shown while a player's own avatar is
// resolved. It returns nil if there is none.
func loadDefaultAvatar(ctx context.Context, cache *avatar.Cache, cfg *config.Config, logger logr.Logger) *avatar.Avatar {
	path := filepath.Join(cfg.AvatarsDir, cfg.DefaultAvatar)
	hash, err := avatar.HashFile(path)
	if err != nil {
		logger.Error(err, "no default avatar, players stay invisible until their avatar loads", "path", path)
		return nil
	}
	cache.Add(avatar.NewAvatar(hash, path))

	a, err := avatar.Await(ctx, cache, hash)
	if err == nil && a == nil {
		err = errors.New("default avatar failed to load")
	}
	if err != nil {
		logger.Error(err, "unable to load default avatar", "path", path)
		return nil
	}
	return a
}

// registerLocalAvatars makes every avatar in the avatars dir resolvable
// without a download.
func registerLocalAvatars(ctx context.Context, cache *avatar.Cache, cfg *config.Config, logger logr.Logger) {
	start := time.Now()
	avatars, err := avatar.Scan(ctx, cfg.AvatarsDir, cfg.ScanConcurrency, logger.WithName("scan"))
	if err != nil {
		logger.Error(err, "unable to scan local avatars", "dir", cfg.AvatarsDir)
		return
	}
	added := 0
	for _, a := range avatars {
		if cache.Add(a) {
			added++
		}
	}
	logger.Info("registered local avatars", "count", added, "duration", time.Since(start))
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, logger logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
