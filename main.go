package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nwah/lockad-server/geo"
	"github.com/nwah/lockad-server/nav"
	"github.com/nwah/lockad-server/track"
)

func main() {
	configFile := flag.String("config", "config.toml", "TOML or YAML configuration file")
	simulate := flag.String("simulate", "", `walk a simulated journey "from|to" instead of serving`)
	interval := flag.Duration("interval", time.Second, "time between simulated fixes")
	offset := flag.Float64("offset", 0, "latitude offset, in degrees, added to simulated fixes")
	flag.Parse()

	// Load configuration
	if err := LoadConfig(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := GetConfig()
	navConfig := GetNavConfig()
	log := InitLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: navConfig.HTTPTimeout()}
	nominatim := &nav.Nominatim{BaseURL: navConfig.NominatimURL, Client: client}

	var services []nav.Geocoder
	if navConfig.PSGCURL != "" {
		services = append(services, &nav.PSGC{URL: navConfig.PSGCURL, Client: client})
	}
	services = append(services, nominatim)
	var geocoder nav.Geocoder = &nav.GeocoderChain{Services: services, Log: log}
	if navConfig.GeocodeCacheSize > 0 {
		ttl := time.Duration(navConfig.GeocodeCacheTTLSeconds) * time.Second
		geocoder = nav.NewCachedGeocoder(geocoder, navConfig.GeocodeCacheSize, ttl)
	}

	router := nav.NewRoutingProvider(navConfig, client, log)
	log.Info("routing provider selected", slog.String("provider", nav.ActiveProviderDescription(navConfig)))

	planner := &nav.Planner{Geocoder: geocoder, Router: router, Log: log}

	if *simulate != "" {
		if err := runSimulation(ctx, planner, navConfig, *simulate, *interval, *offset, log); err != nil {
			log.Error("simulation failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	server := nav.NewServer(ctx, planner, nominatim, navConfig, log)
	defer server.Close()

	// Register handlers under /nav path
	mux := http.NewServeMux()
	server.Register(mux)

	httpServer := &http.Server{
		Addr:         cfg.Port,
		Handler:      nav.Chain(mux, nav.Recovery(log), nav.Logging(log)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", slog.Any("error", err))
		}
	}()

	log.Info("starting server", slog.String("port", cfg.Port))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// runSimulation plans a route and replays its own coordinates as fixes,
// shifted by offset, until the walker arrives, the journey fails or ctx
// is cancelled.
func runSimulation(ctx context.Context, planner *nav.Planner, cfg nav.NavConfig, spec string,
	interval time.Duration, offset float64, log *slog.Logger) error {
	from, to, ok := strings.Cut(spec, "|")
	if !ok {
		return fmt.Errorf(`simulate wants "from|to", got %q`, spec)
	}

	plan, err := planner.Plan(ctx, nav.Query(from), to, cfg.SafetyMode)
	if err != nil {
		return err
	}

	src := &track.Replay{
		Points:   plan.Route.Coordinates,
		Interval: interval,
		Offset:   geo.Point{Lat: offset},
		Accuracy: 5,
	}
	session := nav.NewSession(*planner, src, nav.SessionOptions{
		OffRouteThresholdMeters: cfg.OffRouteThresholdMeters,
		Mode:                    plan.Mode,
		Presenter:               &nav.LogPresenter{Log: log},
		Log:                     log,
	})
	if err := session.Follow(ctx, plan); err != nil {
		return err
	}
	defer session.Stop()

	poll := interval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		st := session.Status()
		switch {
		case st.State == "failed":
			return errors.New(st.Error)
		case st.State == "tracking" && len(st.Last.Traveled) > 0 && len(st.Last.Remaining) == 1:
			log.Info("arrived", slog.Int("reroutes", st.Reroutes))
			return nil
		}
	}
}
