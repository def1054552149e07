package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/web2wave/web2wave-go"
)

var (
	pageURL     = flag.String("url", "https://quiz.web2wave.com/demo", "Page to open")
	userID      = flag.String("user", "", "App user id")
	topInset    = flag.Int("top", 0, "Top inset")
	bottomInset = flag.Int("bottom", 0, "Bottom inset")
	background  = flag.String("background", "", "Background color")
)

func main() {
	flag.Parse()
	cfg, err := web2wave.LoadConfig()
	if err != nil {
		panic(err)
	}
	log, err := web2wave.NewLogger(cfg.LOG_LEVEL)
	if err != nil {
		panic(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := web2wave.NewMetrics(cfg.METRICS, log)
	metrics.Start(ctx)

	client, err := web2wave.NewClient(cfg,
		web2wave.WithLogger(log),
		web2wave.WithMetrics(metrics))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid client config")
	}
	surface := web2wave.NewSurface(cfg.SURFACE,
		web2wave.WithSurfaceLogger(log),
		web2wave.WithSurfaceMetrics(metrics))
	if err := surface.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start surface")
	}
	defer surface.Stop()

	h := &host{
		ctx:    ctx,
		client: client,
		closed: make(chan struct{}),
		log:    log,
		userID: *userID,
	}
	h.channel, err = surface.Open(h, *pageURL, web2wave.Options{
		TopInset:        *topInset,
		BottomInset:     *bottomInset,
		BackgroundColor: *background,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open channel")
	}
	log.Info().
		Str("channel", h.channel.ID()).
		Str("url", h.channel.URL()).
		Msg("Channel open")

	select {
	case <-ctx.Done():
		h.channel.Close()
	case <-h.closed:
	}
}

// host reacts to bridge events the way an app embedding a quiz would.
type host struct {
	channel *web2wave.Channel
	client  *web2wave.Client
	closed  chan struct{}
	ctx     context.Context
	log     zerolog.Logger
	once    sync.Once
	userID  string
}

var profileSetters = map[string]func(*web2wave.Client, context.Context, string, string) error{
	"revenuecat_profile_id": (*web2wave.Client).SetRevenueCatProfileID,
	"adapty_profile_id":     (*web2wave.Client).SetAdaptyProfileID,
	"qonversion_profile_id": (*web2wave.Client).SetQonversionProfileID,
}

func (h *host) OnEvent(event string, data map[string]any) {
	h.log.Info().Str("event", event).Interface("data", data).Msg("Event")
}

func (h *host) OnQuizFinished(data map[string]any) {
	h.log.Info().Interface("data", data).Msg("Quiz finished")
	if h.userID == "" {
		return
	}
	active, err := h.client.HasActiveSubscription(h.ctx, h.userID)
	if err != nil {
		h.log.Error().Err(err).Msg("Subscription check failed")
		return
	}
	h.log.Info().Str("user", h.userID).Bool("active", active).Msg("Subscription checked")
	for key, set := range profileSetters {
		id, ok := data[key].(string)
		if !ok || id == "" {
			continue
		}
		if err := set(h.client, h.ctx, h.userID, id); err != nil {
			h.log.Warn().Err(err).Str("property", key).Msg("Profile id not saved")
			continue
		}
		h.log.Info().Str("property", key).Msg("Profile id saved")
	}
}

// OnClose may run more than once when the page sends both close events.
func (h *host) OnClose(data map[string]any) {
	h.log.Info().Interface("data", data).Msg("Close requested")
	h.once.Do(func() {
		if err := h.channel.Dismiss(); err != nil {
			h.log.Warn().Err(err).Msg("Dismiss failed")
		}
		close(h.closed)
	})
}
