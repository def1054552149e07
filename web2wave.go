// Package web2wave is a client SDK for the web2wave subscription backend and
// the bridge that relays events from embedded web flows to host code.
package web2wave

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/web2wave/web2wave-go/internal"
)

type (
	Client                     = internal.Client
	ClientOption               = internal.ClientOption
	Credentials                = internal.Credentials
	Subscription               = internal.Subscription
	SubscriptionStatusResponse = internal.SubscriptionStatusResponse
	Property                   = internal.Property
	UpdateError                = internal.UpdateError
	ErrorKind                  = internal.ErrorKind

	Channel       = internal.Channel
	ChannelOption = internal.ChannelOption
	ChannelState  = internal.ChannelState
	Event         = internal.Event
	Listener      = internal.Listener
	Options       = internal.Options
	WebView       = internal.WebView

	Surface       = internal.Surface
	SurfaceOption = internal.SurfaceOption
	View          = internal.View

	Metrics = internal.Metrics
)

const (
	KindInvalidRequest    = internal.KindInvalidRequest
	KindMalformedResponse = internal.KindMalformedResponse
	KindHTTP              = internal.KindHTTP
	KindTransport         = internal.KindTransport

	EventCloseWebview = internal.EventCloseWebview
	EventPageClosed   = internal.EventPageClosed
	EventQuizFinished = internal.EventQuizFinished

	StateCreated = internal.StateCreated
	StateLoading = internal.StateLoading
	StateClosed  = internal.StateClosed
)

var (
	ErrNotConfigured = internal.ErrNotConfigured

	NewClient      = internal.NewClient
	WithHTTPClient = internal.WithHTTPClient
	WithLogger     = internal.WithLogger
	WithMetrics    = internal.WithMetrics
	WithClock      = internal.WithClock

	NewChannel         = internal.NewChannel
	WithChannelID      = internal.WithChannelID
	WithChannelLogger  = internal.WithChannelLogger
	WithChannelMetrics = internal.WithChannelMetrics
	AugmentURL         = internal.AugmentURL
	ParseEvent         = internal.ParseEvent

	NewSurface            = internal.NewSurface
	WithSurfaceLogger     = internal.WithSurfaceLogger
	WithSurfaceMetrics    = internal.WithSurfaceMetrics
	WithSurfaceHTTPClient = internal.WithSurfaceHTTPClient
	WithSurfaceClock      = internal.WithSurfaceClock

	DecodeProperties    = internal.DecodeProperties
	NormalizeProperties = internal.NormalizeProperties
	IsKind              = internal.IsKind
)

// NewMetrics creates a metrics collector served on listen once started.
func NewMetrics(listen string, log zerolog.Logger) *Metrics {
	return internal.NewMetrics(listen, log)
}

// NewLogger returns a console logger writing to stderr at the named level.
func NewLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger(), nil
}
