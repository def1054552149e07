package internal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const surfacePrefix = "/bridge/"

var pingPeriod = 30 * time.Second

// Surface is an HTTP bridge between host code and web content running in
// an external shell. The shell posts script messages to
// POST /bridge/{view}/{handler} and follows host commands on
// GET /bridge/{view}/events.
type Surface struct {
	cfg         ConfigSurface
	clock       clock.Clock
	ctx         context.Context
	ctxCancel   context.CancelFunc
	done        chan bool
	httpClient  *http.Client
	hub         *hub
	jwksRefresh time.Duration
	keys        []any
	keysJwks    []any
	log         zerolog.Logger
	logRoot     zerolog.Logger
	metrics     *Metrics
	mutex       sync.RWMutex
	server      *fasthttp.Server
	views       map[string]*View
}

type SurfaceOption func(*Surface)

func WithSurfaceLogger(log zerolog.Logger) SurfaceOption {
	return func(s *Surface) {
		s.logRoot = log
		s.log = log.With().Str("component", "surface").Logger()
	}
}

func WithSurfaceMetrics(m *Metrics) SurfaceOption {
	return func(s *Surface) { s.metrics = m }
}

func WithSurfaceHTTPClient(hc *http.Client) SurfaceOption {
	return func(s *Surface) { s.httpClient = hc }
}

func WithSurfaceClock(clk clock.Clock) SurfaceOption {
	return func(s *Surface) { s.clock = clk }
}

func NewSurface(cfg ConfigSurface, opts ...SurfaceOption) *Surface {
	s := &Surface{
		cfg:        cfg,
		clock:      clock.New(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        zerolog.Nop(),
		logRoot:    zerolog.Nop(),
		views:      make(map[string]*View),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on cfg.LISTEN and serves the surface until ctx is done or
// Stop is called.
func (s *Surface) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.LISTEN)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.LISTEN, err)
	}
	if err := s.Serve(ctx, ln); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// Serve serves the surface on ln.
func (s *Surface) Serve(ctx context.Context, ln net.Listener) (err error) {
	s.mutex.Lock()
	if s.ctx != nil {
		s.mutex.Unlock()
		return fmt.Errorf("surface already started")
	}
	s.keys = jwtKeys(s.log, s.cfg.JWT_ALG, s.cfg.JWT_KEY)
	s.keysJwks, s.jwksRefresh = jwksKeys(s.log, s.httpClient, s.cfg.JWKS_URL)
	if s.authRequired() && len(s.keys)+len(s.keysJwks) == 0 {
		s.mutex.Unlock()
		return fmt.Errorf("no surface keys available")
	}
	s.ctx, s.ctxCancel = context.WithCancel(ctx)
	s.done = make(chan bool)
	s.hub = newHub(s.metrics)
	s.server = &fasthttp.Server{
		Handler:               s.Handler(),
		CloseOnShutdown:       true,
		NoDefaultServerHeader: true,
	}
	runCtx, done, server := s.ctx, s.done, s.server
	s.mutex.Unlock()

	s.startJwksRefresh(done)
	go s.hub.Run(runCtx)
	go func() {
		s.log.Info().Str("listen", ln.Addr().String()).Msg("Surface listening")
		if err := server.Serve(ln); err != nil {
			s.log.Error().Err(err).Msg("Surface server failed")
		}
	}()
	go func() {
		select {
		case <-runCtx.Done():
			s.Stop()
		case <-done:
		}
	}()
	return nil
}

func (s *Surface) Stop() {
	s.mutex.Lock()
	if s.ctx == nil {
		s.mutex.Unlock()
		return
	}
	close(s.done)
	s.ctxCancel()
	server := s.server
	s.ctx = nil
	s.mutex.Unlock()
	server.Shutdown()
}

// active returns the hub and done channel of the current run, or a nil hub
// when the surface is not serving.
func (s *Surface) active() (*hub, chan bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.ctx == nil {
		return nil, nil
	}
	return s.hub, s.done
}

// NewView registers a view under id. An empty id gets a generated one.
func (s *Surface) NewView(id string) (*View, error) {
	if id == "" {
		id = newID()
	}
	if strings.Contains(id, "/") {
		return nil, fmt.Errorf("invalid view id %q", id)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.views[id]; ok {
		return nil, fmt.Errorf("view %q already exists", id)
	}
	v := &View{
		id:       id,
		surface:  s,
		handlers: make(map[string]func(body any)),
	}
	s.views[id] = v
	return v, nil
}

// Open creates a Channel for rawURL and attaches it to a new view sharing
// the channel's id.
func (s *Surface) Open(listener Listener, rawURL string, opts Options, options ...ChannelOption) (*Channel, error) {
	options = append([]ChannelOption{
		WithChannelLogger(s.logRoot),
		WithChannelMetrics(s.metrics),
	}, options...)
	ch, err := NewChannel(listener, rawURL, opts, options...)
	if err != nil {
		return nil, err
	}
	view, err := s.NewView(ch.ID())
	if err != nil {
		return nil, err
	}
	if err := ch.Attach(view); err != nil {
		s.removeView(view.id)
		return nil, err
	}
	return ch, nil
}

func (s *Surface) view(id string) *View {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.views[id]
}

func (s *Surface) removeView(id string) {
	s.mutex.Lock()
	delete(s.views, id)
	s.mutex.Unlock()
}

type command struct {
	Command string `json:"command"`
	URL     string `json:"url,omitempty"`
}

func (s *Surface) publish(id string, cmd command) {
	h, _ := s.active()
	if h == nil {
		return
	}
	b, _ := json.Marshal(cmd)
	h.Broadcast(newMessage(cmd.Command, []string{id}, string(b)))
}

// Handler returns the surface request handler. Event streams answer 503
// until the surface is serving.
func (s *Surface) Handler() fasthttp.RequestHandler {
	return s.handleFastHTTP
}

func (s *Surface) handleFastHTTP(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	if !strings.HasPrefix(path, surfacePrefix) {
		ctx.SetStatusCode(404)
		return
	}
	parts := strings.Split(strings.TrimPrefix(path, surfacePrefix), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		ctx.SetStatusCode(404)
		return
	}
	id, name := parts[0], parts[1]
	ctx.Response.Header.Set("Access-Control-Allow-Origin", s.cfg.CORS_ORIGINS)
	switch strings.ToUpper(string(ctx.Method())) {
	case "OPTIONS":
		s.options(ctx)
	case "GET":
		if name != "events" {
			ctx.SetStatusCode(405)
			return
		}
		s.subscribe(ctx, id)
	case "POST":
		if name == "events" {
			ctx.SetStatusCode(405)
			return
		}
		s.post(ctx, id, name)
	default:
		ctx.SetStatusCode(405)
	}
}

func (s *Surface) options(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Cache-Control, Content-Type")
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
}

func (s *Surface) post(ctx *fasthttp.RequestCtx, id, name string) {
	v := s.view(id)
	if v == nil {
		ctx.SetStatusCode(404)
		return
	}
	if !s.authorize(ctx, id) {
		ctx.SetStatusCode(403)
		return
	}
	s.metrics.Receive()
	if !v.deliver(name, string(ctx.PostBody())) {
		ctx.SetStatusCode(404)
		return
	}
	ctx.SetStatusCode(204)
}

func (s *Surface) subscribe(ctx *fasthttp.RequestCtx, id string) {
	v := s.view(id)
	if v == nil {
		ctx.SetStatusCode(404)
		return
	}
	if !s.authorize(ctx, id) {
		ctx.SetStatusCode(403)
		return
	}
	h, done := s.active()
	if h == nil {
		ctx.SetStatusCode(503)
		return
	}
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
	conn := newConnection([]string{id})
	h.Register(conn)
	s.metrics.Connect()
	current := v.currentURL()
	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer s.metrics.Disconnect()
		defer h.Unregister(conn)
		w.Write([]byte(":\n"))
		if current != "" {
			b, _ := json.Marshal(command{Command: commandLoad, URL: current})
			newMessage(commandLoad, conn.views, string(b)).WriteTo(w)
		}
		if err := w.Flush(); err != nil {
			return
		}
		pinger := s.clock.Ticker(pingPeriod)
		defer pinger.Stop()
		var last string
		for {
			select {
			case msg, ok := <-conn.send:
				if !ok {
					return
				}
				if msg.ID == last {
					break
				}
				msg.WriteTo(w)
				if err := w.Flush(); err != nil {
					return
				}
				last = msg.ID
				if msg.Type == commandDismiss {
					return
				}
			case <-pinger.C:
				w.Write([]byte(":\n"))
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
}

func (s *Surface) authRequired() bool {
	return s.cfg.JWT_KEY != "" || s.cfg.JWKS_URL != ""
}

func (s *Surface) authorize(ctx *fasthttp.RequestCtx, id string) bool {
	if !s.authRequired() {
		return true
	}
	claims := jwtTokenClaims(s.log, ctx, s.allKeys())
	return claims != nil && claims.allows(id)
}

func (s *Surface) allKeys() []any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append(append([]any{}, s.keys...), s.keysJwks...)
}

func (s *Surface) startJwksRefresh(done chan bool) {
	if s.jwksRefresh <= 0 {
		return
	}
	refresh := s.jwksRefresh
	t := s.clock.Ticker(refresh)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-t.C:
				keys, maxage := jwksKeys(s.log, s.httpClient, s.cfg.JWKS_URL)
				if maxage > 0 && maxage != refresh {
					refresh = maxage
					t.Reset(refresh)
				}
				if len(keys) < 1 {
					continue
				}
				s.mutex.Lock()
				s.keysJwks = keys
				s.mutex.Unlock()
			case <-done:
				return
			}
		}
	}()
}

// View is one embedded page served through a Surface. It implements WebView.
type View struct {
	id      string
	surface *Surface

	mutex    sync.RWMutex
	handlers map[string]func(body any)
	url      string
}

var _ WebView = (*View)(nil)

func (v *View) ID() string {
	return v.id
}

func (v *View) AddScriptMessageHandler(name string, handler func(body any)) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if _, ok := v.handlers[name]; ok {
		return fmt.Errorf("handler %q already registered", name)
	}
	v.handlers[name] = handler
	return nil
}

func (v *View) RemoveScriptMessageHandler(name string) {
	v.mutex.Lock()
	delete(v.handlers, name)
	v.mutex.Unlock()
}

// Load tells connected shells to navigate to url. Shells connecting later
// receive it on connect.
func (v *View) Load(url string) error {
	v.mutex.Lock()
	v.url = url
	v.mutex.Unlock()
	v.surface.publish(v.id, command{Command: commandLoad, URL: url})
	return nil
}

// Dismiss tells connected shells to close the page and unregisters the view.
func (v *View) Dismiss() error {
	v.surface.publish(v.id, command{Command: commandDismiss})
	v.surface.removeView(v.id)
	return nil
}

func (v *View) currentURL() string {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.url
}

func (v *View) deliver(name, body string) bool {
	v.mutex.RLock()
	handler, ok := v.handlers[name]
	v.mutex.RUnlock()
	if !ok {
		return false
	}
	handler(body)
	return true
}
