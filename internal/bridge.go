package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// MessageHandlerName is the script message handler registered on the view.
	MessageHandlerName = "iosListener"

	EventCloseWebview = "Close webview"
	EventPageClosed   = "Page closed"
	EventQuizFinished = "Quiz finished"
)

var (
	errNotObject    = errors.New("payload is not a JSON object")
	errMissingEvent = errors.New("payload has no event name")
	errNotString    = errors.New("payload is not a string")
)

// Listener receives events posted by the embedded web content. Callbacks run
// on whichever goroutine delivered the message.
type Listener interface {
	OnEvent(event string, data map[string]any)
	OnClose(data map[string]any)
	OnQuizFinished(data map[string]any)
}

// WebView is the embedded web surface a Channel drives.
type WebView interface {
	AddScriptMessageHandler(name string, handler func(body any)) error
	RemoveScriptMessageHandler(name string)
	Load(url string) error
	Dismiss() error
}

// Event is one decoded bridge message.
type Event struct {
	Name string
	Data map[string]any
}

// ParseEvent decodes a bridge payload of the form
// {"event": "<name>", "data": {...}}. Data is nil unless it is an object.
func ParseEvent(payload []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Event{}, err
	}
	if fields == nil {
		return Event{}, errNotObject
	}
	raw, ok := fields["event"]
	if !ok {
		return Event{}, errMissingEvent
	}
	var evt Event
	if err := json.Unmarshal(raw, &evt.Name); err != nil || string(raw) == "null" {
		return Event{}, errMissingEvent
	}
	if raw, ok := fields["data"]; ok {
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err == nil {
			evt.Data = data
		}
	}
	return evt, nil
}

// Options control how the embedded surface is presented.
type Options struct {
	TopInset        int
	BottomInset     int
	BackgroundColor string
}

// AugmentURL appends the embedding query items to rawURL, after any items it
// already carries.
func AugmentURL(rawURL string, top, bottom int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	extra := "webview_ios=1&top_padding=" + strconv.Itoa(top) + "&bottom_padding=" + strconv.Itoa(bottom)
	if u.RawQuery == "" {
		u.RawQuery = extra
	} else {
		u.RawQuery += "&" + extra
	}
	return u.String(), nil
}

// ChannelState is the lifecycle state of a Channel.
type ChannelState int

const (
	StateCreated ChannelState = iota
	StateLoading
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoading:
		return "loading"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Channel relays messages from one embedded web surface to a Listener.
// The channel does not own the listener: Close detaches it, and the host
// must keep it alive until then.
type Channel struct {
	id      string
	log     zerolog.Logger
	metrics *Metrics
	opts    Options
	url     string

	mutex    sync.RWMutex
	listener Listener
	state    ChannelState
	view     WebView
}

type ChannelOption func(*Channel)

func WithChannelLogger(log zerolog.Logger) ChannelOption {
	return func(ch *Channel) { ch.log = log }
}

func WithChannelMetrics(m *Metrics) ChannelOption {
	return func(ch *Channel) { ch.metrics = m }
}

func WithChannelID(id string) ChannelOption {
	return func(ch *Channel) { ch.id = id }
}

func NewChannel(listener Listener, rawURL string, opts Options, options ...ChannelOption) (*Channel, error) {
	if listener == nil {
		return nil, fmt.Errorf("listener is nil")
	}
	u, err := AugmentURL(rawURL, opts.TopInset, opts.BottomInset)
	if err != nil {
		return nil, err
	}
	ch := &Channel{
		id:       newID(),
		listener: listener,
		log:      zerolog.Nop(),
		opts:     opts,
		url:      u,
	}
	for _, o := range options {
		o(ch)
	}
	ch.log = ch.log.With().Str("component", "bridge").Str("channel_id", ch.id).Logger()
	return ch, nil
}

func (ch *Channel) ID() string {
	return ch.id
}

// URL returns the augmented URL loaded into the view.
func (ch *Channel) URL() string {
	return ch.url
}

func (ch *Channel) Options() Options {
	return ch.opts
}

func (ch *Channel) State() ChannelState {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	return ch.state
}

// Attach registers the message handler on view and starts loading the page.
func (ch *Channel) Attach(view WebView) error {
	if view == nil {
		return fmt.Errorf("view is nil")
	}
	ch.mutex.Lock()
	if ch.state != StateCreated {
		state := ch.state
		ch.mutex.Unlock()
		return fmt.Errorf("attach channel in state %s", state)
	}
	if err := view.AddScriptMessageHandler(MessageHandlerName, func(body any) {
		ch.HandleMessage(MessageHandlerName, body)
	}); err != nil {
		ch.mutex.Unlock()
		return fmt.Errorf("add message handler: %w", err)
	}
	ch.view = view
	ch.state = StateLoading
	ch.mutex.Unlock()

	ch.log.Debug().Str("url", ch.url).Msg("Loading page")
	if err := view.Load(ch.url); err != nil {
		ch.Close()
		return fmt.Errorf("load %s: %w", ch.url, err)
	}
	return nil
}

// HandleMessage decodes and dispatches one message posted by the page.
// Malformed messages are logged and dropped.
func (ch *Channel) HandleMessage(name string, body any) {
	ch.mutex.RLock()
	listener, state := ch.listener, ch.state
	ch.mutex.RUnlock()
	if state != StateLoading || listener == nil {
		ch.drop("inactive", fmt.Errorf("channel %s", state))
		return
	}
	if name != MessageHandlerName {
		ch.drop("handler", fmt.Errorf("unknown handler %q", name))
		return
	}
	payload, ok := body.(string)
	if !ok {
		ch.drop("payload", errNotString)
		return
	}
	ch.log.Debug().Str("body", payload).Msg("Received message")
	evt, err := ParseEvent([]byte(payload))
	if err != nil {
		ch.drop("parse", err)
		return
	}
	ch.dispatch(listener, evt)
}

func (ch *Channel) dispatch(listener Listener, evt Event) {
	switch evt.Name {
	case EventCloseWebview, EventPageClosed:
		ch.metrics.Message("close")
		listener.OnClose(evt.Data)
	case EventQuizFinished:
		ch.metrics.Message("quiz_finished")
		listener.OnQuizFinished(evt.Data)
	default:
		ch.metrics.Message("event")
		listener.OnEvent(evt.Name, evt.Data)
	}
}

func (ch *Channel) drop(reason string, err error) {
	ch.metrics.Message("dropped")
	ch.log.Warn().Err(err).Str("reason", reason).Msg("Dropped bridge message")
}

// Dismiss asks the view to go away and closes the channel.
func (ch *Channel) Dismiss() error {
	ch.mutex.RLock()
	view := ch.view
	ch.mutex.RUnlock()
	var err error
	if view != nil {
		err = view.Dismiss()
	}
	ch.Close()
	return err
}

// Close removes the message handler and detaches the listener. It is safe
// to call more than once. Messages received after Close are dropped, but a
// callback already dispatched when Close is called still runs to completion,
// so listeners may see more than one close event.
func (ch *Channel) Close() {
	ch.mutex.Lock()
	if ch.state == StateClosed {
		ch.mutex.Unlock()
		return
	}
	view := ch.view
	ch.state = StateClosed
	ch.listener = nil
	ch.view = nil
	ch.mutex.Unlock()
	if view != nil {
		view.RemoveScriptMessageHandler(MessageHandlerName)
	}
	ch.log.Debug().Msg("Channel closed")
}
