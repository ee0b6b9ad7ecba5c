package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cachewire/cachewire-go/pkg/cache"
	"github.com/cachewire/cachewire-go/pkg/connection"
	"github.com/cachewire/cachewire-go/pkg/engine"
	"github.com/cachewire/cachewire-go/pkg/health"
	"github.com/cachewire/cachewire-go/pkg/log"
	"github.com/cachewire/cachewire-go/pkg/model"
	"github.com/cachewire/cachewire-go/pkg/persistence"
	"github.com/cachewire/cachewire-go/pkg/subscription"
	"github.com/cachewire/cachewire-go/pkg/transport"
	"github.com/cachewire/cachewire-go/pkg/wire"
)

// Client errors.
var (
	ErrFetcherRequired  = errors.New("client: fetcher is required")
	ErrClientClosed     = errors.New("client: closed")
	ErrMutationRejected = errors.New("mutation rejected")
)

// Client is the top-level cache-synchronization client.
type Client struct {
	config  *Config
	logger  log.Logger
	dialer  transport.Dialer
	fetcher engine.Fetcher

	store    *cache.Store
	registry *subscription.Registry
	engine   *engine.Engine
	manager  *connection.Manager
	monitor  *health.Monitor

	mu         sync.Mutex
	startOnce  sync.Once
	stream     transport.Stream
	heartbeat  *transport.Heartbeat
	recvCancel context.CancelFunc
	closed     bool
}

// Option configures a Client.
type Option func(*options)

type options struct {
	logger  log.Logger
	dialer  transport.Dialer
	metrics prometheus.Registerer
}

// WithLogger attaches a protocol logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialer overrides the transport dialer. Used by tests and by
// embedders with their own transport.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMetrics registers cache and health metrics with the given
// registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.metrics = reg }
}

// New creates a client. The fetcher loads query results from the
// backend's request/response API; it is the application's bridge
// between query keys and actual requests.
func New(config *Config, fetcher engine.Fetcher, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, ErrFetcherRequired
	}
	config.fixup()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		config:  config,
		logger:  log.OrNoop(o.logger),
		fetcher: fetcher,
	}

	c.dialer = o.dialer
	if c.dialer == nil {
		dialer, err := transport.NewWSDialer(transport.WSConfig{
			URL:       config.URL,
			AuthToken: config.AuthToken,
		})
		if err != nil {
			return nil, err
		}
		c.dialer = dialer
	}

	storeOpts := []cache.Option{cache.WithCapacity(config.CacheCapacity)}
	if o.metrics != nil {
		storeOpts = append(storeOpts, cache.WithMetrics(o.metrics))
	}
	c.store = cache.NewStore(storeOpts...)

	c.registry = subscription.NewRegistry()
	c.registry.SetMaxSubscriptions(config.MaxSubscriptions)

	c.manager = connection.NewManager(c.connect)

	eng, err := engine.NewEngine(engine.Config{
		Store:           c.store,
		Fetcher:         fetcher,
		Epoch:           c.manager.Epoch,
		ResultTTL:       config.ResultTTL.Std(),
		RollbackTimeout: config.RollbackTimeout.Std(),
		Logger:          c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.engine = eng

	var monitorOpts []health.Option
	if o.metrics != nil {
		monitorOpts = append(monitorOpts, health.WithMetrics(o.metrics))
	}
	c.monitor = health.NewMonitor(monitorOpts...)
	c.monitor.SetSubscriptionSource(func() (int, int) {
		return c.registry.Count(), c.registry.ActiveCount()
	})
	c.monitor.SetMutationSource(func() (int, int) {
		return len(c.engine.QueuedMutations()), c.engine.PendingCount()
	})
	c.monitor.SetCacheSource(c.store.Len)

	c.manager.OnStateChange(func(oldState, newState connection.State) {
		c.logger.Log(log.NewStateChange(c.manager.Epoch(), oldState.String(), newState.String(), ""))
		c.monitor.SetState(newState, c.manager.Epoch())
	})
	c.manager.OnResubscribe(func(epoch string) {
		c.registry.Resubscribe(c)
		// Events for listened types may have been missed while
		// disconnected; every dependent entry is forced stale and
		// refetched under the new epoch.
		for _, key := range c.store.InvalidateEntityTypes(c.registry.EntityTypes()...) {
			c.engine.ScheduleRefetch(key)
		}
		c.engine.SetSender(c)
		c.engine.ReplayQueue()
	})
	c.manager.OnDisconnected(func() {
		c.registry.Disconnected()
		c.engine.Disconnected()
		c.teardownStream()
	})
	c.manager.OnFatal(func(err error) {
		c.monitor.RecordError(err)
	})

	return c, nil
}

// Store exposes the underlying cache, for inspection and direct reads.
func (c *Client) Store() *cache.Store {
	return c.store
}

// Connect establishes the connection and starts automatic reconnection.
// A previously persisted offline mutation queue is restored first.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	var startErr error
	c.startOnce.Do(func() {
		if c.config.StatePath != "" {
			queued, err := persistence.Load(c.config.StatePath)
			if err != nil {
				startErr = fmt.Errorf("client: load state: %w", err)
				return
			}
			c.engine.RestoreQueue(queued)
		}
		c.manager.StartReconnectLoop()
	})
	if startErr != nil {
		return startErr
	}
	return c.manager.Connect(ctx)
}

// Close persists the offline mutation queue and tears the client down.
// Terminal.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var saveErr error
	if c.config.StatePath != "" {
		saveErr = persistence.Save(c.config.StatePath, c.engine.QueuedMutations())
	}

	c.manager.Close()
	c.engine.Close()
	c.teardownStream()
	return saveErr
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Health returns a snapshot of the client's operational state.
func (c *Client) Health() health.Snapshot {
	return c.monitor.Snapshot()
}

// Subscribe registers a change-event subscription.
func (c *Client) Subscribe(config subscription.Config) (*subscription.Handle, error) {
	return c.registry.Register(config)
}

// Query returns the cached result for a query key. A stale hit is
// returned immediately with a background refetch scheduled; a miss
// fetches synchronously through the fetcher.
func (c *Client) Query(ctx context.Context, queryKey string) (cache.Result, error) {
	if res, ok := c.store.ReadQueryResult(queryKey); ok {
		if res.Stale {
			c.engine.ScheduleRefetch(queryKey)
		}
		return res, nil
	}

	data, tags, err := c.fetcher.Fetch(ctx, queryKey)
	if err != nil {
		return cache.Result{}, err
	}
	c.store.UpsertQueryResult(queryKey, data, tags, c.config.ResultTTL.Std())
	res, _ := c.store.ReadQueryResult(queryKey)
	return res, nil
}

// Mutate issues an optimistic mutation. The outcome arrives via
// OnMutationResult.
func (c *Client) Mutate(entityType model.EntityType, entityID string, delta map[string]any) (*engine.Mutation, error) {
	return c.engine.Mutate(entityType, entityID, delta)
}

// OnMutationResult sets the mutation outcome callback.
func (c *Client) OnMutationResult(cb engine.MutationCallback) {
	c.engine.OnMutationResult(cb)
}

// connect is the manager's ConnectFunc: dial, then start the receive
// loop and heartbeat for the new stream.
func (c *Client) connect(ctx context.Context) error {
	stream, err := c.dialer.Dial(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			return connection.Fatal(err)
		}
		return err
	}

	recvCtx, cancel := context.WithCancel(context.Background())

	hb := transport.NewHeartbeat(transport.HeartbeatConfig{
		Interval: c.config.HeartbeatInterval.Std(),
	}, c.sendPing, func() {
		c.manager.NotifyConnectionLost()
	})
	hb.SetDegradedCallback(func(missed int) {
		c.monitor.RecordMissed(missed)
		c.manager.MarkDegraded()
	}, c.manager.MarkRecovered)
	hb.SetLatencyCallback(c.monitor.RecordLatency)

	c.mu.Lock()
	c.stream = stream
	c.heartbeat = hb
	c.recvCancel = cancel
	c.mu.Unlock()

	go c.receiveLoop(recvCtx, stream)
	hb.Start(recvCtx)
	return nil
}

// teardownStream stops the heartbeat and receive loop and closes the
// stream. Idempotent.
func (c *Client) teardownStream() {
	c.mu.Lock()
	stream := c.stream
	hb := c.heartbeat
	cancel := c.recvCancel
	c.stream = nil
	c.heartbeat = nil
	c.recvCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if hb != nil {
		hb.Stop()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

// receiveLoop is the dispatch loop: the single goroutine that reads and
// handles frames for one connection.
func (c *Client) receiveLoop(ctx context.Context, stream transport.Stream) {
	for {
		data, err := stream.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.monitor.RecordError(err)
			c.logger.Log(log.NewError(c.manager.Epoch(), log.LayerTransport, err, "receive"))
			c.manager.NotifyConnectionLost()
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		c.monitor.RecordError(err)
		c.logger.Log(log.NewError(c.manager.Epoch(), log.LayerTransport, err, "decode frame"))
		return
	}
	c.logFrame(log.DirectionIn, frame.Type, len(data))

	switch frame.Type {
	case wire.MsgEvent:
		wev, err := frame.DecodeEvent()
		if err != nil {
			c.frameError(err, "decode event")
			return
		}
		ev, err := wev.ToModel()
		if err != nil {
			c.frameError(err, "validate event")
			return
		}
		// Cache before callbacks: a subscriber always observes a cache
		// at least as new as the event it is told about.
		if c.engine.HandleEvent(ev) {
			c.registry.Dispatch(ev)
		}

	case wire.MsgListenAck:
		ack, err := frame.DecodeListenAck()
		if err != nil {
			c.frameError(err, "decode listen ack")
			return
		}
		if ack.IsSuccess() {
			c.registry.Ack(ack.SubscriptionID, nil)
		} else {
			c.registry.Ack(ack.SubscriptionID, &subscription.RejectedError{
				SubscriptionID: ack.SubscriptionID,
				Reason:         ackReason(ack.Status, ack.Detail),
			})
		}

	case wire.MsgMutateAck:
		ack, err := frame.DecodeMutateAck()
		if err != nil {
			c.frameError(err, "decode mutate ack")
			return
		}
		if ack.Status.IsSuccess() {
			c.engine.HandleMutateAck(ack.MutationID, nil)
		} else {
			c.engine.HandleMutateAck(ack.MutationID,
				fmt.Errorf("%w: %s", ErrMutationRejected, ackReason(ack.Status, ack.Detail)))
		}

	case wire.MsgPong:
		pong, err := frame.DecodePong()
		if err != nil {
			c.frameError(err, "decode pong")
			return
		}
		c.mu.Lock()
		hb := c.heartbeat
		c.mu.Unlock()
		if hb != nil {
			hb.Pong(pong.Seq)
		}

	case wire.MsgPing:
		// Server-initiated liveness probe.
		ping, err := frame.DecodePing()
		if err != nil {
			c.frameError(err, "decode ping")
			return
		}
		_ = c.send(wire.MsgPong, &wire.Pong{Seq: ping.Seq})

	default:
		c.frameError(fmt.Errorf("unexpected message type %s", frame.Type), "handle frame")
	}
}

func ackReason(status wire.Status, detail string) string {
	if detail == "" {
		return status.String()
	}
	return status.String() + ": " + detail
}

func (c *Client) frameError(err error, context string) {
	c.monitor.RecordError(err)
	c.logger.Log(log.NewError(c.manager.Epoch(), log.LayerDispatch, err, context))
}

// SendListen implements subscription.Sender.
func (c *Client) SendListen(subscriptionID string, entityType model.EntityType, filter string) error {
	return c.send(wire.MsgListen, &wire.Listen{
		SubscriptionID: subscriptionID,
		EntityType:     string(entityType),
		Filter:         filter,
	})
}

// SendUnlisten implements subscription.Sender.
func (c *Client) SendUnlisten(subscriptionID string) error {
	return c.send(wire.MsgUnlisten, &wire.Unlisten{SubscriptionID: subscriptionID})
}

// SendMutate implements engine.MutationSender.
func (c *Client) SendMutate(m *engine.Mutation) error {
	return c.send(wire.MsgMutate, &wire.Mutate{
		MutationID: m.ID,
		EntityType: string(m.EntityType),
		ID:         m.EntityID,
		Delta:      m.Delta,
		IssuedAt:   m.IssuedAt,
	})
}

func (c *Client) sendPing(seq uint32) error {
	return c.send(wire.MsgPing, &wire.Ping{Seq: seq})
}

func (c *Client) send(msgType wire.MsgType, body any) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return connection.ErrNotConnected
	}

	data, err := wire.EncodeFrame(msgType, body)
	if err != nil {
		return err
	}
	if err := stream.Send(data); err != nil {
		return err
	}
	c.logFrame(log.DirectionOut, msgType, len(data))
	return nil
}

func (c *Client) logFrame(dir log.Direction, msgType wire.MsgType, size int) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		Epoch:     c.manager.Epoch(),
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:    size,
			MsgType: msgType.String(),
		},
	})
}
