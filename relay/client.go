package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 4
)

// eventSource runs one filter and returns every matching event.
type eventSource func(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)

// Client reads the social graph from a set of relays. Every query fans out
// to all relays; it fails only when no relay answers.
type Client struct {
	relays      []string
	timeout     time.Duration
	concurrency int
	log         *zap.Logger
	query       eventSource
	nip05       func(ctx context.Context, name string) (*nostr.ProfilePointer, error)
	now         func() time.Time
}

type Option func(*Client)

// WithTimeout bounds how long a single relay may take to reach EOSE.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.log = logger.Named("relay") }
}

func NewClient(relays []string, opts ...Option) *Client {
	c := &Client{
		relays:      relays,
		timeout:     defaultTimeout,
		concurrency: defaultConcurrency,
		log:         zap.NewNop(),
		nip05:       queryNIP05,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.query = c.queryRelays
	return c
}

func (c *Client) queryRelays(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(c.relays) == 0 {
		return nil, errors.New("no relays configured")
	}

	var (
		mu     sync.Mutex
		events = make(map[string]*nostr.Event)
		errs   []error
	)

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for _, url := range c.relays {
		g.Go(func() error {
			got, err := c.fetchFromRelay(ctx, url, filter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.Debug("relay query failed", zap.String("relay", url), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				return nil
			}
			for _, evt := range got {
				events[evt.ID] = evt
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == len(c.relays) {
		return nil, fmt.Errorf("all relays failed: %w", errors.Join(errs...))
	}

	out := make([]*nostr.Event, 0, len(events))
	for _, evt := range events {
		out = append(out, evt)
	}
	return out, nil
}

func (c *Client) fetchFromRelay(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	defer relay.Close()

	sub, err := relay.Subscribe(ctx, []nostr.Filter{filter})
	if err != nil {
		return nil, err
	}
	defer sub.Unsub()

	var events []*nostr.Event
	for {
		select {
		case <-ctx.Done():
			// a slow relay still contributes what it sent before the deadline
			if len(events) > 0 {
				return events, nil
			}
			return nil, ctx.Err()
		case evt := <-sub.Events:
			if evt == nil {
				continue
			}
			events = append(events, evt)
		case <-sub.EndOfStoredEvents:
			return events, nil
		}
	}
}
