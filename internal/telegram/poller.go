package telegram

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultPollTimeout = 50 * time.Second
	pollRetryDelay     = 3 * time.Second
)

// Poller feeds long-polled updates into a Dispatcher. It is the alternative
// to the webhook receiver for deployments without a public URL.
type Poller struct {
	client     *Client
	dispatcher *Dispatcher
	log        *slog.Logger
	timeout    time.Duration
}

func NewPoller(client *Client, dispatcher *Dispatcher, logger *slog.Logger, timeout time.Duration) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout < 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{client: client, dispatcher: dispatcher, log: logger, timeout: timeout}
}

// Run polls until ctx ends, then waits for in-flight updates.
func (p *Poller) Run(ctx context.Context) error {
	defer p.dispatcher.Wait()

	if err := p.client.DeleteWebhook(ctx); err != nil {
		p.log.Warn("delete webhook before polling", "err", err)
	}

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("get updates", "err", err)
			if err := sleepWithContext(ctx, pollRetryDelay); err != nil {
				return nil
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if err := p.dispatcher.Dispatch(ctx, u); err != nil {
				return nil
			}
		}
	}
}
