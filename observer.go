package sox

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
)

// RegisterObserver appends obs to the client's observer list. Observers are
// notified in registration order. Registering an observer that is already
// present logs a warning and leaves the list unchanged.
func (c *Client) RegisterObserver(obs Observer) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	for _, cur := range c.observers {
		if cur == obs {
			c.logger.Warn("observer already registered", slog.String("observer", fmt.Sprintf("%T", obs)))
			return
		}
	}
	c.observers = append(c.observers, obs)
	c.logger.Info("registered observer", slog.String("observer", fmt.Sprintf("%T", obs)))
}

// UnregisterObserver removes obs from the client's observer list. Removing
// an observer that was never registered logs a warning and is a no-op.
func (c *Client) UnregisterObserver(obs Observer) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	for i, cur := range c.observers {
		if cur == obs {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			c.logger.Info("unregistered observer", slog.String("observer", fmt.Sprintf("%T", obs)))
			return
		}
	}
	c.logger.Warn("observer was not registered", slog.String("observer", fmt.Sprintf("%T", obs)))
}

// Observers returns a copy of the current observer list, in registration
// order.
func (c *Client) Observers() []Observer {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	obs := make([]Observer, len(c.observers))
	copy(obs, c.observers)
	return obs
}

// notifyObservers invokes every observer synchronously on the calling
// (receive loop) goroutine. The list is snapshotted first so the lock is
// not held across observer invocations.
func (c *Client) notifyObservers(msg string) {
	for _, obs := range c.Observers() {
		obs.Notify(c, msg)
	}
}

// WriterObserver writes every inbound message to Out, one line per message,
// optionally through a color. It is the observer behind the interactive
// chat example.
type WriterObserver struct {
	Out io.Writer

	// Color, when non-nil, renders each line with the given attributes.
	Color *color.Color
}

// Notify implements the Observer interface.
func (o *WriterObserver) Notify(_ *Client, msg string) {
	if o.Color != nil {
		o.Color.Fprintln(o.Out, msg)
		return
	}
	fmt.Fprintln(o.Out, msg)
}

// LogObserver republishes every inbound message to a slog logger at a fixed
// level.
type LogObserver struct {
	Logger *slog.Logger
	Level  slog.Level
}

// Notify implements the Observer interface.
func (o *LogObserver) Notify(_ *Client, msg string) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), o.Level, "observer message", slog.String("msg", msg))
}
