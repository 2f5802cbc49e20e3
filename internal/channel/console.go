package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ConsoleChannel chats with a buddy over a line-oriented reader and writer,
// normally stdin and stdout. It reads its input once: after the reader is
// exhausted or Stop is called, it cannot be started again.
type ConsoleChannel struct {
	in        io.Reader
	out       io.Writer
	buddyName string

	handler atomic.Pointer[func(InboundMessage)]

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

func NewConsoleChannel(in io.Reader, out io.Writer, buddyName string) *ConsoleChannel {
	return &ConsoleChannel{
		in:        in,
		out:       out,
		buddyName: buddyName,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run(ctx)
	})
	return nil
}

func (c *ConsoleChannel) Stop(_ context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *ConsoleChannel) Send(_ context.Context, msg OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "\n[%s]: %s\n\n> ", c.buddyName, msg.Text)
	return err
}

func (c *ConsoleChannel) OnMessage(handler func(InboundMessage)) {
	c.handler.Store(&handler)
}

func (c *ConsoleChannel) IsRunning() bool {
	if !c.started.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed when the input is exhausted or the channel is stopped.
func (c *ConsoleChannel) Done() <-chan struct{} { return c.done }

// run feeds each non-blank input line to the handler. Lines are handled
// one at a time, so replies print in input order.
func (c *ConsoleChannel) run(ctx context.Context) {
	defer close(c.done)

	fmt.Fprint(c.out, "> ")
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		line := strings.TrimSpace(sc.Text())
		if line == "" {
			fmt.Fprint(c.out, "> ")
			continue
		}
		h := c.handler.Load()
		if h == nil {
			continue
		}
		(*h)(InboundMessage{
			ChannelName: c.Name(),
			SenderID:    "local",
			SenderName:  "You",
			ChatID:      "console",
			Text:        line,
			Timestamp:   time.Now(),
		})
	}
	if err := sc.Err(); err != nil {
		log.Printf("[console] read input: %v", err)
	}
}
