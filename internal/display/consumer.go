package display

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Sink receives a copy of every message the consumer renders. Sinks run on
// the consumer goroutine and must not block for long; a slow sink stalls the
// producer through the channel's backpressure.
type Sink interface {
	Deliver(Message)
}

// Consumer owns the display side of the channel: it loops on Consume,
// renders each message to out, and fans copies out to the attached sinks.
// Run it on its own goroutine; it returns once the channel is closed.
type Consumer struct {
	ch       *Channel
	out      io.Writer
	logger   *logrus.Logger
	colorize bool
	sinks    []Sink

	readColor     *color.Color
	notifyColor   *color.Color
	indicateColor *color.Color
	infoColor     *color.Color
}

func NewConsumer(ch *Channel, out io.Writer, logger *logrus.Logger, colorize bool, sinks ...Sink) *Consumer {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Consumer{
		ch:            ch,
		out:           out,
		logger:        logger,
		colorize:      colorize,
		sinks:         sinks,
		readColor:     color.New(color.FgGreen),
		notifyColor:   color.New(color.FgCyan),
		indicateColor: color.New(color.FgMagenta),
		infoColor:     color.New(color.FgYellow),
	}
	if colorize {
		c.readColor.EnableColor()
		c.notifyColor.EnableColor()
		c.indicateColor.EnableColor()
		c.infoColor.EnableColor()
	}
	return c
}

// Run consumes until the channel closes. Each wakeup re-checks IsActive so a
// Close from the producer side terminates the loop instead of re-arming it.
func (c *Consumer) Run() {
	c.logger.Debug("Display consumer started")
	for {
		m, ok := c.ch.Consume()
		if !ok {
			if !c.ch.IsActive() {
				c.logger.Debug("Display consumer exiting")
				return
			}
			continue
		}
		c.render(m)
		for _, s := range c.sinks {
			s.Deliver(m)
		}
	}
}

func (c *Consumer) render(m Message) {
	line := c.line(m)
	if _, err := fmt.Fprintln(c.out, line); err != nil {
		c.logger.WithField("error", err).Warn("Failed to write display output")
	}
}

func (c *Consumer) line(m Message) string {
	tag, cl := c.styleFor(m.Mode)
	if c.colorize && cl != nil {
		return cl.Sprintf("%s %s", tag, m.Text)
	}
	return fmt.Sprintf("%s %s", tag, m.Text)
}

func (c *Consumer) styleFor(mode byte) (string, *color.Color) {
	switch mode {
	case ModeRead:
		return "READ", c.readColor
	case ModeNotify:
		return "NTFY", c.notifyColor
	case ModeIndicate:
		return "INDI", c.indicateColor
	case ModeInfo:
		return "INFO", c.infoColor
	}
	return string(mode), nil
}
