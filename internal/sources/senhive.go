package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
)

// The Senhive system publishes on three topics. Messages not ACKed
// within the broker's 5 s window move to the dead-letter companion
// queues, which is why every run drains those first: nothing is lost
// across restarts.
var senhiveTopics = []string{"fused_data", "system_alert", "system_state"}

const dlPrefix = "dl_"

// amqpChannel is the slice of *amqp.Channel the adapter uses,
// extracted so tests can script deliveries.
type amqpChannel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// dialFn opens a channel on the broker; the closer tears the
// connection down.
type dialFn func(ctx context.Context, url string) (amqpChannel, io.Closer, error)

func amqpDial(ctx context.Context, url string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	return ch, conn, nil
}

// Senhive streams fused drone data over AMQP. Auth profile is Vhost:
// the credentials are formatted into the broker URI, there is no
// separate authentication step.
type Senhive struct {
	site   *models.Site
	logger arbor.ILogger
	dial   dialFn
}

func NewSenhive(site *models.Site, logger arbor.ILogger) *Senhive {
	return &Senhive{site: site, logger: logger, dial: amqpDial}
}

func (s *Senhive) Name() string           { return s.site.Name }
func (s *Senhive) Site() *models.Site     { return s.site }
func (s *Senhive) Format() formats.Format { return formats.Format(s.site.Format) }

// Authenticate is trivial, the URI carries the credentials.
func (s *Senhive) Authenticate(ctx context.Context) (string, error) {
	return "", nil
}

// brokerURL formats the Vhost profile into an AMQP URI.
func (s *Senhive) brokerURL() string {
	a := s.site.Auth
	return fmt.Sprintf("amqp://%s:%s@%s/%s", a.Username, a.Password, s.site.BaseURL, a.Vhost)
}

// Stream connects, drains every dead-letter companion queue, then
// consumes the live topics until the window closes. Every delivery is
// ACKed; a dropped connection re-dials with back-off and starts over
// from the dead-letter drain so redelivered messages are recovered.
func (s *Senhive) Stream(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error {
	duration := 0
	switch f.Kind {
	case models.FilterStream:
		duration = f.StreamDuration
	case models.FilterDuration:
		duration = f.Duration
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(duration)*time.Second)
		defer cancel()
	}

	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = 10 * time.Second

	first := true
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !first {
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("senhive reconnect: giving up")
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
		}
		first = false

		err := s.consumeOnce(ctx, out, st, func() { retry.Reset() })
		switch {
		case err == nil || ctx.Err() != nil:
			return nil
		default:
			s.logger.Warn().Err(err).Str("source", s.Name()).Msg("Stream dropped, reconnecting")
			st(models.Stats{Err: 1, Reconnect: 1})
		}
	}
}

// consumeOnce runs one connection's worth of streaming: dead-letter
// drain, then live consumption. Returns nil only on a clean window
// close.
func (s *Senhive) consumeOnce(ctx context.Context, out chan<- string, st models.StatFn, connected func()) error {
	ch, closer, err := s.dial(ctx, s.brokerURL())
	if err != nil {
		return err
	}
	defer closer.Close()
	connected()

	for _, topic := range senhiveTopics {
		if err := s.drain(ctx, ch, dlPrefix+topic, topic == senhiveTopics[0], out, st); err != nil {
			return err
		}
	}

	return s.live(ctx, ch, out, st)
}

// drain empties one dead-letter queue, acknowledging everything.
// Only the data topic's recovered messages are forwarded downstream;
// alert and state messages serve as a watchdog.
func (s *Senhive) drain(ctx context.Context, ch amqpChannel, queue string, forward bool, out chan<- string, st models.StatFn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		d, ok, err := ch.Get(queue, false)
		if err != nil {
			return fmt.Errorf("drain %s: %w", queue, err)
		}
		if !ok {
			return nil
		}
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("ack %s: %w", queue, err)
		}
		if !forward {
			continue
		}
		st(models.Stats{Pkts: 1, Bytes: uint64(len(d.Body))})
		select {
		case out <- string(d.Body):
		case <-ctx.Done():
			return nil
		}
	}
}

// live consumes the three topics until the context closes or the
// broker drops the channel.
func (s *Senhive) live(ctx context.Context, ch amqpChannel, out chan<- string, st models.StatFn) error {
	type tagged struct {
		topic string
		d     amqp.Delivery
	}

	merged := make(chan tagged)
	done := make(chan struct{})
	defer close(done)

	// fan the per-topic channels into one; a closed channel means the
	// broker dropped us
	closed := make(chan struct{}, len(senhiveTopics))
	for _, topic := range senhiveTopics {
		dc, err := ch.Consume(topic, "fetiche", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", topic, err)
		}
		go func(topic string, dc <-chan amqp.Delivery) {
			for d := range dc {
				select {
				case merged <- tagged{topic, d}:
				case <-done:
					return
				}
			}
			closed <- struct{}{}
		}(topic, dc)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return errors.New("delivery channel closed")
		case td := <-merged:
			if err := td.d.Ack(false); err != nil {
				return fmt.Errorf("ack live: %w", err)
			}
			if td.topic != senhiveTopics[0] {
				// watchdog traffic, not data
				continue
			}
			st(models.Stats{Pkts: 1, Bytes: uint64(len(td.d.Body))})
			select {
			case out <- string(td.d.Body):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
