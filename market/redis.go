package market

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisOptions configures the redis quote mirror.
type RedisOptions struct {
	Address       string
	Password      string
	DB            int
	BatchSize     int
	Buffer        int
	FlushInterval time.Duration
}

// MirrorStats is a snapshot of the mirror's counters.
type MirrorStats struct {
	Written  int64
	Dropped  int64
	Failures int64
}

// RedisMirror copies the latest quotes into redis hashes keyed
// quote:<SYMBOL>:<exchange>. Offer never blocks; a full buffer drops.
type RedisMirror struct {
	client        *redis.Client
	log           *logrus.Entry
	buf           chan Quote
	batchSize     int
	flushInterval time.Duration

	written  atomic.Int64
	dropped  atomic.Int64
	failures atomic.Int64
}

func NewRedisMirror(opts RedisOptions, log *logrus.Entry) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisMirror(client, opts, log)
}

func newRedisMirror(client *redis.Client, opts RedisOptions, log *logrus.Entry) *RedisMirror {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 300
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 4096
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 100 * time.Millisecond
	}
	log.WithField("addr", client.Options().Addr).Info("redis mirror initialized")
	return &RedisMirror{
		client:        client,
		log:           log,
		buf:           make(chan Quote, opts.Buffer),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
	}
}

// QuoteKey is the redis hash key for q.
func QuoteKey(q Quote) string {
	return fmt.Sprintf("quote:%s:%s", q.Symbol, q.Exchange)
}

// Offer queues q for the next flush. It reports false when the quote was dropped.
func (m *RedisMirror) Offer(q Quote) bool {
	select {
	case m.buf <- q:
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

// Run batches queued quotes into pipelined HSETs until ctx is done, then
// flushes what is still buffered.
func (m *RedisMirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	batch := make(map[string]Quote, m.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := m.write(ctx, batch); err != nil {
			m.failures.Add(1)
			m.log.WithError(err).Debug("redis pipeline exec failed")
		} else {
			m.written.Add(int64(len(batch)))
		}
		for k := range batch {
			delete(batch, k)
		}
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case q := <-m.buf:
					batch[QuoteKey(q)] = q
				default:
					break drain
				}
			}
			final, cancel := context.WithTimeout(context.Background(), time.Second)
			flush(final)
			cancel()
			return nil
		case q := <-m.buf:
			batch[QuoteKey(q)] = q
			if len(batch) >= m.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (m *RedisMirror) write(ctx context.Context, batch map[string]Quote) error {
	pipe := m.client.Pipeline()
	for key, q := range batch {
		pipe.HSet(ctx, key,
			"exchange", string(q.Exchange),
			"symbol", string(q.Symbol),
			"bid", q.BestBid.String(),
			"ask", q.BestAsk.String(),
			"ts", q.Timestamp.UnixMilli(),
			"source", string(q.Source),
		)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	m.log.Info("closing redis mirror")
	return m.client.Close()
}

func (m *RedisMirror) Stats() MirrorStats {
	return MirrorStats{
		Written:  m.written.Load(),
		Dropped:  m.dropped.Load(),
		Failures: m.failures.Load(),
	}
}
