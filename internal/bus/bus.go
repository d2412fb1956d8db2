package bus

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"catalogpipe/internal/logging"
	"catalogpipe/internal/metrics"
)

// ErrEmpty is returned by Receive when a topic's queue has no messages.
var ErrEmpty = errors.New("bus: queue empty")

// ErrMaxAttempts signals that a message was dead-lettered instead of requeued.
var ErrMaxAttempts = errors.New("bus: attempt budget exhausted, dead-lettered")

// Policy controls retry/backoff behavior per topic
// (messageQueue.{stage}.maxAttempts / .backoff in configuration).
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy is the baseline applied when a topic has no override: 3 attempts,
// exponential backoff from 1s to 60s.
var DefaultPolicy = Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 60 * time.Second}

// Bus is a durable, bbolt-backed per-topic queue with a paired DLQ.
type Bus struct {
	db       *bbolt.DB
	policies map[string]Policy
}

func queueBucket(topic string) []byte   { return []byte("q:" + topic) }
func inflightBucket(topic string) []byte { return []byte("inflight:" + topic) }
func dlqBucket(topic string) []byte     { return []byte("dlq:" + topic) }
func readyAtBucket(topic string) []byte { return []byte("ready:" + topic) }

// Open opens (creating if absent) the bbolt file at path and pre-creates the
// queue/inflight/dlq/ready-at buckets for every known topic.
func Open(path string) (*Bus, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	b := &Bus{db: db, policies: make(map[string]Policy)}
	for _, t := range Topics {
		b.policies[t] = DefaultPolicy
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, t := range Topics {
			for _, name := range [][]byte{queueBucket(t), inflightBucket(t), dlqBucket(t), readyAtBucket(t)} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// Close closes the underlying database.
func (b *Bus) Close() error { return b.db.Close() }

// SetPolicy overrides the retry policy for a topic.
func (b *Bus) SetPolicy(topic string, p Policy) { b.policies[topic] = p }

// Publish appends msg to topic's primary queue, assigning MessageID/CreatedAt
// if unset.
func (b *Bus) Publish(topic string, msg Message) error {
	if msg.MessageID == "" {
		msg.MessageID = fmt.Sprintf("%s-%d", topic, time.Now().UnixNano())
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(queueBucket(topic))
		if bkt == nil {
			return fmt.Errorf("bus: unknown topic %q", topic)
		}
		seq, _ := bkt.NextSequence()
		return bkt.Put(seqKey(seq), data)
	})
	if err != nil {
		return err
	}
	metrics.BusPublishedTotal.WithLabelValues(topic).Inc()
	b.refreshDepthGauges(topic)
	return nil
}

// Receive pulls the oldest ready message off topic's queue and moves it to
// the in-flight bucket, returning a Delivery the caller must Ack or Nack.
// Messages whose readyAt (backoff delay) has not elapsed are skipped.
func (b *Bus) Receive(topic string) (Delivery, error) {
	var d Delivery
	found := false
	now := time.Now().UTC()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		q := tx.Bucket(queueBucket(topic))
		ra := tx.Bucket(readyAtBucket(topic))
		inflight := tx.Bucket(inflightBucket(topic))
		if q == nil || inflight == nil {
			return fmt.Errorf("bus: unknown topic %q", topic)
		}
		c := q.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if readyAt := ra.Get(k); readyAt != nil {
				t, err := time.Parse(time.RFC3339Nano, string(readyAt))
				if err == nil && now.Before(t) {
					continue
				}
			}
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			if err := inflight.Put(k, v); err != nil {
				return err
			}
			if err := q.Delete(k); err != nil {
				return err
			}
			_ = ra.Delete(k)
			d = Delivery{Message: msg, topic: topic, seq: binary.BigEndian.Uint64(k)}
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	if !found {
		return Delivery{}, ErrEmpty
	}
	b.refreshDepthGauges(topic)
	return d, nil
}

// Ack permanently removes a delivered message from the in-flight bucket.
func (b *Bus) Ack(d Delivery) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		inflight := tx.Bucket(inflightBucket(d.topic))
		if inflight == nil {
			return fmt.Errorf("bus: unknown topic %q", d.topic)
		}
		return inflight.Delete(seqKey(d.seq))
	})
	if err != nil {
		return err
	}
	metrics.BusConsumedTotal.WithLabelValues(d.topic, "acked").Inc()
	return nil
}

// Nack returns a delivered message to its topic's queue with attempt
// incremented and a backoff delay applied, or dead-letters it once the
// topic's MaxAttempts is exhausted.
func (b *Bus) Nack(d Delivery) error {
	policy := b.policies[d.topic]
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy
	}
	msg := d.Message
	msg.Attempt++

	deadLetter := msg.Attempt >= policy.MaxAttempts

	err := b.db.Update(func(tx *bbolt.Tx) error {
		inflight := tx.Bucket(inflightBucket(d.topic))
		if inflight == nil {
			return fmt.Errorf("bus: unknown topic %q", d.topic)
		}
		if err := inflight.Delete(seqKey(d.seq)); err != nil {
			return err
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if deadLetter {
			dlq := tx.Bucket(dlqBucket(d.topic))
			return dlq.Put(seqKey(d.seq), data)
		}
		q := tx.Bucket(queueBucket(d.topic))
		ra := tx.Bucket(readyAtBucket(d.topic))
		seq, _ := q.NextSequence()
		key := seqKey(seq)
		if err := q.Put(key, data); err != nil {
			return err
		}
		delay := backoffDelay(policy, msg.Attempt)
		return ra.Put(key, []byte(time.Now().UTC().Add(delay).Format(time.RFC3339Nano)))
	})
	if err != nil {
		return err
	}
	if deadLetter {
		metrics.BusConsumedTotal.WithLabelValues(d.topic, "dead_lettered").Inc()
		logging.Warn("bus: message %s on topic %s dead-lettered after %d attempts", msg.MessageID, d.topic, msg.Attempt)
	} else {
		metrics.BusConsumedTotal.WithLabelValues(d.topic, "retried").Inc()
	}
	b.refreshDepthGauges(d.topic)
	if deadLetter {
		return ErrMaxAttempts
	}
	return nil
}

// DLQDepth returns the number of dead-lettered messages for topic.
func (b *Bus) DLQDepth(topic string) (int, error) {
	n := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(dlqBucket(topic))
		if bkt == nil {
			return fmt.Errorf("bus: unknown topic %q", topic)
		}
		n = bkt.Stats().KeyN
		return nil
	})
	return n, err
}

// QueueDepth returns the number of undelivered messages for topic.
func (b *Bus) QueueDepth(topic string) (int, error) {
	n := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(queueBucket(topic))
		if bkt == nil {
			return fmt.Errorf("bus: unknown topic %q", topic)
		}
		n = bkt.Stats().KeyN
		return nil
	})
	return n, err
}

// RedriveDeadLetter moves one dead-lettered message for topic back onto the
// primary queue with attempt reset to 0, for operator-triggered recovery.
func (b *Bus) RedriveDeadLetter(topic string, messageID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		dlq := tx.Bucket(dlqBucket(topic))
		q := tx.Bucket(queueBucket(topic))
		if dlq == nil || q == nil {
			return fmt.Errorf("bus: unknown topic %q", topic)
		}
		c := dlq.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			if msg.MessageID != messageID {
				continue
			}
			msg.Attempt = 0
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			seq, _ := q.NextSequence()
			if err := q.Put(seqKey(seq), data); err != nil {
				return err
			}
			return dlq.Delete(k)
		}
		return fmt.Errorf("bus: message %q not found in dead-letter queue for %q", messageID, topic)
	})
}

func (b *Bus) refreshDepthGauges(topic string) {
	if n, err := b.QueueDepth(topic); err == nil {
		metrics.BusQueueDepth.WithLabelValues(topic).Set(float64(n))
	}
	if n, err := b.DLQDepth(topic); err == nil {
		metrics.BusDLQDepth.WithLabelValues(topic).Set(float64(n))
	}
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func backoffDelay(p Policy, attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
