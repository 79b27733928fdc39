package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ticketRecordVersion1 = 1
	ticketFlagRemember   = 1 << 0

	// Redis keeps tickets a little past their logical expiry so that the
	// orchestrator's read-time check, not Redis, decides when a ticket dies.
	ticketGCGrace = time.Minute

	maxTicketRetries = 4
	maxTicketFactors = 16
)

// TicketRecord is the persisted shape of a flow ticket.
type TicketRecord struct {
	ID             string
	UserID         string
	Queue          []string
	Satisfied      []string
	IssuedAtMs     int64
	TTLMs          int64
	IP             string
	CorrelationID  string
	Action         string
	DeviceID       string
	RememberDevice bool
}

// TicketMutation receives the current record and returns the record to
// persist. A nil result deletes the ticket; an error aborts without writing.
type TicketMutation func(current TicketRecord) (*TicketRecord, error)

type TicketStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewTicketStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *TicketStore {
	if prefix == "" {
		prefix = "sft"
	}
	if now == nil {
		now = time.Now
	}
	return &TicketStore{redis: redisClient, prefix: prefix, now: now}
}

func (s *TicketStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *TicketStore) gcTTL(record *TicketRecord) time.Duration {
	expiresAt := time.UnixMilli(record.IssuedAtMs + record.TTLMs)
	ttl := expiresAt.Sub(s.now()) + ticketGCGrace
	if ttl < ticketGCGrace {
		ttl = ticketGCGrace
	}
	return ttl
}

func (s *TicketStore) Save(ctx context.Context, record *TicketRecord) error {
	encoded, err := encodeTicket(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(record.ID), encoded, s.gcTTL(record)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Get returns nil, nil when the ticket does not exist.
func (s *TicketStore) Get(ctx context.Context, id string) (*TicketRecord, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return decodeTicket(data)
}

func (s *TicketStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Update applies mutate atomically. It reports false when the ticket does not
// exist, in which case mutate is not called.
func (s *TicketStore) Update(ctx context.Context, id string, mutate TicketMutation) (bool, error) {
	key := s.key(id)

	for i := 0; i < maxTicketRetries; i++ {
		var (
			found  bool
			mutErr error
		)
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			found = true

			current, err := decodeTicket(data)
			if err != nil {
				return err
			}

			next, err := mutate(*current)
			if err != nil {
				mutErr = err
				return err
			}

			if next == nil {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			encoded, err := encodeTicket(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.gcTTL(next))
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return false, nil
		case mutErr != nil:
			return true, mutErr
		case errors.Is(err, ErrCorruptRecord):
			return true, err
		default:
			return found, fmt.Errorf("%w: %w", ErrBackend, err)
		}
	}

	return true, ErrContention
}

func encodeTicket(record *TicketRecord) ([]byte, error) {
	if len(record.Queue) > maxTicketFactors || len(record.Satisfied) > maxTicketFactors {
		return nil, fmt.Errorf("%w: too many factors", ErrCorruptRecord)
	}

	var buf bytes.Buffer
	buf.WriteByte(ticketRecordVersion1)

	var flags byte
	if record.RememberDevice {
		flags |= ticketFlagRemember
	}
	buf.WriteByte(flags)

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(record.IssuedAtMs))
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], uint64(record.TTLMs))
	buf.Write(scratch[:])

	for _, field := range []string{
		record.ID,
		record.UserID,
		record.IP,
		record.CorrelationID,
		record.Action,
		record.DeviceID,
	} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	for _, list := range [][]string{record.Queue, record.Satisfied} {
		buf.WriteByte(byte(len(list)))
		for _, factor := range list {
			if err := writeString(&buf, factor); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

func decodeTicket(data []byte) (*TicketRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if version != ticketRecordVersion1 {
		return nil, fmt.Errorf("%w: unknown ticket version %d", ErrCorruptRecord, version)
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}

	record := &TicketRecord{RememberDevice: flags&ticketFlagRemember != 0}
	var scratch [8]byte
	if _, err := io.ReadFull(reader, scratch[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	record.IssuedAtMs = int64(binary.BigEndian.Uint64(scratch[:]))
	if _, err := io.ReadFull(reader, scratch[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	record.TTLMs = int64(binary.BigEndian.Uint64(scratch[:]))

	for _, field := range []*string{
		&record.ID,
		&record.UserID,
		&record.IP,
		&record.CorrelationID,
		&record.Action,
		&record.DeviceID,
	} {
		if *field, err = readString(reader); err != nil {
			return nil, err
		}
	}

	for _, list := range []*[]string{&record.Queue, &record.Satisfied} {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
		if int(n) > maxTicketFactors {
			return nil, fmt.Errorf("%w: too many factors", ErrCorruptRecord)
		}
		out := make([]string, 0, n)
		for i := 0; i < int(n); i++ {
			factor, err := readString(reader)
			if err != nil {
				return nil, err
			}
			out = append(out, factor)
		}
		*list = out
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrCorruptRecord)
	}
	return record, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return fmt.Errorf("%w: field length exceeded", ErrCorruptRecord)
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n [2]byte
	if _, err := io.ReadFull(reader, n[:]); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	out := make([]byte, binary.BigEndian.Uint16(n[:]))
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return string(out), nil
}
