package authcore

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
	revocationRecordVersionV1 = 1

	revocationTokenSegment = ":t:"
	revocationUserSegment  = ":u:"
)

var errRevocationRedisUnavailable = errors.New("revocation redis unavailable")

// blacklistRecord is the value stored under a per-token key. Its TTL equals
// the token's remaining validity, so the entry evaporates exactly when the
// token would have expired anyway.
type blacklistRecord struct {
	BlacklistedAt int64
	ExpiresAt     int64
	UserID        string
}

// invalidationRecord is the per-user marker: tokens issued before
// InvalidatedAt are rejected without being individually blacklisted.
type invalidationRecord struct {
	InvalidatedAt int64
}

type revocationStore struct {
	redis  *redis.Client
	prefix string
}

func newRevocationStore(redisClient *redis.Client, prefix string) *revocationStore {
	return &revocationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *revocationStore) tokenKey(tokenID string) string {
	return s.prefix + revocationTokenSegment + tokenID
}

func (s *revocationStore) userKey(userID string) string {
	return s.prefix + revocationUserSegment + userID
}

// SaveEntry writes a blacklist record with the given TTL.
func (s *revocationStore) SaveEntry(ctx context.Context, tokenID string, record *blacklistRecord, ttl time.Duration) error {
	encoded, err := encodeBlacklistRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.tokenKey(tokenID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRevocationRedisUnavailable, err)
	}
	return nil
}

// HasEntry reports whether a blacklist record exists for the token ID.
func (s *revocationStore) HasEntry(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errRevocationRedisUnavailable, err)
	}
	return n > 0, nil
}

// SaveMarker overwrites the user's invalidation marker. Only the most
// recent boundary matters, so a plain SET is correct.
func (s *revocationStore) SaveMarker(ctx context.Context, userID string, record *invalidationRecord, ttl time.Duration) error {
	encoded := encodeInvalidationRecord(record)
	if err := s.redis.Set(ctx, s.userKey(userID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRevocationRedisUnavailable, err)
	}
	return nil
}

// Marker returns the user's invalidation boundary, or ok=false when none
// exists.
func (s *revocationStore) Marker(ctx context.Context, userID string) (time.Time, bool, error) {
	data, err := s.redis.Get(ctx, s.userKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", errRevocationRedisUnavailable, err)
	}

	record, err := decodeInvalidationRecord(data)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(record.InvalidatedAt, 0), true, nil
}

// DeleteMarker removes the user's invalidation marker. Deleting a missing
// marker is a no-op success.
func (s *revocationStore) DeleteMarker(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRevocationRedisUnavailable, err)
	}
	return nil
}

// Counts scans for token and marker keys. Operational statistics only; no
// correctness path may depend on KEYS.
func (s *revocationStore) Counts(ctx context.Context) (tokens int64, users int64, err error) {
	tokenKeys, err := s.redis.Keys(ctx, s.prefix+revocationTokenSegment+"*").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", errRevocationRedisUnavailable, err)
	}
	userKeys, err := s.redis.Keys(ctx, s.prefix+revocationUserSegment+"*").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", errRevocationRedisUnavailable, err)
	}
	return int64(len(tokenKeys)), int64(len(userKeys)), nil
}

func encodeBlacklistRecord(record *blacklistRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(revocationRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.BlacklistedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("blacklist record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	return buf.Bytes(), nil
}

func decodeBlacklistRecord(data []byte) (*blacklistRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != revocationRecordVersionV1 {
		return nil, errors.New("invalid blacklist record version")
	}

	record := &blacklistRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.BlacklistedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	return record, nil
}

func encodeInvalidationRecord(record *invalidationRecord) []byte {
	var buf [9]byte
	buf[0] = revocationRecordVersionV1
	binary.BigEndian.PutUint64(buf[1:], uint64(record.InvalidatedAt))
	return buf[:]
}

func decodeInvalidationRecord(data []byte) (*invalidationRecord, error) {
	if len(data) != 9 {
		return nil, errors.New("invalid invalidation record length")
	}
	if data[0] != revocationRecordVersionV1 {
		return nil, errors.New("invalid invalidation record version")
	}
	return &invalidationRecord{
		InvalidatedAt: int64(binary.BigEndian.Uint64(data[1:])),
	}, nil
}
