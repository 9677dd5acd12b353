// Package redis is the distributed consent substrate. Current pointers are
// JSON values swapped with a Lua compare-and-swap; every installed version
// is also pushed to a history list that is never trimmed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GrupoUS/neonpro-sub006/internal/consent"
	"github.com/GrupoUS/neonpro-sub006/pkg/domain"
	"github.com/GrupoUS/neonpro-sub006/pkg/platform/sentinel"
)

const (
	currentKeyPrefix = "neonpro:consent:current:"
	historyKeyPrefix = "neonpro:consent:history:"
	indexKey         = "neonpro:consent:index"
)

// casScript performs the compare-and-swap atomically server-side.
// KEYS[1] current, KEYS[2] history, KEYS[3] index
// ARGV[1] expected version (0 = must be absent)
// ARGV[2] expected status ("" when absent)
// ARGV[3] next record JSON
// ARGV[4] index member
// Returns 1 on success, 0 on precondition failure.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local expectVersion = tonumber(ARGV[1])
local expectStatus = ARGV[2]
if not cur then
  if expectVersion ~= 0 then return 0 end
else
  local decoded = cjson.decode(cur)
  if tonumber(decoded['version']) ~= expectVersion then return 0 end
  if decoded['status'] ~= expectStatus then return 0 end
end
redis.call('SET', KEYS[1], ARGV[3])
redis.call('RPUSH', KEYS[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

// Store implements consent.Store on go-redis.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// storedRecord is the JSON shape kept in Redis. Field names are part of
// the CAS script contract (version, status).
type storedRecord struct {
	SubjectID   string     `json:"subject_id"`
	Purpose     string     `json:"purpose"`
	Status      string     `json:"status"`
	LegalBasis  string     `json:"legal_basis"`
	GrantedAt   time.Time  `json:"granted_at"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Version     int64      `json:"version"`
}

func toStored(rec consent.Record) storedRecord {
	return storedRecord{
		SubjectID:   rec.SubjectID.String(),
		Purpose:     rec.Purpose.String(),
		Status:      string(rec.Status),
		LegalBasis:  string(rec.LegalBasis),
		GrantedAt:   rec.GrantedAt,
		WithdrawnAt: rec.WithdrawnAt,
		ExpiresAt:   rec.ExpiresAt,
		Version:     rec.Version,
	}
}

func fromStored(sr storedRecord) consent.Record {
	return consent.Record{
		SubjectID:   domain.SubjectID(sr.SubjectID),
		Purpose:     domain.ConsentPurpose(sr.Purpose),
		Status:      consent.Status(sr.Status),
		LegalBasis:  domain.LegalBasis(sr.LegalBasis),
		GrantedAt:   sr.GrantedAt,
		WithdrawnAt: sr.WithdrawnAt,
		ExpiresAt:   sr.ExpiresAt,
		Version:     sr.Version,
	}
}

func currentKey(subject domain.SubjectID, purpose domain.ConsentPurpose) string {
	return currentKeyPrefix + subject.String() + ":" + purpose.String()
}

func historyKey(subject domain.SubjectID, purpose domain.ConsentPurpose) string {
	return historyKeyPrefix + subject.String() + ":" + purpose.String()
}

func (s *Store) Current(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) (consent.Record, bool, error) {
	raw, err := s.client.Get(ctx, currentKey(subject, purpose)).Bytes()
	if errors.Is(err, redis.Nil) {
		return consent.Record{}, false, nil
	}
	if err != nil {
		return consent.Record{}, false, classify(err, "get current")
	}
	var sr storedRecord
	if err := json.Unmarshal(raw, &sr); err != nil {
		return consent.Record{}, false, fmt.Errorf("decode current consent: %w", err)
	}
	return fromStored(sr), true, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose, expect consent.Expected, next consent.Record) error {
	value, err := json.Marshal(toStored(next))
	if err != nil {
		return fmt.Errorf("encode consent record: %w", err)
	}
	member := subject.String() + ":" + purpose.String()
	res, err := casScript.Run(ctx, s.client,
		[]string{currentKey(subject, purpose), historyKey(subject, purpose), indexKey},
		expect.Version, string(expect.Status), value, member,
	).Int()
	if err != nil {
		return classify(err, "compare and swap")
	}
	if res != 1 {
		return fmt.Errorf("consent version moved under us: %w", sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) History(ctx context.Context, subject domain.SubjectID, purpose domain.ConsentPurpose) ([]consent.Record, error) {
	raws, err := s.client.LRange(ctx, historyKey(subject, purpose), 0, -1).Result()
	if err != nil {
		return nil, classify(err, "read history")
	}
	out := make([]consent.Record, 0, len(raws))
	for _, raw := range raws {
		var sr storedRecord
		if err := json.Unmarshal([]byte(raw), &sr); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, fromStored(sr))
	}
	return out, nil
}

func (s *Store) ListCurrent(ctx context.Context) ([]consent.Record, error) {
	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, classify(err, "read index")
	}
	out := make([]consent.Record, 0, len(members))
	for _, member := range members {
		raw, err := s.client.Get(ctx, currentKeyPrefix+member).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, classify(err, "read current by index")
		}
		var sr storedRecord
		if err := json.Unmarshal(raw, &sr); err != nil {
			return nil, fmt.Errorf("decode current consent: %w", err)
		}
		out = append(out, fromStored(sr))
	}
	return out, nil
}

// classify maps client failures onto the substrate sentinels.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || isNetworkErr(err) {
		return fmt.Errorf("%s: %v: %w", op, err, sentinel.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNetworkErr(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}
