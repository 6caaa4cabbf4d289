package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idem:"

const settlePollInterval = 25 * time.Millisecond

const (
	statePending   = "pending"
	stateCommitted = "committed"
)

// Outcome is the result of a reservation attempt.
type Outcome int

const (
	// Accepted means the key was new and is now reserved by the caller.
	Accepted Outcome = iota
	// Duplicate means the key is reserved or committed by an earlier submission.
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "accepted"
}

// Reservation identifies a pending claim on one (client_id, event_id) key.
type Reservation struct {
	Outcome Outcome
	Key     string
	Token   string
}

// Record is the stored state of a key.
type Record struct {
	Committed bool
	FirstSeen time.Time
}

// ErrReservationLost is returned by Commit when the pending entry was replaced by another writer.
var ErrReservationLost = errors.New("idempotency reservation lost")

// reserveScript claims the key if it is free. Otherwise it reports whether the entry in the
// way is still pending (2) or committed (0).
var reserveScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	return 1
end

local current = redis.call('GET', KEYS[1])
if current and string.sub(current, 1, 8) == 'pending|' then
	return 2
end
return 0
`)

const (
	reserveDuplicate = 0
	reserveAccepted  = 1
	reservePending   = 2
)

// commitScript turns our own pending entry into a committed record. If the pending entry
// already expired the record is recreated, since the event did reach the queue.
var commitScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local firstSeen = ARGV[3]

if current then
	local state, token, ts = string.match(current, '^([^|]*)|([^|]*)|(.*)$')
	if state ~= 'pending' or token ~= ARGV[1] then
		return 0
	end
	firstSeen = ts
end

local value = 'committed|' .. ARGV[1] .. '|' .. firstSeen
local retention = tonumber(ARGV[2])
if retention > 0 then
	redis.call('SET', KEYS[1], value, 'PX', retention)
else
	redis.call('SET', KEYS[1], value)
end
return 1
`)

// releaseScript deletes the key only while it still holds our own pending entry.
var releaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and current == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Guard records accepted (client_id, event_id) pairs in Redis.
type Guard struct {
	client     redis.Cmdable
	pendingTTL time.Duration
	retention  time.Duration
	settleWait time.Duration
	now        func() time.Time
}

// NewGuard creates a guard. pendingTTL bounds how long an unconfirmed reservation blocks
// its key; retention is how long committed records live, zero meaning forever.
func NewGuard(client redis.Cmdable, pendingTTL, retention time.Duration) *Guard {
	return &Guard{
		client:     client,
		pendingTTL: pendingTTL,
		retention:  retention,
		now:        time.Now,
	}
}

// WithSettleWait makes Reserve wait up to d for a pending reservation held by another
// request to be committed or released before answering. Zero answers at once.
func (g *Guard) WithSettleWait(d time.Duration) *Guard {
	g.settleWait = d
	return g
}

// Key returns the Redis key of a (client_id, event_id) pair.
func Key(clientID, eventID string) string {
	return keyPrefix + clientID + ":" + eventID
}

// Reserve atomically claims the pair. A committed entry reports Duplicate without error.
// A pending entry held by another request is polled for up to the settle wait: a commit
// makes this submission a Duplicate, a release lets it claim the key. An entry still pending
// after the wait is reported as Duplicate, since its owner is still publishing.
func (g *Guard) Reserve(ctx context.Context, clientID, eventID string) (Reservation, error) {
	reservation := Reservation{
		Key:   Key(clientID, eventID),
		Token: uuid.NewString(),
	}

	deadline := time.Now().Add(g.settleWait)
	for {
		state, err := reserveScript.Run(ctx, g.client,
			[]string{reservation.Key},
			g.pendingValue(reservation.Token), g.pendingTTL.Milliseconds(),
		).Int()
		if err != nil {
			return Reservation{}, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}

		switch state {
		case reserveAccepted:
			reservation.Outcome = Accepted
			return reservation, nil
		case reservePending:
			if wait := time.Until(deadline); wait > 0 {
				if err := sleep(ctx, min(wait, settlePollInterval)); err != nil {
					return Reservation{}, fmt.Errorf("failed to reserve idempotency key: %w", err)
				}
				continue
			}
		}

		reservation.Outcome = Duplicate
		reservation.Token = ""
		return reservation, nil
	}
}

// Commit confirms an accepted reservation after its event was published.
func (g *Guard) Commit(ctx context.Context, reservation Reservation) error {
	if reservation.Outcome != Accepted {
		return nil
	}

	committed, err := commitScript.Run(ctx, g.client,
		[]string{reservation.Key},
		reservation.Token, g.retention.Milliseconds(), g.timestamp(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to commit idempotency key: %w", err)
	}
	if committed == 0 {
		return ErrReservationLost
	}
	return nil
}

// Release drops an accepted reservation whose event never reached the queue, so a retry
// is accepted. Entries owned by other writers are left untouched.
func (g *Guard) Release(ctx context.Context, reservation Reservation) error {
	if reservation.Outcome != Accepted {
		return nil
	}

	current, err := g.client.Get(ctx, reservation.Key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read idempotency key: %w", err)
	}

	if state, token, _ := parseValue(current); state != statePending || token != reservation.Token {
		return nil
	}

	if err := releaseScript.Run(ctx, g.client, []string{reservation.Key}, current).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Lookup returns the stored record of a pair, if any.
func (g *Guard) Lookup(ctx context.Context, clientID, eventID string) (Record, bool, error) {
	value, err := g.client.Get(ctx, Key(clientID, eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	state, _, ts := parseValue(value)
	record := Record{Committed: state == stateCommitted}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		record.FirstSeen = time.UnixMilli(ms).UTC()
	}
	return record, true, nil
}

// Seen reports whether the pair is reserved or committed.
func (g *Guard) Seen(ctx context.Context, clientID, eventID string) (bool, error) {
	_, ok, err := g.Lookup(ctx, clientID, eventID)
	return ok, err
}

func (g *Guard) pendingValue(token string) string {
	return statePending + "|" + token + "|" + g.timestamp()
}

func (g *Guard) timestamp() string {
	return strconv.FormatInt(g.now().UnixMilli(), 10)
}

func parseValue(value string) (state, token, ts string) {
	parts := strings.SplitN(value, "|", 3)
	if len(parts) != 3 {
		return "", "", ""
	}
	return parts[0], parts[1], parts[2]
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
