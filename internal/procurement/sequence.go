package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acceptSeq stores seq unless a newer one already completed for the key.
var acceptSeq = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq < cur then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// SequenceGate orders completed autofill responses per session and field by
// request sequence number rather than by completion time.
type SequenceGate struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSequenceGate builds a gate. A nil client accepts every response.
func NewSequenceGate(client *redis.Client, ttl time.Duration) *SequenceGate {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SequenceGate{client: client, ttl: ttl}
}

// Accept reports whether the response for seq is still the newest completed
// one for scope and field, recording it when it is.
func (g *SequenceGate) Accept(ctx context.Context, scope, field string, seq uint64) (bool, error) {
	if g == nil || g.client == nil || seq == 0 {
		return true, nil
	}
	key := fmt.Sprintf("autofill:seq:%s:%s", scope, field)
	ok, err := acceptSeq.Run(ctx, g.client, []string{key}, seq, g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return ok == 1, nil
}
