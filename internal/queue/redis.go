package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue はRedisのリストとソート済みセットを使ったBroker実装。
//
//	<prefix>:ready      実行待ちのリスト（LPUSHで投入、RPOPで取り出し）
//	<prefix>:delayed    再試行待ちのZSET（スコアは実行時刻）
//	<prefix>:processing 予約済みのZSET（スコアは予約時刻）
//	<prefix>:dead       失敗ジョブのZSET（スコアは失敗時刻）
type RedisQueue struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
	now         func() time.Time
}

// redisEnvelope はRedisに格納するジョブの表現。
type redisEnvelope struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// promoteScript は実行時刻を過ぎた再試行待ちジョブを実行待ちリストへ移す。
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, v in ipairs(due) do
	redis.call('ZREM', KEYS[1], v)
	redis.call('LPUSH', KEYS[2], v)
end
return #due
`)

// reserveScript は実行待ちリストから取り出したジョブを予約済みZSETへ原子的に移す。
var reserveScript = redis.NewScript(`
local out = {}
for i = 1, tonumber(ARGV[1]) do
	local v = redis.call('RPOP', KEYS[1])
	if not v then
		break
	end
	redis.call('ZADD', KEYS[2], ARGV[2], v)
	out[#out + 1] = v
end
return out
`)

// NewRedisQueue はRedisQueueを生成する。prefixが空の場合は"meetapp:jobs"を使う。
func NewRedisQueue(client *redis.Client, prefix string, maxAttempts int) *RedisQueue {
	if prefix == "" {
		prefix = "meetapp:jobs"
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RedisQueue{client: client, prefix: prefix, maxAttempts: maxAttempts, now: time.Now}
}

func (q *RedisQueue) readyKey() string      { return q.prefix + ":ready" }
func (q *RedisQueue) delayedKey() string    { return q.prefix + ":delayed" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":processing" }
func (q *RedisQueue) deadKey() string       { return q.prefix + ":dead" }

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Enqueue はジョブを実行待ちリストに投入する。
func (q *RedisQueue) Enqueue(ctx context.Context, key string, payload any) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	env := redisEnvelope{
		ID:          uuid.NewString(),
		Key:         key,
		Payload:     data,
		MaxAttempts: q.maxAttempts,
		EnqueuedAt:  q.now().UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return env.ID, nil
}

// Reserve は再試行待ちのうち期限が来たものを昇格させてから、最大limit件を予約する。
func (q *RedisQueue) Reserve(ctx context.Context, limit int) ([]*Job, error) {
	now := q.now()
	if err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.readyKey()},
		score(now), limit,
	).Err(); err != nil {
		return nil, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}

	raws, err := reserveScript.Run(ctx, q.client,
		[]string{q.readyKey(), q.processingKey()},
		limit, score(now),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to reserve jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(raws))
	for _, raw := range raws {
		var env redisEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// 壊れたジョブは予約済みから外し、失敗として残す
			q.client.ZRem(ctx, q.processingKey(), raw)
			q.client.ZAdd(ctx, q.deadKey(), redis.Z{Score: float64(now.UnixMilli()), Member: raw})
			continue
		}
		jobs = append(jobs, &Job{
			ID:          env.ID,
			Key:         env.Key,
			Payload:     env.Payload,
			Attempts:    env.Attempts + 1,
			MaxAttempts: env.MaxAttempts,
			RunAt:       env.EnqueuedAt,
			LastError:   env.LastError,
			raw:         raw,
		})
	}
	return jobs, nil
}

// Complete は予約済みZSETからジョブを取り除く。
func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	if err := q.client.ZRem(ctx, q.processingKey(), job.raw).Err(); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	return nil
}

// Retry はジョブを試行回数と最後のエラーを更新して再試行待ちZSETへ移す。
func (q *RedisQueue) Retry(ctx context.Context, job *Job, runAt time.Time, cause error) error {
	raw, err := q.encode(job, cause)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), job.raw)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: raw})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", job.ID, err)
	}
	job.raw = raw
	return nil
}

// Bury はジョブを失敗ZSETへ移す。
func (q *RedisQueue) Bury(ctx context.Context, job *Job, cause error) error {
	raw, err := q.encode(job, cause)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), job.raw)
	pipe.ZAdd(ctx, q.deadKey(), redis.Z{Score: float64(q.now().UnixMilli()), Member: raw})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bury job %s: %w", job.ID, err)
	}
	job.raw = raw
	return nil
}

// RequeueStale はolderThanより前に予約されたジョブを実行待ちリストへ戻す。
// 予約時の試行を1回として数え、最大試行回数に達したジョブは失敗ZSETへ移す。
func (q *RedisQueue) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	raws, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + score(olderThan),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	handled := 0
	for _, raw := range raws {
		removed, err := q.client.ZRem(ctx, q.processingKey(), raw).Result()
		if err != nil {
			return handled, fmt.Errorf("failed to requeue stale job: %w", err)
		}
		if removed == 0 {
			// 別のワーカーが完了させた
			continue
		}
		if err := q.requeueOrBury(ctx, raw); err != nil {
			return handled, err
		}
		handled++
	}
	return handled, nil
}

// requeueOrBury は予約が放置されたジョブの試行回数を進め、
// 残り試行があれば実行待ちリストへ、なければ失敗ZSETへ入れる。
func (q *RedisQueue) requeueOrBury(ctx context.Context, raw string) error {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return q.client.ZAdd(ctx, q.deadKey(), redis.Z{Score: float64(q.now().UnixMilli()), Member: raw}).Err()
	}

	env.Attempts++
	env.LastError = ErrStale.Error()
	updated, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", env.ID, err)
	}

	if env.Attempts >= env.MaxAttempts {
		err = q.client.ZAdd(ctx, q.deadKey(), redis.Z{Score: float64(q.now().UnixMilli()), Member: string(updated)}).Err()
	} else {
		err = q.client.LPush(ctx, q.readyKey(), string(updated)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to requeue stale job %s: %w", env.ID, err)
	}
	return nil
}

// Purge はolderThanより前に失敗したジョブを削除する。
// 完了したジョブは保持しないため、失敗ZSETのみが対象となる。
func (q *RedisQueue) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := q.client.ZRemRangeByScore(ctx, q.deadKey(), "-inf", "("+score(olderThan)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead jobs: %w", err)
	}
	return int(n), nil
}

// Ping はRedisへの疎通を確認する。
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) encode(job *Job, cause error) (string, error) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(job.raw), &env); err != nil {
		return "", fmt.Errorf("failed to decode job %s: %w", job.ID, err)
	}
	env.Attempts = job.Attempts
	env.LastError = errorText(cause)

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return string(raw), nil
}

// compile-time interface check
var _ Broker = (*RedisQueue)(nil)
