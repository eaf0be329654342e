package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/Hari-sh-S/options-algo/internal/errors"
	"github.com/Hari-sh-S/options-algo/internal/models"
)

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// maxSummaries bounds each owner's summary list.
const maxSummaries = 1000

// claimScheduleScript deletes the owner's schedule only while it still
// carries the expected id.
var claimScheduleScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], 'schedule_id')
if id ~= ARGV[1] then
	return false
end
local data = redis.call('HGET', KEYS[1], 'data')
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return data
`)

// RedisStore implements Store on Redis. Jobs are JSON strings indexed by a
// sorted set scored by execute time; claims use GETDEL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "algo"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) SaveJob(ctx context.Context, job *models.ScheduledJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key("job", job.JobID), data, 0)
		pipe.ZAdd(ctx, r.key("jobs"), redis.Z{Score: float64(job.ExecuteAt.UnixNano()), Member: job.JobID})
		return nil
	})
	if err != nil {
		return dbError("save job", err)
	}
	return nil
}

func (r *RedisStore) LoadJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	ids, err := r.client.ZRange(ctx, r.key("jobs"), 0, -1).Result()
	if err != nil {
		return nil, dbError("load jobs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key("job", id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, dbError("load jobs", err)
	}

	jobs := make([]models.ScheduledJob, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Index entry without a body; a claim raced the read.
			continue
		}
		var job models.ScheduledJob
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", ids[i], err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key("job", jobID))
		pipe.ZRem(ctx, r.key("jobs"), jobID)
		return nil
	})
	if err != nil {
		return dbError("delete job", err)
	}
	return nil
}

// ClaimJob takes the job body with GETDEL; only the caller that receives it
// wins. The index entry is removed afterwards.
func (r *RedisStore) ClaimJob(ctx context.Context, jobID string) (*models.ScheduledJob, error) {
	data, err := r.client.GetDel(ctx, r.key("job", jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrJobNotFound
	}
	if err != nil {
		return nil, dbError("claim job", err)
	}
	if err := r.client.ZRem(ctx, r.key("jobs"), jobID).Err(); err != nil {
		return nil, dbError("claim job", err)
	}

	var job models.ScheduledJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &job, nil
}

func (r *RedisStore) SaveSchedule(ctx context.Context, s *models.SquareOffSchedule) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key("squareoff", s.Owner), "schedule_id", s.ScheduleID, "data", data)
		pipe.SAdd(ctx, r.key("squareoffs"), s.Owner)
		return nil
	})
	if err != nil {
		return dbError("save schedule", err)
	}
	return nil
}

func (r *RedisStore) LoadSchedules(ctx context.Context) ([]models.SquareOffSchedule, error) {
	owners, err := r.client.SMembers(ctx, r.key("squareoffs")).Result()
	if err != nil {
		return nil, dbError("load schedules", err)
	}

	var out []models.SquareOffSchedule
	for _, owner := range owners {
		data, err := r.client.HGet(ctx, r.key("squareoff", owner), "data").Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, dbError("load schedules", err)
		}
		var s models.SquareOffSchedule
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode schedule for %s: %w", owner, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisStore) DeleteSchedule(ctx context.Context, owner string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key("squareoff", owner))
		pipe.SRem(ctx, r.key("squareoffs"), owner)
		return nil
	})
	if err != nil {
		return dbError("delete schedule", err)
	}
	return nil
}

func (r *RedisStore) ClaimSchedule(ctx context.Context, owner, scheduleID string) (*models.SquareOffSchedule, error) {
	keys := []string{r.key("squareoff", owner), r.key("squareoffs")}
	data, err := claimScheduleScript.Run(ctx, r.client, keys, scheduleID, owner).Text()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrScheduleNotFound
	}
	if err != nil {
		return nil, dbError("claim schedule", err)
	}

	var s models.SquareOffSchedule
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to decode schedule for %s: %w", owner, err)
	}
	return &s, nil
}

func (r *RedisStore) SaveDaySummary(ctx context.Context, s *models.DaySummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	key := r.key("summaries", s.Owner)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, maxSummaries-1)
		return nil
	})
	if err != nil {
		return dbError("save day summary", err)
	}
	return nil
}

func (r *RedisStore) ListDaySummaries(ctx context.Context, owner string, limit int) ([]models.DaySummary, error) {
	values, err := r.client.LRange(ctx, r.key("summaries", owner), 0, int64(normalizeLimit(limit)-1)).Result()
	if err != nil {
		return nil, dbError("list day summaries", err)
	}

	out := make([]models.DaySummary, 0, len(values))
	for _, v := range values {
		var s models.DaySummary
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
