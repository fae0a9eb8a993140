package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
)

const resultKeyPrefix = "result:"

// Client is a result store keeping each finished output under result:<task_id>.
type Client struct {
	RedisClient *redis.Client
	ttl         time.Duration
}

type storedResult struct {
	TaskID      string `json:"task_id"`
	Model       string `json:"model"`
	Query       string `json:"query"`
	Content     string `json:"content"`
	CompletedAt int64  `json:"completed_at_stamp"`
}

func NewClient(dsn string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}

	return NewClientFromRedis(redis.NewClient(opts), ttl), nil
}

func NewClientFromRedis(redisClient *redis.Client, ttl time.Duration) *Client {
	return &Client{
		RedisClient: redisClient,
		ttl:         ttl,
	}
}

func resultKey(taskID string) string {
	return resultKeyPrefix + taskID
}

func (c *Client) SaveResult(ctx context.Context, output domain.TaskOutput) (location string, err error) {
	marshalled, err := json.Marshal(storedResult{
		TaskID:      output.TaskID,
		Model:       output.Model,
		Query:       output.Query,
		Content:     output.Content,
		CompletedAt: output.CompletedAt.Unix(),
	})
	if err != nil {
		return "", err
	}

	key := resultKey(output.TaskID)
	if err = c.RedisClient.Set(ctx, key, marshalled, c.ttl).Err(); err != nil {
		return "", err
	}

	return "redis://" + key, nil
}

func (c *Client) LoadResult(ctx context.Context, taskID string) (content string, err error) {
	raw, err := c.RedisClient.Get(ctx, resultKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errval.ErrNotFound
		}

		return "", err
	}

	return decodeResult(taskID, raw)
}

// decodeResult turns a stored entry into the same markdown document the file
// store serves.
func decodeResult(taskID string, raw []byte) (string, error) {
	var stored storedResult
	if err := json.Unmarshal(raw, &stored); err != nil {
		return "", fmt.Errorf("decoding %s: %w", resultKey(taskID), err)
	}

	return domain.TaskOutput{
		TaskID:      stored.TaskID,
		Model:       stored.Model,
		Query:       stored.Query,
		Content:     stored.Content,
		CompletedAt: time.Unix(stored.CompletedAt, 0),
	}.Document(), nil
}

func (c *Client) Close() (err error) {
	err = c.RedisClient.Close()
	return err
}

func (c *Client) Ping(ctx context.Context) (err error) {
	err = c.RedisClient.Ping(ctx).Err()
	return err
}
