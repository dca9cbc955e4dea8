package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// 配置变更动作
const (
	ActionUpdate = "update"
	ActionReset  = "reset"
)

// SchemaChange 协议配置变更通知
type SchemaChange struct {
	Instance string    `json:"instance"`
	Family   string    `json:"family"`
	Action   string    `json:"action"`
	Time     time.Time `json:"time"`
}

// SchemaStore 协议配置覆盖存储
// 覆盖配置保存在一个Hash中(字段为协议族)，变更通过发布订阅通知其他实例
type SchemaStore struct {
	client   *redis.Client
	key      string
	channel  string
	instance string
}

// NewSchemaStore 创建协议配置存储
func NewSchemaStore(client *redis.Client, key, channel string) *SchemaStore {
	return &SchemaStore{
		client:   client,
		key:      key,
		channel:  channel,
		instance: uuid.NewString(),
	}
}

// Instance 当前实例标识
func (s *SchemaStore) Instance() string {
	return s.instance
}

// Save 保存协议族的覆盖配置并通知其他实例
func (s *SchemaStore) Save(ctx context.Context, family string, content []byte) error {
	if err := s.client.HSet(ctx, s.key, family, content).Err(); err != nil {
		return errors.Wrap(errors.ErrRedisOperationFailed, "保存协议配置失败", err)
	}
	return s.publish(ctx, family, ActionUpdate)
}

// Delete 删除协议族的覆盖配置并通知其他实例
func (s *SchemaStore) Delete(ctx context.Context, family string) error {
	if err := s.client.HDel(ctx, s.key, family).Err(); err != nil {
		return errors.Wrap(errors.ErrRedisOperationFailed, "删除协议配置失败", err)
	}
	return s.publish(ctx, family, ActionReset)
}

// Get 读取协议族的覆盖配置，不存在时返回 nil
func (s *SchemaStore) Get(ctx context.Context, family string) ([]byte, error) {
	content, err := s.client.HGet(ctx, s.key, family).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrRedisOperationFailed, "读取协议配置失败", err)
	}
	return content, nil
}

// LoadAll 读取全部覆盖配置
func (s *SchemaStore) LoadAll(ctx context.Context) (map[string][]byte, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, errors.Wrap(errors.ErrRedisOperationFailed, "读取协议配置失败", err)
	}
	out := make(map[string][]byte, len(values))
	for family, content := range values {
		out[family] = []byte(content)
	}
	return out, nil
}

func (s *SchemaStore) publish(ctx context.Context, family, action string) error {
	payload, err := encodeChange(SchemaChange{
		Instance: s.instance,
		Family:   family,
		Action:   action,
		Time:     time.Now(),
	})
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return errors.Wrap(errors.ErrRedisOperationFailed, "发布协议配置变更失败", err)
	}
	return nil
}

// Subscribe 订阅其他实例的配置变更，阻塞直到 ctx 结束
// update 动作时 handler 收到最新的配置内容，reset 动作时 content 为 nil
func (s *SchemaStore) Subscribe(ctx context.Context, handler func(change SchemaChange, content []byte)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(errors.ErrRedisConnectionFailed, "订阅协议配置变更失败", err)
	}
	logger.WithField("channel", s.channel).Info("已订阅协议配置变更")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(ctx, msg.Payload, handler)
		}
	}
}

func (s *SchemaStore) dispatch(ctx context.Context, payload string, handler func(SchemaChange, []byte)) {
	change, ok := s.accept(payload)
	if !ok {
		return
	}

	var content []byte
	if change.Action == ActionUpdate {
		var err error
		if content, err = s.Get(ctx, change.Family); err != nil || content == nil {
			logger.WithFields(logrus.Fields{
				"family": change.Family,
				"error":  err,
			}).Warn("协议配置变更后读取失败")
			return
		}
	}
	handler(change, content)
}

// accept 解析通知并过滤本实例发出的通知
func (s *SchemaStore) accept(payload string) (SchemaChange, bool) {
	change, err := decodeChange(payload)
	if err != nil {
		logger.WithField("payload", payload).Warn("无法解析协议配置变更通知")
		return SchemaChange{}, false
	}
	if change.Instance == s.instance {
		return SchemaChange{}, false
	}
	if change.Action != ActionUpdate && change.Action != ActionReset {
		logger.WithField("action", change.Action).Warn("未知的协议配置变更动作")
		return SchemaChange{}, false
	}
	return change, true
}

func encodeChange(c SchemaChange) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalidParameter, "协议配置变更通知编码失败", err)
	}
	return string(data), nil
}

func decodeChange(payload string) (SchemaChange, error) {
	var c SchemaChange
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return c, errors.Wrap(errors.ErrInvalidParameter, "协议配置变更通知格式错误", err)
	}
	if c.Family == "" {
		return c, errors.New(errors.ErrInvalidParameter, "协议配置变更通知缺少协议族")
	}
	return c, nil
}
