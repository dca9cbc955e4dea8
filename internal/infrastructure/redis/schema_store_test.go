package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/config"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

func TestOptions(t *testing.T) {
	opt := options(config.RedisConfig{
		Address:      "10.0.0.1:6380",
		Password:     "secret",
		DB:           2,
		PoolSize:     20,
		MinIdleConns: 4,
		DialTimeout:  5,
		ReadTimeout:  3,
		WriteTimeout: 1,
	})
	assert.Equal(t, "10.0.0.1:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)
	assert.Equal(t, 20, opt.PoolSize)
	assert.Equal(t, 4, opt.MinIdleConns)
	assert.Equal(t, 5*time.Second, opt.DialTimeout)
	assert.Equal(t, 3*time.Second, opt.ReadTimeout)
	assert.Equal(t, time.Second, opt.WriteTimeout)
}

func TestSchemaChangeCodec(t *testing.T) {
	t.Run("编码后可解析", func(t *testing.T) {
		now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
		payload, err := encodeChange(SchemaChange{Instance: "a", Family: "CSG13", Action: ActionUpdate, Time: now})
		require.NoError(t, err)

		c, err := decodeChange(payload)
		require.NoError(t, err)
		assert.Equal(t, "a", c.Instance)
		assert.Equal(t, "CSG13", c.Family)
		assert.Equal(t, ActionUpdate, c.Action)
		assert.True(t, now.Equal(c.Time))
	})

	t.Run("格式错误", func(t *testing.T) {
		_, err := decodeChange("{")
		assert.True(t, errors.IsErrCode(err, errors.ErrInvalidParameter))
	})

	t.Run("缺少协议族", func(t *testing.T) {
		_, err := decodeChange(`{"instance":"a","action":"reset"}`)
		assert.True(t, errors.IsErrCode(err, errors.ErrInvalidParameter))
	})
}

func TestSchemaStoreAccept(t *testing.T) {
	store := NewSchemaStore(nil, "meter:schema", "meter:schema:update")
	other := NewSchemaStore(nil, "meter:schema", "meter:schema:update")
	require.NotEqual(t, store.Instance(), other.Instance())

	t.Run("忽略本实例发出的通知", func(t *testing.T) {
		payload, err := encodeChange(SchemaChange{Instance: store.Instance(), Family: "CSG13", Action: ActionUpdate})
		require.NoError(t, err)
		_, ok := store.accept(payload)
		assert.False(t, ok)
	})

	t.Run("接受其他实例的通知", func(t *testing.T) {
		payload, err := encodeChange(SchemaChange{Instance: other.Instance(), Family: "DLT/645", Action: ActionReset})
		require.NoError(t, err)
		c, ok := store.accept(payload)
		require.True(t, ok)
		assert.Equal(t, "DLT/645", c.Family)
	})

	t.Run("未知动作", func(t *testing.T) {
		payload, err := encodeChange(SchemaChange{Instance: other.Instance(), Family: "CSG13", Action: "drop"})
		require.NoError(t, err)
		_, ok := store.accept(payload)
		assert.False(t, ok)
	})

	t.Run("恢复内置配置时不读取存储", func(t *testing.T) {
		payload, err := encodeChange(SchemaChange{Instance: other.Instance(), Family: "CSG13", Action: ActionReset})
		require.NoError(t, err)

		var got []SchemaChange
		store.dispatch(context.Background(), payload, func(c SchemaChange, content []byte) {
			assert.Nil(t, content)
			got = append(got, c)
		})
		require.Len(t, got, 1)
		assert.Equal(t, ActionReset, got[0].Action)
	})
}
