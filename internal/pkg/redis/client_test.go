package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/PortalChat/config"
)

func TestNewClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host, portStr, _ := strings.Cut(mr.Addr(), ":")
		port, err := strconv.Atoi(portStr)
		require.NoError(t, err)

		client, err := NewClient(&config.RedisConfig{Host: host, Port: port, PoolSize: 2})
		require.NoError(t, err)
		defer client.Close()

		assert.NoError(t, client.Ping(context.Background()))
		assert.NotNil(t, client.GetClient())
	})

	t.Run("connection failure with invalid address", func(t *testing.T) {
		client, err := NewClient(&config.RedisConfig{Host: "invalid", Port: 9999, PoolSize: 1})
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer client.Close()

	assert.Equal(t, "portalchat:rec:message:m1", client.Key("rec", "message", "m1"))
}
