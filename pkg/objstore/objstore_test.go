package objstore

import (
	"testing"

	"opsdesk/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestNewStore_UnconfiguredReturnsNilStore(t *testing.T) {
	store, err := NewStore(&config.Config{})
	require.NoError(t, err)
	require.Nil(t, store)
}

func TestNewStore_ConfiguredEndpoint(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Endpoint = "127.0.0.1:9000"
	cfg.Storage.BucketName = "attachments"

	store, err := NewStore(cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestNewStore_InvalidEndpoint(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Endpoint = "not a valid endpoint"

	store, err := NewStore(cfg)
	require.Error(t, err)
	require.Nil(t, store)
}
