package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("GATEWAY_TIMEOUT", "")
	cfg := Load()
	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, 30*time.Second, cfg.MoMo.Timeout)
	assert.Equal(t, "captureWallet", cfg.MoMo.RequestType)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "docstore")
	t.Setenv("DOCSTORE_PATH", "/tmp/x.db")
	t.Setenv("GATEWAY_SIGNATURE_ALGO", "sha512")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("APP_MIGRATE", "true")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendDocstore, cfg.StorageBackend)
	assert.Equal(t, "/tmp/x.db", cfg.DocstorePath)
	assert.Equal(t, "sha512", cfg.MoMo.SignatureAlgo)
	assert.Equal(t, 5*time.Second, cfg.MoMo.Timeout)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.True(t, cfg.Migrate)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	base := Config{StorageBackend: BackendDocstore, DocstorePath: "x.db", WorkerCount: 1, MoMo: MoMo{SignatureAlgo: "sha256"}}
	require.NoError(t, base.Validate())

	bad := base
	bad.StorageBackend = "mongo"
	assert.Error(t, bad.Validate())

	bad = base
	bad.MoMo.SignatureAlgo = "md5"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Env = "prod"
	bad.JWTSecret = "changeme-secret"
	assert.Error(t, bad.Validate())
}
