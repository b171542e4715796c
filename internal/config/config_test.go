package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 8080
database:
  driver: mysql
  host: db.internal
  port: 3306
  user: ci
  password: secret
  name: pipelines
minio:
  endpoint: minio.internal:9000
  accessKey: ak
  secretKey: sk
  bucketName: artifacts
  region: us-east-1
  useSSL: false
auth:
  apiKeys:
    acme: key-acme
deploy:
  environments:
    prod:
      namespace: app-prod
      valuesFiles:
        - values-prod.yaml
      timeoutSeconds: 600
      service: app
      servicePort: 80
      smokePaths:
        - /healthz
        - /readyz
      rollbackOnSmokeFailure: true
    dev:
      namespace: app-dev
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "key-acme", cfg.Auth.APIKeys["acme"])

	prod := cfg.Deploy.Environments["prod"]
	assert.Equal(t, "app-prod", prod.Namespace)
	assert.Equal(t, []string{"values-prod.yaml"}, prod.ValuesFiles)
	assert.Equal(t, 10*time.Minute, prod.Timeout())
	assert.Equal(t, []string{"/healthz", "/readyz"}, prod.SmokePaths)
	assert.True(t, prod.RollbackOnSmokeFailure)

	dev := cfg.Deploy.Environments["dev"]
	assert.Equal(t, "app-dev", dev.Namespace)
	assert.False(t, dev.RollbackOnSmokeFailure)
	assert.Zero(t, dev.Timeout())
}

func TestDSNs(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t,
		"ci:secret@tcp(db.internal:3306)/pipelines?parseTime=true&charset=utf8mb4&loc=UTC",
		cfg.MySQLDSN())
	assert.Equal(t,
		"host=db.internal port=3306 user=ci password=secret dbname=pipelines sslmode=disable",
		cfg.PostgresDSN())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
