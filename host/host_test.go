package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-keyseal/enclave"
	"github.com/ruteri/tee-keyseal/interfaces"
	"github.com/ruteri/tee-keyseal/kms"
	"github.com/ruteri/tee-keyseal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keyseal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
module: /etc/keyseal/module.json
root_key_file: /etc/keyseal/root.key
storage:
  - file:///var/lib/keyseal
  - s3://bucket/keys?region=eu-west-1
policy: authority
attestation:
  type: remote
  address: http://127.0.0.1:8080
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/keyseal/module.json", cfg.Module)
	assert.Equal(t, DefaultTokenPath(), cfg.TokenPath)
	assert.Len(t, cfg.Storage, 2)
	assert.Equal(t, interfaces.AuthorityIdentity, cfg.DisclosurePolicy())
	assert.Equal(t, "remote", cfg.Attestation.Type)

	t.Setenv("KEYSEAL_POLICY", "exact")
	t.Setenv("KEYSEAL_STORAGE", "file:///tmp/a, file:///tmp/b")
	t.Setenv("KEYSEAL_TOKEN_PATH", filepath.Join(dir, "token"))

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ExactIdentity, cfg.DisclosurePolicy())
	assert.Equal(t, []string{"file:///tmp/a", "file:///tmp/b"}, cfg.Storage)
	assert.Equal(t, filepath.Join(dir, "token"), cfg.TokenPath)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("modul: typo\n"), 0644))
	_, err = LoadConfig(unknown)
	assert.Error(t, err, "Unknown fields should be rejected")

	badPolicy := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(badPolicy, []byte("policy: anyone\n"), 0644))
	_, err = LoadConfig(badPolicy)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter)

	badStorage := filepath.Join(dir, "storage.yaml")
	require.NoError(t, os.WriteFile(badStorage, []byte("storage: [\"github://owner/repo\"]\n"), 0644))
	_, err = LoadConfig(badStorage)
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enclave.token")
	tokens := NewTokenFile(path, nil)

	assert.Nil(t, tokens.Load(), "Missing file should yield no token")

	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))
	assert.Nil(t, tokens.Load(), "Wrong length should yield no token")

	token := make(interfaces.LaunchToken, interfaces.LaunchTokenSize)
	token[0] = 0x4c
	require.NoError(t, tokens.Save(token))
	assert.Equal(t, token, tokens.Load())

	assert.ErrorIs(t, tokens.Save(token[:10]), interfaces.ErrInvalidParameter)

	unwritable := NewTokenFile(filepath.Join(t.TempDir(), "missing-dir", "enclave.token"), nil)
	assert.Error(t, unwritable.Save(token))
}

func TestKeyStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := storage.NewFileBackend(dir, nil)
	require.NoError(t, err)
	store := NewKeyStore(backend, nil)

	blob := interfaces.SealedBlob("opaque sealed bytes")
	id, err := store.PutSealedKey(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, blob.ContentID(), id)

	loaded, err := store.GetSealedKey(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, blob, loaded)

	_, err = store.GetSealedRecord(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = store.PutSealedRecord(ctx, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameter)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sealed-keys", id.String()), []byte("swapped"), 0600))
	_, err = store.GetSealedKey(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrIntegrity)
}

func writeTestDeployment(t *testing.T) Config {
	dir := t.TempDir()

	rootKey, err := kms.GenerateRootKey()
	require.NoError(t, err)
	rootKeyFile := filepath.Join(dir, "root.key")
	require.NoError(t, SaveRootKey(rootKeyFile, rootKey))
	assert.Error(t, SaveRootKey(rootKeyFile, rootKey), "Existing root key must not be overwritten")

	authority, err := crypto.GenerateKey()
	require.NoError(t, err)
	module, err := enclave.SignModule([]byte("keyseal module"), false, authority)
	require.NoError(t, err)
	modulePath := filepath.Join(dir, "module.json")
	require.NoError(t, module.Save(modulePath))

	cfg := DefaultConfig()
	cfg.Module = modulePath
	cfg.RootKeyFile = rootKeyFile
	cfg.TokenPath = filepath.Join(dir, "enclave.token")
	cfg.Storage = []string{"file://" + filepath.Join(dir, "blobs")}
	return cfg
}

func TestOpenGateway(t *testing.T) {
	cfg := writeTestDeployment(t)

	gw, err := OpenGateway(cfg, nil)
	require.NoError(t, err)
	assert.True(t, gw.LaunchTokenUpdated())

	store, err := OpenKeyStore(cfg, nil)
	require.NoError(t, err)

	pub, blob, err := gw.GenerateSealedKeypair([]byte("key-1"), cfg.DisclosurePolicy())
	require.NoError(t, err)
	id, err := store.PutSealedKey(context.Background(), blob)
	require.NoError(t, err)
	require.NoError(t, gw.Destroy())

	saved, err := os.ReadFile(cfg.TokenPath)
	require.NoError(t, err)
	assert.Len(t, saved, interfaces.LaunchTokenSize)

	gw, err = OpenGateway(cfg, nil)
	require.NoError(t, err)
	defer gw.Destroy()
	assert.False(t, gw.LaunchTokenUpdated(), "Saved token should be reused")

	loaded, err := store.GetSealedKey(context.Background(), id)
	require.NoError(t, err)
	recovered, err := gw.PublicKeyFromSealed(loaded, []byte("key-1"))
	require.NoError(t, err)
	assert.Equal(t, pub, recovered)
}

func TestOpenGatewayErrors(t *testing.T) {
	cfg := writeTestDeployment(t)

	missingModule := cfg
	missingModule.Module = ""
	_, err := OpenGateway(missingModule, nil)
	assert.Error(t, err)

	missingKey := cfg
	missingKey.RootKeyFile = filepath.Join(t.TempDir(), "none")
	_, err = OpenGateway(missingKey, nil)
	assert.Error(t, err)

	badKey := cfg
	badKey.RootKeyFile = filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(badKey.RootKeyFile, []byte("not hex"), 0600))
	_, err = OpenGateway(badKey, nil)
	assert.Error(t, err)

	noStorage := cfg
	noStorage.Storage = nil
	_, err = OpenKeyStore(noStorage, nil)
	assert.Error(t, err)

	// A token path that cannot be written does not prevent the launch.
	readOnly := cfg
	readOnly.TokenPath = filepath.Join(t.TempDir(), "missing-dir", "enclave.token")
	gw, err := OpenGateway(readOnly, nil)
	require.NoError(t, err)
	assert.NoError(t, gw.Destroy())
}
