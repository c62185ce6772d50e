package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.RPCURL)
	assert.Equal(t, "confirmed", cfg.Commitment)
	assert.Equal(t, int32(9), cfg.TokenDecimals)
	assert.Equal(t, "Sepolia", cfg.PeerChain)
	assert.True(t, cfg.SendTxn)
}

func TestLoadMissingFileIsAnErrorWhenRequired(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false)
	assert.Error(t, err)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custodia.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rpc_url: https://api.mainnet-beta.solana.com
ws_url: wss://api.mainnet-beta.solana.com
ntt_manager: NTtAaoDJhkeHeaVUHnyhwbPNAN6WgBpHkHBTc6d7vLK
expected_vault: 3Zc77zF9zghpjU97CVoZQ8QswC8bwpcX55KFQdJcRkCc
peer_chain: BaseSepolia
send_txn: false
`), 0o600))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.RPCURL)
	assert.Equal(t, "NTtAaoDJhkeHeaVUHnyhwbPNAN6WgBpHkHBTc6d7vLK", cfg.NTTManager)
	assert.Equal(t, "3Zc77zF9zghpjU97CVoZQ8QswC8bwpcX55KFQdJcRkCc", cfg.ExpectedVault)
	assert.Equal(t, "BaseSepolia", cfg.PeerChain)
	assert.False(t, cfg.SendTxn)

	// untouched fields keep their defaults
	assert.Equal(t, "confirmed", cfg.Commitment)
	assert.Equal(t, int32(9), cfg.TokenDecimals)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rpc_url: [unterminated"), 0o600))
	_, err := Load(path, false)
	assert.Error(t, err)
}

func TestLoadKeypairJSONArray(t *testing.T) {
	wallet := solana.NewWallet()
	nums := make([]int, len(wallet.PrivateKey))
	for i, b := range wallet.PrivateKey {
		nums[i] = int(b)
	}
	data, err := json.Marshal(nums)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	key, err := LoadKeypair(path)
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), key.PublicKey())
}

func TestLoadKeypairBase58(t *testing.T) {
	wallet := solana.NewWallet()
	path := filepath.Join(t.TempDir(), "keys.txt")
	encoded := base58.Encode(wallet.PrivateKey) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(encoded), 0o600))

	key, err := LoadKeypair(path)
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), key.PublicKey())
}

func TestLoadKeypairRejectsBadMaterial(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadKeypair(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	short := filepath.Join(dir, "short.json")
	require.NoError(t, os.WriteFile(short, []byte("[1,2,3]"), 0o600))
	_, err = LoadKeypair(short)
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.txt")
	require.NoError(t, os.WriteFile(garbage, []byte("not base58 0OIl"), 0o600))
	_, err = LoadKeypair(garbage)
	assert.Error(t, err)
}
