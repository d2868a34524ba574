package crypto

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

func TestSignAndRecover(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	msg := RequestMessage("post", "/api/pools/0x01/mint", 1_700_000_000, []byte(`{"side":"BULL"}`))
	require.Contains(t, string(msg), "POST /api/pools/0x01/mint\n1700000000\n0x")

	sig, err := SignText(key, msg)
	require.NoError(t, err)

	got, err := RecoverSigner(msg, sig)
	require.NoError(t, err)
	require.Equal(t, want, got)

	other := RequestMessage("POST", "/api/pools/0x01/burn", 1_700_000_000, []byte(`{"side":"BULL"}`))
	got, err = RecoverSigner(other, sig)
	require.NoError(t, err)
	require.NotEqual(t, want, got, "a signature only authorises its own request")
}

func TestRecoverRejectsMalformed(t *testing.T) {
	_, err := RecoverSigner([]byte("x"), "0x1234")
	require.ErrorIs(t, err, domain.ErrBadSignature)

	_, err = RecoverSigner([]byte("x"), "not-hex")
	require.ErrorIs(t, err, domain.ErrBadSignature)
}
