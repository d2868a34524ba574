// Package crypto verifies caller identity for the HTTP API with EIP-191
// personal_sign signatures over a canonical request message.
package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// RequestMessage is the text a caller signs to authorise one API request:
//
//	bullbear request
//	POST /api/pools/0x.../mint
//	1700000000
//	0x<keccak256(body)>
func RequestMessage(method, path string, ts int64, body []byte) []byte {
	var b strings.Builder
	b.WriteString("bullbear request\n")
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteByte('\n')
	b.WriteString(hexutil.Encode(ethcrypto.Keccak256(body)))
	return []byte(b.String())
}

// textHash is the EIP-191 version 0x45 digest of msg.
func textHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}

// RecoverSigner returns the address that produced sigHex over msg. Both the
// 27/28 and 0/1 recovery id conventions are accepted.
func RecoverSigner(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(sigHex))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", domain.ErrBadSignature)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto: signature is %d bytes: %w", len(sig), domain.ErrBadSignature)
	}
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}

	pub, err := ethcrypto.SigToPub(textHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w", domain.ErrBadSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SignText signs msg the way wallets implement personal_sign and returns the
// 0x-prefixed signature with a 27/28 recovery id.
func SignText(key *ecdsa.PrivateKey, msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(textHash(msg), key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
