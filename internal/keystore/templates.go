package keystore

import (
	"fmt"

	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/daead"
	"github.com/tink-crypto/tink-go/v2/mac"
	tinkpb "github.com/tink-crypto/tink-go/v2/proto/tink_go_proto"
	"github.com/tink-crypto/tink-go/v2/signature"

	"keyset-lifecycle-service/internal/domain"
)

// KeyTemplate はアルゴリズムに対応する tink の鍵テンプレートを返す。
func KeyTemplate(alg domain.Algorithm) (*tinkpb.KeyTemplate, error) {
	switch alg {
	case domain.AlgorithmAES128GCM:
		return aead.AES128GCMKeyTemplate(), nil
	case domain.AlgorithmAES256GCM:
		return aead.AES256GCMKeyTemplate(), nil
	case domain.AlgorithmChaCha20Poly1305:
		return aead.ChaCha20Poly1305KeyTemplate(), nil
	case domain.AlgorithmXChaCha20Poly1305:
		return aead.XChaCha20Poly1305KeyTemplate(), nil
	case domain.AlgorithmAES256SIV:
		return daead.AESSIVKeyTemplate(), nil
	case domain.AlgorithmHMACSHA256:
		return mac.HMACSHA256Tag256KeyTemplate(), nil
	case domain.AlgorithmHMACSHA512:
		return mac.HMACSHA512Tag512KeyTemplate(), nil
	case domain.AlgorithmECDSAP256:
		return signature.ECDSAP256KeyTemplate(), nil
	case domain.AlgorithmECDSAP384:
		return signature.ECDSAP384SHA384KeyTemplate(), nil
	case domain.AlgorithmED25519:
		return signature.ED25519KeyTemplate(), nil
	default:
		return nil, fmt.Errorf("%w: no key template for algorithm %q", domain.ErrInvalidArgument, alg)
	}
}
