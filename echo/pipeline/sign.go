package pipeline

import (
	"fmt"

	"github.com/dxos/dxos-sub075/echo/feedstore"
	"github.com/dxos/dxos-sub075/echo/mutation"
	"github.com/dxos/dxos-sub075/util/crypto"
)

func sealBlock(key crypto.PrivKey, feedKey string, seq uint64, payload []byte) ([]byte, error) {
	sb := mutation.SignedBlock{Payload: payload}
	sig, err := key.Sign(sb.SignedPayload(feedKey, seq))
	if err != nil {
		return nil, err
	}
	sb.Signature = sig
	return sb.Marshal(), nil
}

// verifyBlock checks the block was signed by the private key of its feed
func verifyBlock(b feedstore.Block) error {
	pub, err := crypto.DecodePublicKey(b.FeedKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	sb, err := mutation.UnmarshalSignedBlock(b.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if ok, err := pub.Verify(sb.SignedPayload(b.FeedKey, b.Seq), sb.Signature); err != nil || !ok {
		return ErrInvalidSignature
	}
	return nil
}
