package envelope

import (
	"crypto/rsa"
	"errors"
	"math/big"
)

// rawPublicOp computes c^e mod n and returns the result left-padded to the
// modulus byte length.
//
// Unpadded textbook RSA: the server applied its private
// exponent to a PKCS#1 type-1 block, so the public exponent recovers the
// block. rsa.DecryptPKCS1v15 expects the opposite key role and
// rsa.VerifyPKCS1v15 only compares against a known digest.
func rawPublicOp(pub *rsa.PublicKey, encrypted []byte) ([]byte, error) {
	k := (pub.N.BitLen() + 7) / 8
	if len(encrypted) > k {
		return nil, errors.New("encrypted key longer than modulus")
	}

	c := new(big.Int).SetBytes(encrypted)
	if c.Cmp(pub.N) >= 0 {
		return nil, errors.New("encrypted key out of range")
	}

	m := new(big.Int).Exp(c, big.NewInt(int64(pub.E)), pub.N)
	return m.FillBytes(make([]byte, k)), nil
}

// stripType1Padding removes 0x00 0x01 0xFF... 0x00 framing and returns the
// payload.
func stripType1Padding(block []byte) ([]byte, error) {
	if len(block) < 3 || block[0] != 0x00 || block[1] != 0x01 {
		return nil, ErrInvalidPadding
	}

	i := 2
	for i < len(block) && block[i] == 0xff {
		i++
	}
	if i >= len(block) || block[i] != 0x00 {
		return nil, ErrInvalidPadding
	}
	return block[i+1:], nil
}
