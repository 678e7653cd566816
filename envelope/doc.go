// Package envelope implements the hybrid RSA/AES-GCM body encryption used
// between the client and the API server.
//
// # Wire format
//
//	base64(encryptedAesKey) "." base64(iv) "." base64(ciphertext || tag)
//
// The AES key is 256 bits, the IV is 12 bytes and the GCM tag is 16 bytes
// appended to the ciphertext.
//
// # Key roles
//
// Requests: the client encrypts the AES key with the server's RSA public key
// using PKCS#1 v1.5; the server decrypts it with its private key.
//
// Responses: the server transforms the AES key with its RSA private key
// (PKCS#1 v1.5 block type 1, the same framing as a raw signature). The client
// therefore undoes it with an unpadded public-key modular exponentiation and
// strips the type-1 padding by hand. This is intentionally non-standard and
// must stay byte-compatible with the server.
//
// # Architecture boundaries
//
// This package is a pure codec with no transport or configuration lookup.
// Callers supply the public key (see [ParsePublicKey]).
//
// # What this package must NOT do
//
//   - Perform I/O other than reading randomness.
//   - Hold or require an RSA private key (see envelopetest for the server side).
//   - Replace the raw public-key operation with rsa.DecryptPKCS1v15 or
//     rsa.VerifyPKCS1v15; neither can recover the key from this input.
package envelope
