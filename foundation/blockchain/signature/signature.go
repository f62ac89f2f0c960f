// Package signature provides helper functions for handling the ledger
// signature needs.
package signature

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Set of errors returned by the signer.
var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// recoveryOffset is added to the recovery id so signatures produced here are
// distinguishable from plain secp256k1 signatures.
const recoveryOffset = 29

// =============================================================================

// Secp256k1 signs and verifies data with secp256k1 keys. Private keys are the
// raw 32 byte scalar, public keys are the 33 byte compressed point.
type Secp256k1 struct{}

// Sign stamps the data and signs the resulting hash with the private key.
// The signature is 65 bytes in [R|S|V] format.
func (Secp256k1) Sign(data []byte, privateKey []byte) ([]byte, error) {
	pk, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	// Prepare the data for signing.
	hash := stamp(data)

	// Sign the hash with the private key to produce a signature.
	sig, err := crypto.Sign(hash, pk)
	if err != nil {
		return nil, err
	}

	// Check the public key extracted from the data and signature.
	publicKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}

	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), hash, sig[:crypto.RecoveryIDOffset]) {
		return nil, ErrInvalidSignature
	}

	sig[crypto.RecoveryIDOffset] += recoveryOffset

	return sig, nil
}

// Verify checks the signature was produced over the data by the private key
// belonging to the public key.
func (Secp256k1) Verify(data []byte, sig []byte, publicKey []byte) error {
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("length %d: %w", len(sig), ErrInvalidSignature)
	}

	// Check the recovery id is either 0 or 1.
	v := sig[crypto.RecoveryIDOffset] - recoveryOffset
	if v != 0 && v != 1 {
		return fmt.Errorf("recovery id: %w", ErrInvalidSignature)
	}

	if _, err := crypto.DecompressPubkey(publicKey); err != nil {
		if _, err := crypto.UnmarshalPubkey(publicKey); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
	}

	if !crypto.VerifySignature(publicKey, stamp(data), sig[:crypto.RecoveryIDOffset]) {
		return ErrInvalidSignature
	}

	return nil
}

// PublicKey derives the compressed public key for the private key.
func (Secp256k1) PublicKey(privateKey []byte) ([]byte, error) {
	pk, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	return crypto.CompressPubkey(&pk.PublicKey), nil
}

// =============================================================================

// GenerateKey produces a new random private key.
func GenerateKey() ([]byte, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}

	return crypto.FromECDSA(pk), nil
}

// LoadKey reads a hex encoded private key, with or without the 0x prefix.
func LoadKey(hexKey string) ([]byte, error) {
	if len(hexKey) < 2 || hexKey[:2] != "0x" {
		hexKey = "0x" + hexKey
	}

	key, err := hexutil.Decode(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	if _, err := crypto.ToECDSA(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	return key, nil
}

// Address returns the hex account address for a compressed or uncompressed
// public key.
func Address(publicKey []byte) (string, error) {
	pub, err := crypto.DecompressPubkey(publicKey)
	if err != nil {
		if pub, err = crypto.UnmarshalPubkey(publicKey); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
	}

	return crypto.PubkeyToAddress(*pub).String(), nil
}

// Encode returns the 0x prefixed hex form of the bytes.
func Encode(b []byte) string {
	return hexutil.Encode(b)
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents this data with the ledger
// stamp embedded into the final hash.
func stamp(data []byte) []byte {

	// Hash the data into a 32 byte array. This will provide a data length
	// consistency with all data.
	txHash := crypto.Keccak256(data)

	// This stamp is used so signatures we produce when signing data are
	// always unique to this ledger.
	stamp := []byte("\x19Ledger Signed Message:\n32")

	return crypto.Keccak256(stamp, txHash)
}
