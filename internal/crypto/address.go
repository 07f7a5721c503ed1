package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LoadSigningKey resolves the creator's private key from cfg and derives its
// Ethereum address. The address is the identity markets are created and
// resolved under.
func LoadSigningKey(cfg KeyConfig) (*ecdsa.PrivateKey, common.Address, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, common.Address{}, err
	}

	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: parsing private key: %w", err)
	}

	return key, ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// AddressOf returns the Ethereum address for an ECDSA private key.
func AddressOf(key *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}
