// Package wallet provides key management and transaction signing helpers.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tolelom/lottochain/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 210_000
	saltSize      = 16
)

type keystoreFile struct {
	PubKey     string `json:"pub_key"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveKey encrypts priv with password and writes it to path.
// The key is derived with PBKDF2-SHA256 over a random 16-byte salt.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, priv, nil)

	ks := keystoreFile{
		PubKey:     priv.Public().Hex(),
		Address:    priv.Public().Address(),
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKey decrypts the keystore at path using password.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return nil, err
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	privBytes, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.New("wrong password or corrupted keystore")
	}
	priv, err := crypto.NewPrivateKey(privBytes)
	if err != nil {
		return nil, err
	}
	if priv.Public().Hex() != ks.PubKey {
		return nil, errors.New("keystore public key does not match decrypted key")
	}
	return priv, nil
}

// LoadOrCreate loads the keystore at path, or generates a new key and saves
// it there when the file does not exist. created reports which happened.
func LoadOrCreate(path, password string) (w *Wallet, created bool, err error) {
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		w, err := Generate()
		if err != nil {
			return nil, false, err
		}
		if err := SaveKey(path, password, w.PrivKey()); err != nil {
			return nil, false, fmt.Errorf("save keystore: %w", err)
		}
		return w, true, nil
	}
	priv, err := LoadKey(path, password)
	if err != nil {
		return nil, false, err
	}
	return New(priv), false, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, 32, sha256.New)
}
