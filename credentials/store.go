// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

// Package credentials issues and decodes the signed, encrypted database
// credential token carried by the client between requests. The server stores
// nothing; the token is the only copy of the credentials.
package credentials

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sqlpilot/platform/connectors/base"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = time.Hour

// ErrNoCredentials is returned whenever a usable token is absent, expired,
// or fails verification. Callers cannot distinguish these cases.
var ErrNoCredentials = errors.New("no stored database credentials")

// Store issues and decodes credential tokens. The signing and encryption key
// is derived from the configured secret with SHA-256, giving the 32 bytes
// AES-256 requires.
type Store struct {
	key []byte
	ttl time.Duration
}

// NewStore creates a store from the shared secret.
func NewStore(secret string, ttl time.Duration) (*Store, error) {
	if secret == "" {
		return nil, fmt.Errorf("credential secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	key := sha256.Sum256([]byte(secret))
	return &Store{key: key[:], ttl: ttl}, nil
}

type claims struct {
	Type     string `json:"typ_db"`
	Method   string `json:"mtd"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	// Encrypted holds the hex AES-256-CBC ciphertext of the secret part:
	// the username/password pair for parameter configs, the full
	// connection string for URL configs. Nothing identifying the account
	// appears in the cleartext payload.
	Encrypted string `json:"enc"`
	IV        string `json:"iv"`
	jwt.RegisteredClaims
}

// secretPair is the encrypted body for parameter-based configs.
type secretPair struct {
	Username string `json:"u"`
	Password string `json:"p"`
}

// Issue encrypts the sensitive part of the config and wraps everything in a
// signed token.
func (s *Store) Issue(config *base.ConnectionConfig) (string, error) {
	if err := config.Validate(); err != nil {
		return "", err
	}

	var secret string
	c := claims{
		Type:   string(config.Type),
		Method: string(config.Method),
	}

	if config.Method == base.MethodURL {
		secret = config.ConnectionString
	} else {
		p := config.Parameters
		c.Host = p.Host
		c.Port = p.Port
		c.Database = p.Database
		pair, err := json.Marshal(secretPair{Username: p.Username, Password: p.Password})
		if err != nil {
			return "", fmt.Errorf("failed to encode credentials: %w", err)
		}
		secret = string(pair)
	}

	ciphertext, iv, err := s.encrypt(secret)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	c.Encrypted = ciphertext
	c.IV = iv
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.ttl))
	c.IssuedAt = jwt.NewNumericDate(time.Now())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.key)
}

// Decode verifies the token and reconstructs the connection config. Any
// failure, from a bad signature to an expired claim, is reported as
// ErrNoCredentials.
func (s *Store) Decode(tokenString string) (*base.ConnectionConfig, error) {
	if tokenString == "" {
		return nil, ErrNoCredentials
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrNoCredentials
	}

	secret, err := s.decrypt(c.Encrypted, c.IV)
	if err != nil {
		return nil, ErrNoCredentials
	}

	config := &base.ConnectionConfig{
		Type:   base.DatabaseType(c.Type),
		Method: base.ConnectionMethod(c.Method),
	}
	if config.Method == base.MethodURL {
		config.ConnectionString = secret
	} else {
		var pair secretPair
		if err := json.Unmarshal([]byte(secret), &pair); err != nil {
			return nil, ErrNoCredentials
		}
		config.Parameters = &base.ConnectionParameters{
			Host:     c.Host,
			Port:     c.Port,
			Username: pair.Username,
			Password: pair.Password,
			Database: c.Database,
		}
	}

	if err := config.Validate(); err != nil {
		return nil, ErrNoCredentials
	}
	return config, nil
}

// encrypt returns hex(AES-256-CBC(plaintext)) with PKCS7 padding and a fresh
// random IV.
func (s *Store) encrypt(plaintext string) (ciphertext, iv string, err error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", "", err
	}

	ivBytes := make([]byte, aes.BlockSize)
	if _, err := rand.Read(ivBytes); err != nil {
		return "", "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, ivBytes).CryptBlocks(out, padded)

	return hex.EncodeToString(out), hex.EncodeToString(ivBytes), nil
}

func (s *Store) decrypt(ciphertext, iv string) (string, error) {
	data, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	ivBytes, err := hex.DecodeString(iv)
	if err != nil {
		return "", err
	}
	if len(ivBytes) != aes.BlockSize || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("malformed ciphertext")
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, ivBytes).CryptBlocks(out, data)

	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
