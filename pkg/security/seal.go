package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/lumehealth/lume-sync/pkg/config"
)

// sealKeyLen is fixed at 32 bytes so the derived key always selects AES-256.
const sealKeyLen = 32

// ErrInvalidSealed signals a malformed sealed envelope.
var ErrInvalidSealed = fmt.Errorf("invalid sealed envelope")

// ErrWrongSecret signals a well-formed envelope that does not open with the
// provided secret, or one whose ciphertext was altered.
var ErrWrongSecret = fmt.Errorf("sealed envelope does not open with this secret")

// SealParams captures the Argon2id parameters embedded into each envelope.
type SealParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
}

// Seal encrypts plaintext under a key stretched from the secret and returns a
// self-describing envelope: $lumeseal$v=1$m=..,t=..,p=..$salt$nonce$ciphertext.
// The envelope carries its own KDF parameters so config changes never strand
// an existing session file.
func Seal(plaintext []byte, secret string, cfg config.SessionConfig) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	if len(plaintext) == 0 {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	params := paramsFromConfig(cfg)
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Parallelism, sealKeyLen)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	encSalt := base64.RawStdEncoding.EncodeToString(salt)
	encNonce := base64.RawStdEncoding.EncodeToString(nonce)
	encCipher := base64.RawStdEncoding.EncodeToString(ciphertext)

	return fmt.Sprintf("$lumeseal$v=1$m=%d,t=%d,p=%d$%s$%s$%s",
		params.Memory, params.Time, params.Parallelism, encSalt, encNonce, encCipher), nil
}

// Open decrypts a sealed envelope with the provided secret.
func Open(sealed, secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret cannot be empty")
	}

	params, salt, nonce, ciphertext, err := decodeEnvelope(sealed)
	if err != nil {
		return nil, err
	}

	key := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Parallelism, sealKeyLen)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrInvalidSealed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongSecret
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

func paramsFromConfig(cfg config.SessionConfig) SealParams {
	threads := clampInt(cfg.ArgonParallelism, 1, 255)
	return SealParams{
		Memory:      clampUint32(cfg.ArgonMemoryKB, 8, 512*1024),
		Time:        clampUint32(cfg.ArgonTime, 1, 10),
		Parallelism: uint8(threads),
		SaltLen:     clampUint32(cfg.ArgonSaltLen, 8, 64),
	}
}

func decodeEnvelope(sealed string) (SealParams, []byte, []byte, []byte, error) {
	parts := strings.Split(sealed, "$")
	if len(parts) != 7 || parts[1] != "lumeseal" || parts[2] != "v=1" {
		return SealParams{}, nil, nil, nil, ErrInvalidSealed
	}

	var params SealParams
	for _, token := range strings.Split(parts[3], ",") {
		keyValue := strings.SplitN(token, "=", 2)
		if len(keyValue) != 2 {
			return SealParams{}, nil, nil, nil, ErrInvalidSealed
		}
		key, value := keyValue[0], keyValue[1]
		switch key {
		case "m":
			if v, err := strconv.ParseUint(value, 10, 32); err == nil {
				params.Memory = uint32(v)
			} else {
				return SealParams{}, nil, nil, nil, ErrInvalidSealed
			}
		case "t":
			if v, err := strconv.ParseUint(value, 10, 32); err == nil {
				params.Time = uint32(v)
			} else {
				return SealParams{}, nil, nil, nil, ErrInvalidSealed
			}
		case "p":
			if v, err := strconv.ParseUint(value, 10, 8); err == nil {
				params.Parallelism = uint8(v)
			} else {
				return SealParams{}, nil, nil, nil, ErrInvalidSealed
			}
		}
	}
	if params.Memory == 0 || params.Time == 0 || params.Parallelism == 0 {
		return SealParams{}, nil, nil, nil, ErrInvalidSealed
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return SealParams{}, nil, nil, nil, ErrInvalidSealed
	}
	nonce, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return SealParams{}, nil, nil, nil, ErrInvalidSealed
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(parts[6])
	if err != nil {
		return SealParams{}, nil, nil, nil, ErrInvalidSealed
	}

	params.SaltLen = uint32(len(salt))

	return params, salt, nonce, ciphertext, nil
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampUint32(value, min, max int) uint32 {
	return uint32(clampInt(value, min, max))
}
