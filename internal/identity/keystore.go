package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"crypto/sha256"
)

// AuthError is returned when a keystore fails to decrypt because the
// passphrase does not match (wrong passphrase or corrupted file).
type AuthError struct{ msg string }

func (e *AuthError) Error() string { return e.msg }

// argon2Params are the Argon2id tuning knobs used to derive the AES-256 key
// from an operator passphrase. time=3 with 64 MiB of memory is RFC 9106's
// second recommended (low-memory) option, which trades CPU for less RAM
// pressure on small nodes; parallelism here is 2 rather than that option's 4.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 2
	argon2KeyLen  = 32
	saltLen       = 16
)

type keystoreFile struct {
	PubKey     string `json:"pub_key"`
	KDF        string `json:"kdf"` // "argon2id" or "pbkdf2" (legacy)
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// StoreEncrypted seals priv with passphrase using AES-256-GCM, the key
// derived via Argon2id, and writes it to path.
func StoreEncrypted(path, passphrase string, priv PrivateKey) error {
	if passphrase == "" {
		return errors.New("identity: refusing to seal a key with an empty passphrase")
	}
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveArgon2Key(passphrase, salt)

	cipherText, nonce, err := sealGCM(key, priv)
	if err != nil {
		return err
	}

	ks := keystoreFile{
		PubKey:     priv.Public().Hex(),
		KDF:        "argon2id",
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

// LoadEncrypted decrypts the keystore at path using passphrase.
// A wrong passphrase or corrupted file yields *AuthError.
func LoadEncrypted(path, passphrase string) (PrivateKey, error) {
	if passphrase == "" {
		return nil, errors.New("identity: passphrase required to unlock keystore")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("identity: malformed keystore: %w", err)
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, fmt.Errorf("identity: malformed keystore salt: %w", err)
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, fmt.Errorf("identity: malformed keystore nonce: %w", err)
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return nil, fmt.Errorf("identity: malformed keystore ciphertext: %w", err)
	}

	var key []byte
	switch ks.KDF {
	case "", "argon2id":
		key = deriveArgon2Key(passphrase, salt)
	case "pbkdf2":
		// legacy keystores minted before the Argon2id migration
		key = pbkdf2.Key([]byte(passphrase), salt, 210_000, 32, sha256.New)
	default:
		return nil, fmt.Errorf("identity: unknown kdf %q", ks.KDF)
	}

	priv, err := openGCM(key, nonce, cipherText)
	if err != nil {
		return nil, &AuthError{msg: "wrong passphrase or corrupted keystore"}
	}
	return PrivateKey(priv), nil
}

func sealGCM(key, plaintext []byte) (cipherText, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func openGCM(key, nonce, cipherText []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, cipherText, nil)
}

func deriveArgon2Key(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// LoadOrFatal unlocks path with passphrase, exiting the process with code 2
// (§6 exit codes) if the passphrase is missing or wrong. It also refuses to
// start in production mode without a passphrase at all.
func LoadOrFatal(path, passphrase string, production bool, fatal func(code int, format string, args ...any)) PrivateKey {
	if passphrase == "" {
		if production {
			fatal(2, "identity: KEY_PASSWORD is required in production mode")
			return nil
		}
		fatal(2, "identity: KEY_PASSWORD not set")
		return nil
	}
	priv, err := LoadEncrypted(path, passphrase)
	if err != nil {
		fatal(2, "identity: unlock failed: %v", err)
		return nil
	}
	return priv
}
