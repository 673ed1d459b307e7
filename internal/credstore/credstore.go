// Package credstore resolves the upstream credential.
//
// The value may come from the GMR_UPSTREAM_KEY environment variable, from
// the config file inline, or from a separate YAML credential file. Any of
// the three may hold an ENC[v1:aesgcm:...] value, decrypted against
// GMR_MASTER_KEY so the plaintext secret never sits on disk.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvUpstreamKey = "GMR_UPSTREAM_KEY"
	EnvMasterKey   = "GMR_MASTER_KEY"
)

var encValuePattern = regexp.MustCompile(`^ENC\[v1:aesgcm:([A-Za-z0-9+/=]+)\]$`)

type credFile struct {
	UpstreamKey string `yaml:"upstream_key"`
}

// Resolve returns the upstream credential, preferring the environment,
// then the inline config value, then the credential file. An empty result
// with a nil error means "not configured"; the caller fails the request,
// not the process.
func Resolve(inline string, file string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvUpstreamKey)); v != "" {
		return decryptIfNeeded(v)
	}
	if v := strings.TrimSpace(inline); v != "" {
		return decryptIfNeeded(v)
	}
	f := strings.TrimSpace(file)
	if f == "" {
		return "", nil
	}
	// #nosec G304 -- path comes from trusted config.
	b, err := os.ReadFile(f)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	var cf credFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return "", fmt.Errorf("parse credential file %q: %w", f, err)
	}
	v := strings.TrimSpace(cf.UpstreamKey)
	if v == "" {
		return "", nil
	}
	return decryptIfNeeded(v)
}

// Mask renders a credential safe for logs and dumps.
func Mask(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-2:]
}

func decryptIfNeeded(raw string) (string, error) {
	m := encValuePattern.FindStringSubmatch(raw)
	if m == nil {
		return raw, nil
	}
	key, err := loadMasterKey()
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", fmt.Errorf("invalid base64 ciphertext: %w", err)
	}
	if len(data) < 12 {
		return "", errors.New("ciphertext too short")
	}
	nonce := data[:12]
	ct := data[12:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt failed: %w", err)
	}
	return string(pt), nil
}

// Encrypt produces an ENC[v1:aesgcm:...] value for the credential file.
func Encrypt(plain string) (string, error) {
	key, err := loadMasterKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, []byte(plain), nil)
	buf := make([]byte, 0, len(nonce)+len(ct))
	buf = append(buf, nonce...)
	buf = append(buf, ct...)
	return "ENC[v1:aesgcm:" + base64.StdEncoding.EncodeToString(buf) + "]", nil
}

func loadMasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if raw == "" {
		return nil, errors.New("GMR_MASTER_KEY is required to decrypt ENC[...] values")
	}
	// Accept either raw 32-byte string or base64.
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("GMR_MASTER_KEY must be 32 bytes or base64-encoded 32 bytes")
	}
	if len(b) != 32 {
		return nil, errors.New("GMR_MASTER_KEY must be 32 bytes (AES-256)")
	}
	return b, nil
}
