package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix starts every generated service key.
const KeyPrefix = "pantry_"

// Client is an authenticated app backend calling the metering API.
type Client struct {
	Name string
}

// APIKey holds the hashed key and a short prefix for identification.
type APIKey struct {
	Hash   string
	Prefix string // first 14 characters of the plaintext key
}

// Metrics receives authentication outcomes.
type Metrics interface {
	IncAuthFailure(authType string)
	IncAuthSuccess(authType string)
}

// Service authenticates service-key and admin-key requests.
type Service struct {
	clients      map[string]string // SHA-256 key hash -> client name
	adminKeyHash []byte            // bcrypt
	metrics      Metrics
}

// NewService creates a Service. clients maps client names to SHA-256 key
// hashes as produced by HashKey; adminKeyHash is a bcrypt hash and may be
// empty to disable the admin surface.
func NewService(clients map[string]string, adminKeyHash string) *Service {
	byHash := make(map[string]string, len(clients))
	for name, hash := range clients {
		byHash[hash] = name
	}
	return &Service{clients: byHash, adminKeyHash: []byte(adminKeyHash)}
}

// SetMetrics sets the optional metrics recorder.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// lookupClient resolves a plaintext service key, comparing its hash against
// every configured hash in constant time.
func (s *Service) lookupClient(plaintext string) (*Client, bool) {
	hash := []byte(HashKey(plaintext))
	var found string
	for stored, name := range s.clients {
		if subtle.ConstantTimeCompare([]byte(stored), hash) == 1 {
			found = name
		}
	}
	if found == "" {
		return nil, false
	}
	return &Client{Name: found}, true
}

func (s *Service) checkAdminKey(plaintext string) bool {
	if len(s.adminKeyHash) == 0 || plaintext == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.adminKeyHash, []byte(plaintext)) == nil
}

func (s *Service) record(authType string, ok bool) {
	if s.metrics == nil {
		return
	}
	if ok {
		s.metrics.IncAuthSuccess(authType)
	} else {
		s.metrics.IncAuthFailure(authType)
	}
}

// GenerateAPIKey creates a new service key with the "pantry_" prefix followed
// by 32 URL-safe random characters. It returns the APIKey (hash and prefix)
// and the full plaintext key.
func GenerateAPIKey() (APIKey, string, error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return APIKey{}, "", fmt.Errorf("generating random bytes: %w", err)
	}

	plaintext := KeyPrefix + base64.RawURLEncoding.EncodeToString(b)
	key := APIKey{
		Hash:   HashKey(plaintext),
		Prefix: plaintext[:14],
	}
	return key, plaintext, nil
}

// HashKey returns the hex-encoded SHA-256 hash of the given plaintext key.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// HashAdminKey returns the bcrypt hash to configure for an admin key.
func HashAdminKey(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing admin key: %w", err)
	}
	return string(h), nil
}
