package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// KeyStore maps hashed API keys to agent IDs. Thread-safe.
// Keys are stored as SHA-256 hashes so raw keys never sit in memory.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]string // SHA-256(apiKey) → agentID
}

// NewKeyStore parses a comma-separated "agent:key" list, e.g.
// "devops-agent:sk-abc,ci-bot:sk-def". Malformed pairs are skipped.
func NewKeyStore(raw string) *KeyStore {
	ks := &KeyStore{keys: make(map[string]string)}
	for _, pair := range strings.Split(raw, ",") {
		agent, key, ok := strings.Cut(strings.TrimSpace(pair), ":")
		agent, key = strings.TrimSpace(agent), strings.TrimSpace(key)
		if !ok || agent == "" || key == "" {
			continue
		}
		ks.keys[hashKey(key)] = agent
	}
	return ks
}

// Lookup returns the agent ID for a given API key.
func (ks *KeyStore) Lookup(apiKey string) (agentID string, ok bool) {
	if apiKey == "" {
		return "", false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	agentID, ok = ks.keys[hashKey(apiKey)]
	return
}

// Len returns the number of configured keys. Zero disables authentication.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
