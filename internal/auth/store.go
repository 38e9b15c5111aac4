package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Store 按令牌摘要查找主体，实现需要并发安全。
type Store interface {
	// LookupToken 在摘要未知时返回 ErrInvalidToken。
	LookupToken(ctx context.Context, digest string) (*Subject, error)
}

// HashToken 返回令牌的 SHA-256 十六进制摘要，配置与存储中只保存摘要。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemoryStore 是基于配置种子的内存令牌表。
type MemoryStore struct {
	mu       sync.RWMutex
	byDigest map[string]*Subject
}

// NewMemoryStore 根据种子构造令牌表。lookup 用于解析 token_env，为空时使用 os.LookupEnv。
func NewMemoryStore(seeds []TokenSeed, lookup func(string) (string, bool)) (*MemoryStore, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	store := &MemoryStore{byDigest: make(map[string]*Subject, len(seeds))}
	for _, seed := range seeds {
		digest, err := seedDigest(seed, lookup)
		if err != nil {
			return nil, err
		}
		if _, exists := store.byDigest[digest]; exists {
			return nil, fmt.Errorf("token %s duplicates another token", seed.Name)
		}
		subject := &Subject{
			Name:        strings.TrimSpace(seed.Name),
			Permissions: dedupeStrings(seed.Permissions),
			Disabled:    seed.Disabled,
		}
		subject.normalise()
		store.byDigest[digest] = subject
	}
	return store, nil
}

func seedDigest(seed TokenSeed, lookup func(string) (string, bool)) (string, error) {
	if d := strings.ToLower(strings.TrimSpace(seed.TokenSHA256)); d != "" {
		if raw, err := hex.DecodeString(d); err != nil || len(raw) != sha256.Size {
			return "", fmt.Errorf("token %s: token_sha256 is not a SHA-256 hex digest", seed.Name)
		}
		return d, nil
	}
	if seed.Token != "" {
		return HashToken(seed.Token), nil
	}
	if seed.TokenEnv != "" {
		if v, ok := lookup(seed.TokenEnv); ok && v != "" {
			return HashToken(v), nil
		}
		return "", fmt.Errorf("token %s: environment variable %s is empty", seed.Name, seed.TokenEnv)
	}
	return "", errors.New("token " + seed.Name + " has no secret")
}

// LookupToken 实现 Store。
func (s *MemoryStore) LookupToken(_ context.Context, digest string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.byDigest[digest]; ok {
		return subject.Clone(), nil
	}
	return nil, ErrInvalidToken
}

// Revoke 禁用指定名称的全部令牌，返回受影响数量。
func (s *MemoryStore) Revoke(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, subject := range s.byDigest {
		if subject.Name == name && !subject.Disabled {
			subject.Disabled = true
			n++
		}
	}
	return n
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
