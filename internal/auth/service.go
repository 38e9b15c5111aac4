package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// Service 负责 HTTP 请求的令牌鉴权与授权。
type Service struct {
	mode  Mode
	store Store
	audit *slog.Logger
}

// NewService 创建鉴权服务。store 为空时按 cfg.Tokens 构造内存令牌表。
func NewService(cfg Config, store Store) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	s := &Service{mode: mode, audit: logger.Audit()}
	if mode == ModeDisabled {
		return s, nil
	}
	if store == nil {
		mem, err := NewMemoryStore(cfg.Tokens, nil)
		if err != nil {
			return nil, err
		}
		store = mem
	}
	s.store = store
	return s, nil
}

// Enabled 报告是否需要鉴权。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 解析 Authorization 头并返回对应主体。
func (s *Service) AuthenticateRequest(ctx context.Context, header string) (*Subject, error) {
	if !s.Enabled() {
		return nil, errors.New("authentication disabled")
	}
	token, ok := bearerToken(header)
	if !ok {
		return nil, ErrMissingToken
	}
	subject, err := s.store.LookupToken(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return subject, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
