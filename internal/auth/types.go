package auth

import (
	"errors"
	"fmt"
	"strings"
)

// 鉴权子系统返回的公共错误。
var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// 工作流接口使用的权限。PermissionAll 匹配任意权限。
const (
	PermissionSubmit = "workflow:submit"
	PermissionRead   = "workflow:read"
	PermissionCancel = "workflow:cancel"
	PermissionAll    = "*"
)

// DefaultRoutePermissions 把 API 路由名映射到所需权限，未列出的路由不鉴权。
var DefaultRoutePermissions = map[string]string{
	"submit": PermissionSubmit,
	"status": PermissionRead,
	"result": PermissionRead,
	"cancel": PermissionCancel,
}

// Mode 枚举鉴权方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
)

// Config 配置鉴权服务。
type Config struct {
	Mode   Mode        `json:"mode" yaml:"mode"`
	Tokens []TokenSeed `json:"tokens" yaml:"tokens"`
}

// Validate 检查模式与令牌配置。
func (c Config) Validate() error {
	switch c.Mode {
	case "", ModeDisabled:
		return nil
	case ModeToken:
	default:
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
	if len(c.Tokens) == 0 {
		return errors.New("token mode requires at least one token")
	}
	for i, seed := range c.Tokens {
		if strings.TrimSpace(seed.Name) == "" {
			return fmt.Errorf("token #%d has no name", i)
		}
		if seed.Token == "" && seed.TokenSHA256 == "" && seed.TokenEnv == "" {
			return fmt.Errorf("token %s needs token, token_sha256 or token_env", seed.Name)
		}
	}
	return nil
}

// TokenSeed 定义一个 API 令牌。三种来源按 TokenSHA256、Token、TokenEnv 的顺序取第一个非空值。
type TokenSeed struct {
	Name        string   `json:"name" yaml:"name"`
	Token       string   `json:"token" yaml:"token"`
	TokenSHA256 string   `json:"token_sha256" yaml:"token_sha256"`
	TokenEnv    string   `json:"token_env" yaml:"token_env"`
	Permissions []string `json:"permissions" yaml:"permissions"`
	Disabled    bool     `json:"disabled" yaml:"disabled"`
}

// Subject 是通过鉴权的调用方。
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断主体是否拥有指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet[PermissionAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 要求主体拥有全部权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Clone 返回副本，调用方修改不会影响存储中的主体。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		Name:        s.Name,
		Permissions: append([]string(nil), s.Permissions...),
		Disabled:    s.Disabled,
	}
	clone.normalise()
	return clone
}
