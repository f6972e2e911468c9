package config

import (
	"net/url"
	"slices"
	"strings"
)

// Sanitize returns a copy of cfg that is safe to print: the Redis password
// is masked and credentials embedded in a Redis URL are removed. The copy
// shares no slices with cfg.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	out.Server.HTTP.CORSAllowedOrigins = slices.Clone(cfg.Server.HTTP.CORSAllowedOrigins)
	out.Server.WS.AllowedOrigins = slices.Clone(cfg.Server.WS.AllowedOrigins)

	redis := &out.Presence.Redis
	if redis.Password != "" {
		redis.Password = maskSecret(redis.Password)
	}
	redis.Addr = stripUserinfo(redis.Addr)
	return &out
}

// stripUserinfo masks the password of a redis:// or rediss:// address.
// host:port addresses are returned unchanged.
func stripUserinfo(addr string) string {
	if !strings.Contains(addr, "://") {
		return addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.User == nil {
		return addr
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

// maskSecret keeps the first and last two characters of s.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
