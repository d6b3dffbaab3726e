// Package auth resolves bearer tokens to users and their roles.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RoleReader may read result tables.
const RoleReader = "reader"

var (
	ErrUnknownToken = errors.New("unknown token")
	ErrUnknownUser  = errors.New("unknown user")
)

type RoleManager interface {
	HasRole(username, role string) bool
}

type UserManager interface {
	GetUser(username string) (User, error)
}

// Authenticator maps a bearer token to a username.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

type User struct {
	Username string
	Roles    []string
}

// Static is a fixed set of users and tokens. It implements Authenticator,
// RoleManager and UserManager.
type Static struct {
	users  map[string]User
	tokens map[string]string
}

// ParseTokens builds a Static from entries of the form
// "token=user:role1,role2". A user named in several entries collects the
// roles of all of them.
func ParseTokens(entries []string) (*Static, error) {
	s := &Static{users: make(map[string]User), tokens: make(map[string]string)}
	for _, entry := range entries {
		token, rest, ok := strings.Cut(entry, "=")
		if !ok || token == "" {
			return nil, fmt.Errorf("malformed token entry %q", entry)
		}
		name, roles, _ := strings.Cut(rest, ":")
		if name == "" {
			return nil, fmt.Errorf("token entry %q names no user", entry)
		}
		if _, dup := s.tokens[token]; dup {
			return nil, fmt.Errorf("duplicate token for user %q", name)
		}
		s.tokens[token] = name

		u := s.users[name]
		u.Username = name
		for _, r := range strings.Split(roles, ",") {
			if r = strings.TrimSpace(r); r != "" && !contains(u.Roles, r) {
				u.Roles = append(u.Roles, r)
			}
		}
		sort.Strings(u.Roles)
		s.users[name] = u
	}
	return s, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Len returns the number of configured tokens.
func (s *Static) Len() int { return len(s.tokens) }

func (s *Static) Authenticate(token string) (string, error) {
	name, ok := s.tokens[token]
	if !ok {
		return "", ErrUnknownToken
	}
	return name, nil
}

func (s *Static) GetUser(username string) (User, error) {
	u, ok := s.users[username]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return u, nil
}

func (s *Static) HasRole(username, role string) bool {
	u, ok := s.users[username]
	return ok && contains(u.Roles, role)
}
