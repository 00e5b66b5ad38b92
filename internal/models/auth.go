package models

import "fmt"

// AuthKind enumerates the recognized credential shapes. The kind
// determines which source operations are permitted and whether a
// separate authenticate step runs.
type AuthKind string

const (
	AuthAnon    AuthKind = "anon"
	AuthKey     AuthKind = "key"
	AuthUserKey AuthKind = "userkey"
	AuthLogin   AuthKind = "login"
	AuthToken   AuthKind = "token"
	AuthVhost   AuthKind = "vhost"
)

// Auth is a source's authentication profile as loaded from the source
// configuration file. Only the fields relevant to Kind are set.
type Auth struct {
	Kind     AuthKind `toml:"kind"`
	APIKey   string   `toml:"api_key,omitempty"`
	UserKey  string   `toml:"user_key,omitempty"`
	Username string   `toml:"username,omitempty"`
	Password string   `toml:"password,omitempty"`
	Token    string   `toml:"token,omitempty"`
	Vhost    string   `toml:"vhost,omitempty"`
}

const obfuscated = "*****"

// Obfuscate returns a copy safe for display, secrets replaced with a
// sentinel.
func (a Auth) Obfuscate() Auth {
	out := a
	if out.APIKey != "" {
		out.APIKey = obfuscated
	}
	if out.UserKey != "" {
		out.UserKey = obfuscated
	}
	if out.Password != "" {
		out.Password = obfuscated
	}
	if out.Token != "" {
		out.Token = obfuscated
	}
	return out
}

// String never shows secrets.
func (a Auth) String() string {
	switch a.Kind {
	case AuthAnon, "":
		return "anon"
	case AuthKey:
		return fmt.Sprintf("key(%s)", obfuscated)
	case AuthUserKey:
		return fmt.Sprintf("userkey(%s/%s)", a.Username, obfuscated)
	case AuthLogin:
		return fmt.Sprintf("login(%s/%s)", a.Username, obfuscated)
	case AuthToken:
		return fmt.Sprintf("token(%s/%s)", a.Username, obfuscated)
	case AuthVhost:
		return fmt.Sprintf("vhost(%s@%s)", a.Username, a.Vhost)
	default:
		return string(a.Kind)
	}
}
