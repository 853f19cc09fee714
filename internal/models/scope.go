package models

import "fmt"

type scopeKind uint8

const (
	scopeBot scopeKind = iota + 1
	scopeTenant
)

// Scope restricts a storage or retrieval query to one bot, or to the
// legacy tenant-wide rows that have no bot. The zero value is invalid.
type Scope struct {
	kind scopeKind
	id   int64
}

func ByBot(botID int64) Scope {
	return Scope{kind: scopeBot, id: botID}
}

// ByTenant matches only rows of the tenant that carry no bot id.
func ByTenant(tenantID int64) Scope {
	return Scope{kind: scopeTenant, id: tenantID}
}

func (s Scope) BotID() (int64, bool) {
	return s.id, s.kind == scopeBot
}

func (s Scope) TenantID() (int64, bool) {
	return s.id, s.kind == scopeTenant
}

func (s Scope) Valid() bool {
	return s.kind != 0 && s.id > 0
}

// Matches reports whether a row with the given owner falls inside the scope.
func (s Scope) Matches(tenantID int64, botID *int64) bool {
	switch s.kind {
	case scopeBot:
		return botID != nil && *botID == s.id
	case scopeTenant:
		return botID == nil && tenantID == s.id
	}
	return false
}

func (s Scope) String() string {
	switch s.kind {
	case scopeBot:
		return fmt.Sprintf("bot:%d", s.id)
	case scopeTenant:
		return fmt.Sprintf("tenant:%d", s.id)
	}
	return "invalid"
}
