package authz

import (
	"sort"
	"strings"
)

// The mirror is the session-held projection of a compiled permission set that
// front ends use for show/hide gating. It must answer membership questions
// exactly like the server compiler; any divergence makes the UI promise
// actions the API will reject.

// SimplifiedGrant is the flattened permission shape served to clients:
// one module key plus the actions allowed on it.
type SimplifiedGrant struct {
	Module  string   `json:"module"`
	Actions []string `json:"actions"`
}

// Legacy nested permission shape kept for sessions minted by older clients.
type (
	LegacyAccessGroup struct {
		Roles []LegacyRole `json:"roles"`
	}
	LegacyRole struct {
		Modules []LegacyModule `json:"modules"`
	}
	LegacyModule struct {
		Key        string   `json:"key"`
		Operations []string `json:"operations"`
	}
)

// MirrorInput carries the two supported wire shapes. Permissions (the
// simplified shape) wins when present; AccessGroups is the legacy fallback.
type MirrorInput struct {
	Permissions  []SimplifiedGrant   `json:"permissions,omitempty"`
	AccessGroups []LegacyAccessGroup `json:"accessGroups,omitempty"`
}

// Mirror is a read-only projection of a compiled permission set. It is
// rebuilt wholesale by SetPermissions, never partially patched.
type Mirror struct {
	set PermissionSet
}

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{set: make(PermissionSet)}
}

// SetPermissions replaces the mirror contents from either supported shape,
// normalizing into one canonical set at ingestion so query calls never branch
// on shape.
func (m *Mirror) SetPermissions(input MirrorInput) {
	set := make(PermissionSet)
	switch {
	case len(input.Permissions) > 0:
		for _, grant := range input.Permissions {
			ingestGrant(set, grant.Module, grant.Actions)
		}
	default:
		for _, group := range input.AccessGroups {
			for _, role := range group.Roles {
				for _, module := range role.Modules {
					ingestGrant(set, module.Key, module.Operations)
				}
			}
		}
	}
	m.set = set
}

// SetCompiled replaces the mirror contents from raw compiled tokens.
func (m *Mirror) SetCompiled(tokens []string) {
	m.set = NewPermissionSet(tokens...)
}

// HasModule reports whether the bare module token is held. Holding only
// qualified "MODULE:OPERATION" tokens does not satisfy a bare module check,
// matching the server's membership rule.
func (m *Mirror) HasModule(key string) bool {
	return m.set.Has(Token(key, ""))
}

// CanPerform reports whether the qualified module:operation token is held.
func (m *Mirror) CanPerform(key, operation string) bool {
	if NormalizeToken(operation) == "" {
		return m.HasModule(key)
	}
	return m.set.Has(Token(key, operation))
}

// AccessibleModules returns the module keys holding a bare module token,
// sorted. Used for navigation visibility.
func (m *Mirror) AccessibleModules() []string {
	return m.set.Modules()
}

// Grants renders the mirror as the simplified shape for serialization back to
// clients. Modules held only through qualified tokens are included so no
// grant is lost on the wire.
func (m *Mirror) Grants() []SimplifiedGrant {
	byModule := make(map[string]PermissionSet)
	for token := range m.set {
		module, action := token, ""
		if i := strings.IndexByte(token, ':'); i >= 0 {
			module, action = token[:i], token[i+1:]
		}
		if _, ok := byModule[module]; !ok {
			byModule[module] = make(PermissionSet)
		}
		if action != "" {
			byModule[module].Add(action)
		}
	}

	modules := make([]string, 0, len(byModule))
	for module := range byModule {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	grants := make([]SimplifiedGrant, 0, len(modules))
	for _, module := range modules {
		grants = append(grants, SimplifiedGrant{Module: module, Actions: byModule[module].Tokens()})
	}
	return grants
}

func ingestGrant(set PermissionSet, module string, actions []string) {
	if NormalizeToken(module) == "" {
		return
	}
	set.Add(Token(module, ""))
	for _, action := range actions {
		if NormalizeToken(action) == "" {
			continue
		}
		set.Add(Token(module, action))
	}
}
