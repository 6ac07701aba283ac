package models

// Capabilities are the role-derived flags exposed to consumers.
type Capabilities struct {
	Admin  bool
	Editor bool
	Author bool
}

var roleCapabilities = map[Role]Capabilities{
	RoleAdmin:  {Admin: true, Editor: true, Author: true},
	RoleEditor: {Editor: true, Author: true},
	RoleAuthor: {Author: true},
	RoleReader: {},
}

// CapabilitiesFor returns the flags granted by role. Unknown roles get none.
func CapabilitiesFor(role Role) Capabilities {
	return roleCapabilities[role]
}

// CapabilitiesOf is CapabilitiesFor on a possibly nil user.
func CapabilitiesOf(u *User) Capabilities {
	if u == nil {
		return Capabilities{}
	}
	return CapabilitiesFor(u.Role)
}
