package domain

import "strings"

type Role string

const (
	RoleCustomer  Role = "CUSTOMER"
	RoleOrganizer Role = "ORGANIZER"
)

// DefaultRole is what an identity acts as until it switches.
const DefaultRole = RoleCustomer

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleOrganizer
}

// ParseRole accepts the canonical upper-case names, ignoring surrounding
// whitespace and case.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", false
	}
	return r, true
}
