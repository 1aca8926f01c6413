package domain

// AccessContext is who is asking: whether the identity provider recognised
// them, and the role they currently act as.
type AccessContext struct {
	SignedIn   bool
	IdentityID string
	Role       Role
}

type DenyReason string

const (
	ReasonNone             DenyReason = ""
	ReasonNotAuthenticated DenyReason = DenyReason(KindNotAuthenticated)
	ReasonRoleNotAllowed   DenyReason = DenyReason(KindRoleNotAllowed)
)

// Decision is the outcome of Authorize. CurrentRole is only set for
// ReasonRoleNotAllowed.
type Decision struct {
	Allowed     bool
	Reason      DenyReason
	CurrentRole Role
}

// Err returns nil for an allowed decision and the matching kind error otherwise.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonNotAuthenticated:
		return ErrNotAuthenticated
	case ReasonRoleNotAllowed:
		return ErrRoleNotAllowed
	}
	return nil
}

// Authorize admits ctx when it is signed in and acting as one of required.
// An empty required set admits no role.
func Authorize(ctx AccessContext, required ...Role) Decision {
	if !ctx.SignedIn {
		return Decision{Reason: ReasonNotAuthenticated}
	}
	for _, r := range required {
		if ctx.Role == r {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: ReasonRoleNotAllowed, CurrentRole: ctx.Role}
}
