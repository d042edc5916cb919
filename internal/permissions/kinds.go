package permissions

// Kind names a capability a role may hold. The set is closed; unknown values
// are rejected before they reach the store.
type Kind string

const (
	// KindAppAccess gates reaching the application at all.
	KindAppAccess Kind = "APP_ACCESS"
	// KindCreateRequests allows submitting change and access requests.
	KindCreateRequests Kind = "CREATE_REQUESTS"
	// KindApproveGlossary allows deciding metadata change requests.
	KindApproveGlossary Kind = "APPROVE_GLOSSARY"
	// KindApproveDataAccess allows deciding data access requests.
	KindApproveDataAccess Kind = "APPROVE_DATA_ACCESS"
	// KindManageRoles allows managing role permission assignments and
	// provisioning role infrastructure access.
	KindManageRoles Kind = "MANAGE_ROLES"
)

// All returns every permission kind in a stable order.
func All() []Kind {
	return []Kind{
		KindAppAccess,
		KindCreateRequests,
		KindApproveGlossary,
		KindApproveDataAccess,
		KindManageRoles,
	}
}

// Valid reports whether the kind is part of the closed set.
func (k Kind) Valid() bool {
	switch k {
	case KindAppAccess, KindCreateRequests, KindApproveGlossary,
		KindApproveDataAccess, KindManageRoles:
		return true
	}
	return false
}
