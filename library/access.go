package library

// Operation names an action guarded by the capability table.
type Operation string

const (
	OpViewCatalog      Operation = "view_catalog"
	OpCheckout         Operation = "checkout"
	OpReturn           Operation = "return"
	OpViewOwnHistory   Operation = "view_own_history"
	OpManageProfile    Operation = "manage_profile"
	OpManageBooks      Operation = "manage_books"
	OpCheckoutOnBehalf Operation = "checkout_on_behalf"
	OpReturnAny        Operation = "return_any"
	OpViewBookHistory  Operation = "view_book_history"
	OpViewUserHistory  Operation = "view_user_history"
	OpViewAllHistory   Operation = "view_all_history"
	OpViewDashboard    Operation = "view_dashboard"
	OpManageUsers      Operation = "manage_users"
	OpViewAudit        Operation = "view_audit"
	OpReconcile        Operation = "reconcile"
)

var (
	everyone = []Role{RoleAdmin, RoleLibrarian, RoleMember, RoleUser}
	staff    = []Role{RoleAdmin, RoleLibrarian}
	admins   = []Role{RoleAdmin}
)

// capabilities maps each operation to the roles allowed to perform it.
// Operations missing from the table are denied.
var capabilities = map[Operation][]Role{
	OpViewCatalog:      everyone,
	OpCheckout:         everyone,
	OpReturn:           everyone,
	OpViewOwnHistory:   everyone,
	OpManageProfile:    everyone,
	OpManageBooks:      staff,
	OpCheckoutOnBehalf: staff,
	OpReturnAny:        staff,
	OpViewBookHistory:  staff,
	OpViewUserHistory:  admins,
	OpViewAllHistory:   admins,
	OpViewDashboard:    admins,
	OpManageUsers:      admins,
	OpViewAudit:        admins,
	OpReconcile:        admins,
}

// Allows reports whether role may perform op.
func (r Role) Allows(op Operation) bool {
	for _, allowed := range capabilities[op] {
		if r == allowed {
			return true
		}
	}
	return false
}

// Authorize checks the role recorded in the caller's session. It never
// touches the session itself.
func Authorize(p *Principal, op Operation) error {
	if p == nil {
		return ErrUnauthorized
	}
	if !p.Role.Allows(op) {
		return ErrForbidden
	}
	return nil
}

// AuthorizeUserHistory lets a user read their own history and admins read
// anyone's.
func AuthorizeUserHistory(p *Principal, userID int64) error {
	if p != nil && p.UserID == userID {
		return Authorize(p, OpViewOwnHistory)
	}
	return Authorize(p, OpViewUserHistory)
}
