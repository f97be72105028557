package models

// Tenant is the caller identity resolved by the authentication layer:
// the user plus the organization the request is scoped to.
type Tenant struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	OrgID    string `json:"org_id"`
	OrgSlug  string `json:"org_slug"`
	OrgName  string `json:"org_name,omitempty"`
	OrgEmail string `json:"org_email,omitempty"`
}

// QuotaKey returns the subscriber email the tenant's quota is tracked under.
// Organizations with a billing email share one allowance across members.
func (t Tenant) QuotaKey() string {
	if t.OrgEmail != "" {
		return t.OrgEmail
	}
	return t.Email
}
