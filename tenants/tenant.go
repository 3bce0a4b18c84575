package tenants

// Tenant describes the organisation a session is bound to.
// The backend returns it with every login and refresh.
type Tenant struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Slug   string `json:"slug,omitempty"`   // URL-safe identifier (e.g., "acme")
	Domain string `json:"domain,omitempty"` // Primary domain (e.g., "acme.example.com")
}

// IsZero reports whether no tenant was provided.
func (t *Tenant) IsZero() bool {
	return t == nil || t.ID == ""
}
