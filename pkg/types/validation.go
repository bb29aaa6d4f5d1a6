package types

// Validate ensures the identity can be used to connect.
// FUNCTIONAL DISCOVERY: only emptiness is checked; the gateway accepts any
// non-empty id
func (i Identity) Validate() error {
	if i.ID == "" || i.FullName == "" {
		return ErrIncompleteIdentity
	}
	return nil
}

// IsManager reports whether the identity sees assigned customers only.
func (i Identity) IsManager() bool {
	return i.Role.Is(RoleManager)
}

// IsCustomer reports whether the identity sees its assigned manager only.
func (i Identity) IsCustomer() bool {
	return i.Role.Is(RoleCustomer)
}
