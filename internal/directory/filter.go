// Package directory turns the gateway's user list into the roster the local
// identity is allowed to see.
package directory

import (
	"chatdesk/pkg/types"
)

// Filter applies role-based visibility to users, keeping their order.
//
// A MANAGER sees the users listed in its own record's assigned customers,
// and nothing when its own record is missing. A CUSTOMER sees its assigned
// manager when that manager is in the list, and nothing otherwise. Any
// other role sees the full list.
func Filter(identity types.Identity, users []types.UserRecord) []types.UserRecord {
	switch {
	case identity.IsManager():
		self, ok := find(users, identity.ID)
		if !ok {
			return nil
		}
		var visible []types.UserRecord
		for _, u := range users {
			if self.HasCustomer(u.ID) {
				visible = append(visible, u)
			}
		}
		return visible

	case identity.IsCustomer():
		self, ok := find(users, identity.ID)
		if !ok || self.AssignedManagerID == "" {
			return nil
		}
		if manager, ok := find(users, self.AssignedManagerID); ok {
			return []types.UserRecord{manager}
		}
		return nil

	default:
		return append([]types.UserRecord(nil), users...)
	}
}

func find(users []types.UserRecord, id string) (types.UserRecord, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return types.UserRecord{}, false
}
