package types

import (
	"strings"
)

// Logical destinations understood by the gateway. Transports map them onto
// their own naming through config.ChannelConfig.
const (
	DestinationAddUser        = "user.addUser"
	DestinationDisconnectUser = "user.disconnectUser"
	DestinationChat           = "chat"
)

// Role is the user's role as reported by the directory.
// FUNCTIONAL DISCOVERY: roles other than MANAGER and CUSTOMER are legal and
// see the unfiltered directory
type Role string

const (
	RoleManager  Role = "MANAGER"
	RoleCustomer Role = "CUSTOMER"
)

// Is compares roles case-insensitively, the way the gateway stores them.
func (r Role) Is(other Role) bool {
	return strings.EqualFold(string(r), string(other))
}

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// Identity is the local user for the lifetime of one connection.
// ARCHITECTURAL DISCOVERY: held by value inside the session context so no
// component can mutate it after connect
type Identity struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Role     Role   `json:"role"`
}

// NewIdentity builds an identity from raw form input.
func NewIdentity(id, fullName, role string) Identity {
	return Identity{
		ID:       strings.TrimSpace(id),
		FullName: strings.TrimSpace(fullName),
		Role:     Role(strings.TrimSpace(role)),
	}
}

// UserRecord is one entry of the external directory.
type UserRecord struct {
	ID                string   `json:"id"`
	FullName          string   `json:"fullName"`
	Role              Role     `json:"role"`
	Status            Status   `json:"status"`
	AssignedCustomers []string `json:"assignedCustomers,omitempty"`
	AssignedManagerID string   `json:"assignedManagerId,omitempty"`
}

// HasCustomer reports whether id is among the manager's assigned customers.
func (u UserRecord) HasCustomer(id string) bool {
	for _, c := range u.AssignedCustomers {
		if c == id {
			return true
		}
	}
	return false
}

// ChatMessage is a one-to-one chat message as carried on the wire.
type ChatMessage struct {
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Timestamp   Timestamp `json:"timestamp"`
}

// PresenceEvent announces a status change to the gateway.
type PresenceEvent struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Role     Role   `json:"role,omitempty"`
	Status   Status `json:"status"`
}

// JoinEvent is the ONLINE announcement for an identity.
func JoinEvent(id Identity) PresenceEvent {
	return PresenceEvent{ID: id.ID, FullName: id.FullName, Role: id.Role, Status: StatusOnline}
}

// LeaveEvent is the OFFLINE announcement for an identity. The gateway does
// not expect the role on leave.
func LeaveEvent(id Identity) PresenceEvent {
	return PresenceEvent{ID: id.ID, FullName: id.FullName, Status: StatusOffline}
}

// DirectoryEntry is one rendered roster row.
type DirectoryEntry struct {
	User   UserRecord
	Active bool
	Unread bool
}

// RenderedMessage is one rendered conversation line.
type RenderedMessage struct {
	SenderID  string
	Content   string
	Timestamp Timestamp
	Own       bool
}
