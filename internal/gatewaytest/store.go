package gatewaytest

import (
	"database/sql"
	"strings"
	"time"

	// ARCHITECTURAL DISCOVERY: driver is only referenced through the DSN
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"chatdesk/pkg/types"
)

const schema = `
CREATE TABLE users (
	id                  TEXT PRIMARY KEY,
	full_name           TEXT NOT NULL,
	role                TEXT NOT NULL,
	status              TEXT NOT NULL,
	assigned_manager_id TEXT
);

CREATE TABLE messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id    TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	content      TEXT NOT NULL,
	sent_at      TEXT NOT NULL
);

CREATE INDEX idx_users_manager ON users(assigned_manager_id);
CREATE INDEX idx_messages_pair ON messages(sender_id, recipient_id);
`

// Store keeps the gateway's users and chat history in an in-memory SQLite
// database. Rows come back in insertion order, the same order the real
// gateway's repository returns them.
type Store struct {
	db *sql.DB
}

// NewStore opens an empty in-memory store.
func NewStore() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}

	// TECHNICAL DISCOVERY: every connection to ":memory:" is a separate
	// database, so the pool is pinned to one connection that never expires
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveUser registers a user as ONLINE and returns the stored record.
// A known user is only switched back to ONLINE; its assignments are kept.
// A new CUSTOMER without a manager is assigned to the manager that has the
// fewest customers.
func (s *Store) SaveUser(u types.UserRecord) (types.UserRecord, error) {
	_, known, err := s.User(u.ID)
	if err != nil {
		return types.UserRecord{}, err
	}

	if known {
		if _, err := s.db.Exec(`UPDATE users SET status = ? WHERE id = ?`, types.StatusOnline, u.ID); err != nil {
			return types.UserRecord{}, errors.Wrapf(err, "mark %s online", u.ID)
		}
	} else {
		var manager sql.NullString
		switch {
		case u.Role.Is(types.RoleManager):
			// managers are never assigned to anyone
		case u.Role.Is(types.RoleCustomer) && u.AssignedManagerID == "":
			id, found, err := s.leastLoadedManager()
			if err != nil {
				return types.UserRecord{}, err
			}
			manager = sql.NullString{String: id, Valid: found}
		case u.AssignedManagerID != "":
			manager = sql.NullString{String: u.AssignedManagerID, Valid: true}
		}

		_, err := s.db.Exec(
			`INSERT INTO users (id, full_name, role, status, assigned_manager_id) VALUES (?, ?, ?, ?, ?)`,
			u.ID, u.FullName, string(u.Role), types.StatusOnline, manager)
		if err != nil {
			return types.UserRecord{}, errors.Wrapf(err, "insert user %s", u.ID)
		}
	}

	stored, _, err := s.User(u.ID)
	return stored, err
}

func (s *Store) leastLoadedManager() (string, bool, error) {
	row := s.db.QueryRow(`
		SELECT m.id
		FROM users m
		LEFT JOIN users c ON c.assigned_manager_id = m.id
		WHERE upper(m.role) = 'MANAGER'
		GROUP BY m.id
		ORDER BY COUNT(c.id), MIN(m.rowid)
		LIMIT 1`)

	var id string
	switch err := row.Scan(&id); err {
	case nil:
		return id, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, errors.Wrap(err, "find manager")
	}
}

// Disconnect marks a known user OFFLINE. Unknown users are ignored.
func (s *Store) Disconnect(id string) (types.UserRecord, bool, error) {
	res, err := s.db.Exec(`UPDATE users SET status = ? WHERE id = ?`, types.StatusOffline, id)
	if err != nil {
		return types.UserRecord{}, false, errors.Wrapf(err, "mark %s offline", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.UserRecord{}, false, nil
	}
	return s.User(id)
}

// User loads one user with its assigned customers.
func (s *Store) User(id string) (types.UserRecord, bool, error) {
	rows, err := s.query(`WHERE id = ?`, id)
	if err != nil {
		return types.UserRecord{}, false, err
	}
	if len(rows) == 0 {
		return types.UserRecord{}, false, nil
	}
	return rows[0], true, nil
}

// OnlineUsers lists ONLINE users in registration order.
func (s *Store) OnlineUsers() ([]types.UserRecord, error) {
	return s.query(`WHERE status = ?`, types.StatusOnline)
}

func (s *Store) query(where string, args ...interface{}) ([]types.UserRecord, error) {
	rows, err := s.db.Query(`SELECT id, full_name, role, status, assigned_manager_id FROM users `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query users")
	}

	var users []types.UserRecord
	for rows.Next() {
		var (
			u       types.UserRecord
			manager sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.FullName, &u.Role, &u.Status, &manager); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan user")
		}
		u.AssignedManagerID = manager.String
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate users")
	}

	// Customers are loaded after the cursor is closed; the pool has one connection.
	for i := range users {
		if !users[i].Role.Is(types.RoleManager) {
			continue
		}
		customers, err := s.customersOf(users[i].ID)
		if err != nil {
			return nil, err
		}
		users[i].AssignedCustomers = customers
	}
	return users, nil
}

func (s *Store) customersOf(managerID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM users WHERE assigned_manager_id = ? ORDER BY rowid`, managerID)
	if err != nil {
		return nil, errors.Wrap(err, "query customers")
	}
	defer rows.Close()

	customers := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan customer")
		}
		customers = append(customers, id)
	}
	return customers, rows.Err()
}

// SaveMessage appends a chat message to the history.
func (s *Store) SaveMessage(m types.ChatMessage) error {
	sentAt := ""
	if !m.Timestamp.IsZero() {
		sentAt = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (sender_id, recipient_id, content, sent_at) VALUES (?, ?, ?, ?)`,
		m.SenderID, m.RecipientID, m.Content, sentAt)
	return errors.Wrap(err, "insert message")
}

// Conversation returns the messages exchanged between a and b in both
// directions, oldest first.
func (s *Store) Conversation(a, b string) ([]types.ChatMessage, error) {
	rows, err := s.db.Query(`
		SELECT sender_id, recipient_id, content, sent_at
		FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY seq`, a, b, b, a)
	if err != nil {
		return nil, errors.Wrap(err, "query conversation")
	}
	defer rows.Close()

	messages := []types.ChatMessage{}
	for rows.Next() {
		var (
			m      types.ChatMessage
			sentAt string
		)
		if err := rows.Scan(&m.SenderID, &m.RecipientID, &m.Content, &sentAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if strings.TrimSpace(sentAt) != "" {
			t, err := time.Parse(time.RFC3339Nano, sentAt)
			if err != nil {
				return nil, errors.Wrapf(err, "parse sent_at %q", sentAt)
			}
			m.Timestamp = types.Timestamp{Time: t}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
