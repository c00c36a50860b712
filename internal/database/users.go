package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parley-labs/parley-node/internal/relay"
	"github.com/parley-labs/parley-node/internal/utils"
)

const defaultBcryptCost = 10

// UserManager handles the users table: registration, credential
// verification and directory lookups. It implements relay.UserDirectory.
type UserManager struct {
	db         *sql.DB
	bcryptCost int
	logger     *utils.LogsManager
}

// NewUserManager creates a user manager and ensures the users table exists
func NewUserManager(db *sql.DB, cm *utils.ConfigManager, logger *utils.LogsManager) (*UserManager, error) {
	um := &UserManager{
		db:         db,
		bcryptCost: cm.GetConfigInt("bcrypt_cost", defaultBcryptCost, bcrypt.MinCost, bcrypt.MaxCost),
		logger:     logger,
	}

	if err := um.initTable(); err != nil {
		return nil, err
	}

	return um, nil
}

func (um *UserManager) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		avatar_ref TEXT DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	`

	if _, err := um.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create users table: %v", err)
	}

	um.logger.Info("users table initialized", "database")
	return nil
}

// Register creates a new identity with a bcrypt-hashed password.
// A username collision returns relay.ErrDuplicateIdentity.
func (um *UserManager) Register(username, password string) (relay.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return relay.Identity{}, fmt.Errorf("username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), um.bcryptCost)
	if err != nil {
		return relay.Identity{}, fmt.Errorf("failed to hash password: %v", err)
	}

	result, err := um.db.Exec(
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, string(hash), time.Now().Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return relay.Identity{}, relay.ErrDuplicateIdentity
		}
		return relay.Identity{}, fmt.Errorf("failed to insert user: %v", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return relay.Identity{}, fmt.Errorf("failed to read user id: %v", err)
	}

	um.logger.Info(fmt.Sprintf("Created user %d (%s)", id, username), "database")

	return relay.Identity{ID: id, DisplayName: username}, nil
}

// Authenticate verifies username/password; any mismatch (unknown user
// or wrong password) returns relay.ErrAuthenticationFailed.
func (um *UserManager) Authenticate(username, password string) (relay.Identity, error) {
	var (
		identity relay.Identity
		hash     string
	)

	err := um.db.QueryRow(
		"SELECT id, username, password_hash, avatar_ref FROM users WHERE username = ?",
		strings.TrimSpace(username),
	).Scan(&identity.ID, &identity.DisplayName, &hash, &identity.AvatarRef)
	if err == sql.ErrNoRows {
		return relay.Identity{}, relay.ErrAuthenticationFailed
	}
	if err != nil {
		return relay.Identity{}, fmt.Errorf("failed to query user: %v", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return relay.Identity{}, relay.ErrAuthenticationFailed
	}

	return identity, nil
}

// Get resolves an identity by id; relay.ErrNotFound if absent
func (um *UserManager) Get(id int64) (relay.Identity, error) {
	var identity relay.Identity

	err := um.db.QueryRow(
		"SELECT id, username, avatar_ref FROM users WHERE id = ?",
		id,
	).Scan(&identity.ID, &identity.DisplayName, &identity.AvatarRef)
	if err == sql.ErrNoRows {
		return relay.Identity{}, relay.ErrNotFound
	}
	if err != nil {
		return relay.Identity{}, fmt.Errorf("failed to query user %d: %v", id, err)
	}

	return identity, nil
}

// GetByUsername resolves an identity by username; relay.ErrNotFound if absent
func (um *UserManager) GetByUsername(username string) (relay.Identity, error) {
	var identity relay.Identity

	err := um.db.QueryRow(
		"SELECT id, username, avatar_ref FROM users WHERE username = ?",
		strings.TrimSpace(username),
	).Scan(&identity.ID, &identity.DisplayName, &identity.AvatarRef)
	if err == sql.ErrNoRows {
		return relay.Identity{}, relay.ErrNotFound
	}
	if err != nil {
		return relay.Identity{}, fmt.Errorf("failed to query user %q: %v", username, err)
	}

	return identity, nil
}

// Search does a case-insensitive substring match over usernames,
// excluding excludeID, capped at limit results ordered by username.
func (um *UserManager) Search(query string, excludeID int64, limit int) ([]relay.Identity, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	rows, err := um.db.Query(
		`SELECT id, username, avatar_ref FROM users
		 WHERE LOWER(username) LIKE ? AND id != ?
		 ORDER BY username ASC LIMIT ?`,
		pattern, excludeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %v", err)
	}
	defer rows.Close()

	var identities []relay.Identity
	for rows.Next() {
		var identity relay.Identity
		if err := rows.Scan(&identity.ID, &identity.DisplayName, &identity.AvatarRef); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %v", err)
		}
		identities = append(identities, identity)
	}

	return identities, rows.Err()
}

// SetAvatar updates the avatar blob reference for an identity
func (um *UserManager) SetAvatar(id int64, ref string) error {
	result, err := um.db.Exec("UPDATE users SET avatar_ref = ? WHERE id = ?", ref, id)
	if err != nil {
		return fmt.Errorf("failed to update avatar: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %v", err)
	}
	if affected == 0 {
		return relay.ErrNotFound
	}
	return nil
}
