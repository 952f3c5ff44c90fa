package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peternagy/espal/internal/core"
	"github.com/peternagy/espal/internal/credential"
	"github.com/peternagy/espal/internal/debug"
	"github.com/peternagy/espal/internal/guard"
	"github.com/peternagy/espal/internal/types"
)

// ConnectionService owns connection profiles and the encryption boundary:
// passwords are encrypted before they are written and only decrypted when
// credentials are resolved for a client.
type ConnectionService struct {
	store  *Store
	cipher *credential.Cipher
}

// NewConnectionService creates a new connection service.
func NewConnectionService(store *Store, cipher *credential.Cipher) *ConnectionService {
	return &ConnectionService{store: store, cipher: cipher}
}

const connectionColumns = `id, name, url, username, password, color, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (types.ConnectionProfile, error) {
	var (
		p                    types.ConnectionProfile
		username, password   sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.URL, &username, &password, &p.Color, &createdAt, &updatedAt); err != nil {
		return types.ConnectionProfile{}, err
	}
	p.Username = username.String
	p.Password = password.String

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.ConnectionProfile{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.ConnectionProfile{}, err
	}
	return p, nil
}

// List returns all profiles ordered by name.
func (s *ConnectionService) List(ctx context.Context) ([]types.ConnectionProfile, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	profiles := []types.ConnectionProfile{}
	for rows.Next() {
		p, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Get returns one profile. The password is the stored token.
func (s *ConnectionService) Get(ctx context.Context, id int64) (types.ConnectionProfile, error) {
	p, err := scanConnection(s.store.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.ConnectionProfile{}, ErrNotFound
	}
	if err != nil {
		return types.ConnectionProfile{}, fmt.Errorf("getting connection %d: %w", id, err)
	}
	return p, nil
}

// Create validates and inserts a profile. Credentials embedded in the URL are
// moved into the username and password fields unless supplied explicitly.
func (s *ConnectionService) Create(ctx context.Context, in types.ConnectionInput) (types.ConnectionProfile, error) {
	id, err := s.insert(ctx, s.store.db, in)
	if err != nil {
		return types.ConnectionProfile{}, err
	}
	return s.Get(ctx, id)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *ConnectionService) insert(ctx context.Context, db execer, in types.ConnectionInput) (int64, error) {
	cleanURL, urlUser, urlPass := credential.ExtractCredentialsFromURL(strings.TrimSpace(in.URL))
	if in.Username == "" {
		in.Username = urlUser
	}
	if in.Password == "" {
		in.Password = urlPass
	}
	in.Name = strings.TrimSpace(in.Name)
	in.URL = cleanURL

	if err := guard.ValidateConnectionInput(in.Name, in.URL); err != nil {
		return 0, err
	}

	token, err := s.seal(in.Password)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO connections (name, url, username, password, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.URL, nullString(in.Username), nullString(token), in.Color, formatTime(now), formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting connection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading connection id: %w", err)
	}

	debug.Log(debug.CategoryStorage, "Connection created", map[string]interface{}{
		"id":   id,
		"name": in.Name,
	})
	return id, nil
}

// Update applies a partial update. Omitted fields keep their stored value.
// The password is replaced only when a new one is supplied, cleared when it
// is explicitly empty, and otherwise kept as the existing token.
func (s *ConnectionService) Update(ctx context.Context, id int64, patch types.ConnectionPatch) (types.ConnectionProfile, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return types.ConnectionProfile{}, err
	}

	next := existing
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Username != nil {
		next.Username = *patch.Username
	}
	if patch.Color != nil {
		next.Color = *patch.Color
	}

	password := patch.Password
	// Echoing the mask from a read keeps the stored password.
	if password.Set && password.Value == types.PasswordMask {
		password = types.OptionalString{}
	}
	if patch.URL != nil {
		cleanURL, urlUser, urlPass := credential.ExtractCredentialsFromURL(strings.TrimSpace(*patch.URL))
		next.URL = cleanURL
		if urlUser != "" && patch.Username == nil {
			next.Username = urlUser
		}
		if urlPass != "" && !password.Set {
			password = types.Some(urlPass)
		}
	}

	if err := guard.ValidateConnectionInput(next.Name, next.URL); err != nil {
		return types.ConnectionProfile{}, err
	}

	if password.Set {
		next.Password, err = s.seal(password.Value)
		if err != nil {
			return types.ConnectionProfile{}, err
		}
	}

	next.UpdatedAt = time.Now().UTC()
	if _, err := s.store.db.ExecContext(ctx, `
		UPDATE connections
		SET name = ?, url = ?, username = ?, password = ?, color = ?, updated_at = ?
		WHERE id = ?`,
		next.Name, next.URL, nullString(next.Username), nullString(next.Password), next.Color,
		formatTime(next.UpdatedAt), id,
	); err != nil {
		return types.ConnectionProfile{}, fmt.Errorf("updating connection %d: %w", id, err)
	}

	debug.Log(debug.CategoryStorage, "Connection updated", map[string]interface{}{
		"id":              id,
		"passwordChanged": password.Set,
	})
	return s.Get(ctx, id)
}

// Delete removes a profile. It reports false, not an error, when the
// profile did not exist.
func (s *ConnectionService) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting connection %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting connection %d: %w", id, err)
	}
	return n > 0, nil
}

// Credentials resolves a saved profile into plaintext client credentials.
func (s *ConnectionService) Credentials(ctx context.Context, id int64) (types.Credentials, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return types.Credentials{}, err
	}
	return types.Credentials{
		ID:       &p.ID,
		Name:     p.Name,
		Color:    p.Color,
		URL:      p.URL,
		Username: p.Username,
		Password: s.cipher.Reveal(credential.ParseSecret(p.Password)),
	}, nil
}

// MigrateLegacyPasswords encrypts every password still stored as plaintext.
// Returns the number of profiles rewritten.
func (s *ConnectionService) MigrateLegacyPasswords(ctx context.Context) (int, error) {
	profiles, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, p := range profiles {
		if p.Password == "" || credential.ParseSecret(p.Password).IsEncrypted() {
			continue
		}
		token, err := s.seal(p.Password)
		if err != nil {
			return migrated, err
		}
		if _, err := s.store.db.ExecContext(ctx,
			`UPDATE connections SET password = ? WHERE id = ?`, token, p.ID); err != nil {
			return migrated, fmt.Errorf("migrating password for connection %d: %w", p.ID, err)
		}
		migrated++
	}

	debug.Info(debug.CategoryStorage, "Legacy passwords migrated", map[string]interface{}{
		"count": migrated,
	})
	return migrated, nil
}

// exportedProfile is one profile inside an export bundle, with its
// password in plaintext. The bundle itself is encrypted.
type exportedProfile struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Color    string `json:"color,omitempty"`
}

// Export seals every profile into a share bundle. The returned key is the
// only way to open it.
func (s *ConnectionService) Export(ctx context.Context) (bundle, key string, err error) {
	profiles, err := s.List(ctx)
	if err != nil {
		return "", "", err
	}

	exported := make([]exportedProfile, 0, len(profiles))
	for _, p := range profiles {
		exported = append(exported, exportedProfile{
			Name:     p.Name,
			URL:      p.URL,
			Username: p.Username,
			Password: s.cipher.Reveal(credential.ParseSecret(p.Password)),
			Color:    p.Color,
		})
	}

	data, err := json.Marshal(exported)
	if err != nil {
		return "", "", fmt.Errorf("marshalling profiles: %w", err)
	}
	return credential.SealBundle(data)
}

// Import opens a share bundle and creates each profile it holds, all or
// nothing. Passwords are re-encrypted with this instance's cipher.
func (s *ConnectionService) Import(ctx context.Context, bundle, key string) (int, error) {
	data, err := credential.OpenBundle(bundle, key)
	if err != nil {
		return 0, core.Validationf(core.ErrImportBundleInvalid, "%v", err)
	}

	var profiles []exportedProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return 0, core.Validationf(core.ErrImportBundleInvalid, "%v", err)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting import: %w", err)
	}
	defer tx.Rollback()

	for _, p := range profiles {
		if _, err := s.insert(ctx, tx, types.ConnectionInput{
			Name:     p.Name,
			URL:      p.URL,
			Username: p.Username,
			Password: p.Password,
			Color:    p.Color,
		}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return len(profiles), nil
}

// seal encrypts a non-empty password; an empty one stays empty.
func (s *ConnectionService) seal(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	token, err := s.cipher.Encrypt(password)
	if err != nil {
		return "", fmt.Errorf("encrypting password: %w", err)
	}
	return token, nil
}
