package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store handles profile, assignment and admin persistence
type Store struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{db: db, logger: logger}
}

const profileSelect = `
	SELECT p.id, p.name, p.description, p.permissions, fa.id, fa.name
	FROM profiles p
	LEFT JOIN functional_areas fa ON fa.id = p.functional_area_id
`

// ListProfileAssignments returns every profile assigned to a principal
func (s *Store) ListProfileAssignments(ctx context.Context, principalID string) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, profileSelect+`
		JOIN profile_assignments pa ON pa.profile_id = p.id
		WHERE pa.principal_id = $1
		ORDER BY p.name
	`, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile assignments: %w", err)
	}
	defer rows.Close()

	return s.scanProfiles(rows)
}

// IsAdmin reports whether the principal holds the administrator designation
func (s *Store) IsAdmin(ctx context.Context, principalID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM admin_roles WHERE principal_id = $1",
		principalID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check admin role: %w", err)
	}
	return count > 0, nil
}

// UpsertFunctionalArea creates the area if missing and returns it
func (s *Store) UpsertFunctionalArea(ctx context.Context, name string) (*FunctionalArea, error) {
	if name == "" {
		return nil, fmt.Errorf("functional area name is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO functional_areas (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, uuid.NewString(), name)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert functional area: %w", err)
	}

	area := &FunctionalArea{Name: name}
	err = s.db.QueryRowContext(ctx, "SELECT id FROM functional_areas WHERE name = $1", name).Scan(&area.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load functional area: %w", err)
	}
	return area, nil
}

// UpsertProfile creates or replaces a profile by name. The profile's ID and
// functional area ID are filled in on success.
func (s *Store) UpsertProfile(ctx context.Context, profile *Profile) error {
	if profile.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	for _, p := range profile.Permissions {
		if !p.Valid() {
			return fmt.Errorf("%w: %q in profile %q", ErrUnknownPermission, p, profile.Name)
		}
	}

	var areaID sql.NullString
	if profile.FunctionalArea != nil && profile.FunctionalArea.Name != "" {
		area, err := s.UpsertFunctionalArea(ctx, profile.FunctionalArea.Name)
		if err != nil {
			return err
		}
		profile.FunctionalArea = area
		areaID = sql.NullString{String: area.ID, Valid: true}
	}

	perms := profile.Permissions
	if perms == nil {
		perms = []Permission{}
	}
	permissionsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, description, permissions, functional_area_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			permissions = excluded.permissions,
			functional_area_id = excluded.functional_area_id,
			updated_at = CURRENT_TIMESTAMP
	`, uuid.NewString(), profile.Name, profile.Description, string(permissionsJSON), areaID)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT id FROM profiles WHERE name = $1", profile.Name).Scan(&profile.ID); err != nil {
		return fmt.Errorf("failed to load profile id: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by name
func (s *Store) GetProfile(ctx context.Context, name string) (*Profile, error) {
	rows, err := s.db.QueryContext(ctx, profileSelect+" WHERE p.name = $1", name)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	defer rows.Close()

	profiles, err := s.scanProfiles(rows)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, ErrProfileNotFound
	}
	return &profiles[0], nil
}

// ListProfiles returns every profile ordered by name
func (s *Store) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, profileSelect+" ORDER BY p.name")
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	return s.scanProfiles(rows)
}

// AssignProfile grants a profile to a principal. Assigning twice is a no-op.
func (s *Store) AssignProfile(ctx context.Context, principalID, profileName string) error {
	profileID, err := s.profileID(ctx, profileName)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profile_assignments (principal_id, profile_id) VALUES ($1, $2)
		ON CONFLICT (principal_id, profile_id) DO NOTHING
	`, principalID, profileID)
	if err != nil {
		return fmt.Errorf("failed to assign profile: %w", err)
	}
	return nil
}

// RevokeProfile removes a profile from a principal
func (s *Store) RevokeProfile(ctx context.Context, principalID, profileName string) error {
	profileID, err := s.profileID(ctx, profileName)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM profile_assignments WHERE principal_id = $1 AND profile_id = $2",
		principalID, profileID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke profile: %w", err)
	}
	return nil
}

// GrantAdmin designates a principal as administrator
func (s *Store) GrantAdmin(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO admin_roles (principal_id) VALUES ($1) ON CONFLICT (principal_id) DO NOTHING",
		principalID,
	)
	if err != nil {
		return fmt.Errorf("failed to grant admin role: %w", err)
	}
	return nil
}

// RevokeAdmin removes the administrator designation
func (s *Store) RevokeAdmin(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM admin_roles WHERE principal_id = $1", principalID)
	if err != nil {
		return fmt.Errorf("failed to revoke admin role: %w", err)
	}
	return nil
}

func (s *Store) profileID(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM profiles WHERE name = $1", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up profile: %w", err)
	}
	return id, nil
}

// scanProfiles reads profileSelect rows. Stored tokens outside the catalog
// are dropped with a warning.
func (s *Store) scanProfiles(rows *sql.Rows) ([]Profile, error) {
	var profiles []Profile
	for rows.Next() {
		var (
			profile         Profile
			permissionsJSON []byte
			areaID          sql.NullString
			areaName        sql.NullString
		)
		if err := rows.Scan(&profile.ID, &profile.Name, &profile.Description, &permissionsJSON, &areaID, &areaName); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}

		var tokens []string
		if len(permissionsJSON) > 0 {
			if err := json.Unmarshal(permissionsJSON, &tokens); err != nil {
				return nil, fmt.Errorf("failed to unmarshal permissions of profile %q: %w", profile.Name, err)
			}
		}
		profile.Permissions = make([]Permission, 0, len(tokens))
		for _, token := range tokens {
			p := Permission(token)
			if !p.Valid() {
				s.logger.WithFields(logrus.Fields{
					"profile":    profile.Name,
					"permission": token,
				}).Warn("ignoring unknown permission stored in profile")
				continue
			}
			profile.Permissions = append(profile.Permissions, p)
		}

		if areaID.Valid {
			profile.FunctionalArea = &FunctionalArea{ID: areaID.String, Name: areaName.String}
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}
