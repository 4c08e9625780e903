package storage

import (
	"context"
	"database/sql"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

const profileColumns = `profile_id, created_time_ms, profile_name, private_key, public_key, following, profile_image`

// InsertProfile stores p. A duplicate name or public key yields (nil, nil).
func (s *Store) InsertProfile(ctx context.Context, p models.Profile) (*int64, error) {
	info := p.Info()
	var priv []byte
	if sp, ok := p.(models.SigningProfile); ok {
		priv = sp.PrivateKey[:]
	}
	return s.insertReturningID(ctx, "store.InsertProfile.QueryRow: ",
		`INSERT INTO profile (created_time_ms, profile_name, private_key, public_key, following, profile_image)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING RETURNING profile_id`,
		s.nowMs(), info.Name, nullableBytes(priv), info.PubKey[:], info.Following, nullableBytes(info.Image))
}

func (s *Store) GetProfile(ctx context.Context, id int64) (models.Profile, error) {
	return s.getProfile(ctx, "store.GetProfile", `WHERE profile_id = $1`, id)
}

func (s *Store) GetProfileByName(ctx context.Context, name string) (models.Profile, error) {
	return s.getProfile(ctx, "store.GetProfileByName", `WHERE profile_name = $1`, name)
}

func (s *Store) GetProfileByPubKey(ctx context.Context, pubkey squeak.PubKey) (models.Profile, error) {
	return s.getProfile(ctx, "store.GetProfileByPubKey", `WHERE public_key = $1`, pubkey[:])
}

func (s *Store) GetProfiles(ctx context.Context) ([]models.Profile, error) {
	return s.listProfiles(ctx, "store.GetProfiles", ``)
}

func (s *Store) GetSigningProfiles(ctx context.Context) ([]models.Profile, error) {
	return s.listProfiles(ctx, "store.GetSigningProfiles", `WHERE private_key IS NOT NULL`)
}

func (s *Store) GetContactProfiles(ctx context.Context) ([]models.Profile, error) {
	return s.listProfiles(ctx, "store.GetContactProfiles", `WHERE private_key IS NULL`)
}

func (s *Store) GetFollowingProfiles(ctx context.Context) ([]models.Profile, error) {
	return s.listProfiles(ctx, "store.GetFollowingProfiles", `WHERE following`)
}

func (s *Store) SetProfileFollowing(ctx context.Context, id int64, following bool) error {
	return s.exec(ctx, "store.SetProfileFollowing.Exec: ",
		`UPDATE profile SET following = $1 WHERE profile_id = $2`, following, id)
}

func (s *Store) RenameProfile(ctx context.Context, id int64, name string) error {
	return s.exec(ctx, "store.RenameProfile.Exec: ",
		`UPDATE profile SET profile_name = $1 WHERE profile_id = $2`, name, id)
}

func (s *Store) SetProfileImage(ctx context.Context, id int64, image []byte) error {
	return s.exec(ctx, "store.SetProfileImage.Exec: ",
		`UPDATE profile SET profile_image = $1 WHERE profile_id = $2`, nullableBytes(image), id)
}

func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	return s.exec(ctx, "store.DeleteProfile.Exec: ", `DELETE FROM profile WHERE profile_id = $1`, id)
}

func (s *Store) getProfile(ctx context.Context, op, where string, args ...any) (models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profile `+where, args...)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, op+".Scan: ")
	}
	return p, nil
}

func (s *Store) listProfiles(ctx context.Context, op, where string) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profile `+where+` ORDER BY profile_id`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, op+".Query: ")
	}
	defer rows.Close()
	profiles := []models.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, op+".Scan: ")
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, op+".Rows: ")
	}
	return profiles, nil
}

func scanProfile(row rowScanner) (models.Profile, error) {
	var (
		info      models.ProfileInfo
		priv, pub []byte
	)
	if err := row.Scan(&info.ID, &info.CreatedTimeMs, &info.Name, &priv, &pub, &info.Following, &info.Image); err != nil {
		return nil, err
	}
	pk, err := squeak.PubKeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	info.PubKey = pk
	if priv == nil {
		return models.ContactProfile{ProfileInfo: info}, nil
	}
	sp := models.SigningProfile{ProfileInfo: info}
	if len(priv) != len(sp.PrivateKey) {
		return nil, errors.New("invalid private key length")
	}
	copy(sp.PrivateKey[:], priv)
	return sp, nil
}
