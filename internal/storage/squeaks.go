package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/btcsuite/btcd/wire"
	pkgerrors "github.com/pkg/errors"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

// InsertSqueak stores a verified squeak with its anchoring block header.
// A squeak that is already stored yields (nil, nil).
func (s *Store) InsertSqueak(ctx context.Context, sq squeak.Squeak, blockHeader []byte) (*squeak.Hash, error) {
	hash := sq.Hash()
	var replyTo, resqueak, recipient []byte
	if sq.IsReply() {
		replyTo = sq.ReplyTo[:]
	}
	if sq.IsResqueak() {
		resqueak = sq.Resqueak[:]
	}
	if sq.IsPrivate() {
		recipient = sq.Recipient[:]
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO squeak (hash, created_time_ms, squeak, reply_hash, resqueak_hash, block_hash, block_height, squeak_time, author_public_key, recipient_public_key, block_header)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (hash) DO NOTHING RETURNING hash`,
		hash[:], s.nowMs(), sq.Serialize(), nullableBytes(replyTo), nullableBytes(resqueak),
		sq.BlockHash[:], sq.BlockHeight, int64(sq.Time), sq.Author[:], nullableBytes(recipient), blockHeader,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.InsertSqueak.QueryRow: ")
	}
	return &hash, nil
}

// GetSqueak returns nil when the hash is unknown.
func (s *Store) GetSqueak(ctx context.Context, hash squeak.Hash) (*squeak.Squeak, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT squeak FROM squeak WHERE hash = $1`, hash[:]).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSqueak.QueryRow: ")
	}
	sq, err := squeak.Deserialize(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSqueak.Deserialize: ")
	}
	return &sq, nil
}

// GetSqueakSecretKey returns nil when the squeak is unknown or still locked.
func (s *Store) GetSqueakSecretKey(ctx context.Context, hash squeak.Hash) (*squeak.SecretKey, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT secret_key FROM squeak WHERE hash = $1`, hash[:]).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && raw == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSqueakSecretKey.QueryRow: ")
	}
	key, err := squeak.SecretKeyFromBytes(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.GetSqueakSecretKey.Decode: ")
	}
	return &key, nil
}

func (s *Store) SetSqueakSecretKey(ctx context.Context, hash squeak.Hash, key squeak.SecretKey) error {
	return s.exec(ctx, "store.SetSqueakSecretKey.Exec: ",
		`UPDATE squeak SET secret_key = $1 WHERE hash = $2`, key[:], hash[:])
}

// SetSqueakContent records decrypted plaintext; a squeak with content is unlocked.
func (s *Store) SetSqueakContent(ctx context.Context, hash squeak.Hash, content string) error {
	return s.exec(ctx, "store.SetSqueakContent.Exec: ",
		`UPDATE squeak SET content = $1 WHERE hash = $2`, content, hash[:])
}

func (s *Store) SetSqueakLiked(ctx context.Context, hash squeak.Hash) error {
	return s.exec(ctx, "store.SetSqueakLiked.Exec: ",
		`UPDATE squeak SET liked_time_ms = $1 WHERE hash = $2`, s.nowMs(), hash[:])
}

func (s *Store) SetSqueakUnliked(ctx context.Context, hash squeak.Hash) error {
	return s.exec(ctx, "store.SetSqueakUnliked.Exec: ",
		`UPDATE squeak SET liked_time_ms = NULL WHERE hash = $1`, hash[:])
}

func (s *Store) DeleteSqueak(ctx context.Context, hash squeak.Hash) error {
	return s.exec(ctx, "store.DeleteSqueak.Exec: ", `DELETE FROM squeak WHERE hash = $1`, hash[:])
}

func (s *Store) GetNumberOfSqueaks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM squeak`).Scan(&n); err != nil {
		return 0, pkgerrors.Wrap(err, "store.GetNumberOfSqueaks.QueryRow: ")
	}
	return n, nil
}

// GetNumberOfSqueaksWithPubKeyAtHeight counts an author's squeaks anchored to
// one block.
func (s *Store) GetNumberOfSqueaksWithPubKeyAtHeight(ctx context.Context, author squeak.PubKey, height int32) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM squeak WHERE author_public_key = $1 AND block_height = $2`,
		author[:], height,
	).Scan(&n)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "store.GetNumberOfSqueaksWithPubKeyAtHeight.QueryRow: ")
	}
	return n, nil
}

// LookupSqueaks lists hashes by any of authors within [minHeight, maxHeight].
func (s *Store) LookupSqueaks(ctx context.Context, authors []squeak.PubKey, minHeight, maxHeight int32) ([]squeak.Hash, error) {
	if len(authors) == 0 {
		return []squeak.Hash{}, nil
	}
	args := make([]any, 0, len(authors)+2)
	for i := range authors {
		args = append(args, authors[i][:])
	}
	n := len(authors)
	args = append(args, minHeight, maxHeight)
	query := `SELECT hash FROM squeak WHERE author_public_key IN (` + placeholders(1, n) + `)` +
		` AND block_height >= ` + placeholders(n+1, 1) +
		` AND block_height <= ` + placeholders(n+2, 1) +
		` ORDER BY block_height, hash`
	return s.queryHashes(ctx, "store.LookupSqueaks", query, args...)
}

const oldSqueakFilter = `s.created_time_ms < $1
	AND s.liked_time_ms IS NULL
	AND NOT EXISTS (
		SELECT 1 FROM profile p WHERE p.public_key = s.author_public_key AND p.private_key IS NOT NULL
	)`

// GetOldSqueaksToDelete lists squeaks past retention that are neither liked
// nor authored by a signing profile.
func (s *Store) GetOldSqueaksToDelete(ctx context.Context, retention time.Duration) ([]squeak.Hash, error) {
	cutoff := s.now().Add(-retention).UnixMilli()
	return s.queryHashes(ctx, "store.GetOldSqueaksToDelete",
		`SELECT s.hash FROM squeak s WHERE `+oldSqueakFilter+` ORDER BY s.created_time_ms`, cutoff)
}

// DeleteOldSqueaks removes what GetOldSqueaksToDelete would return.
func (s *Store) DeleteOldSqueaks(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UnixMilli()
	return s.execCount(ctx, "store.DeleteOldSqueaks.Exec: ",
		`DELETE FROM squeak s WHERE `+oldSqueakFilter, cutoff)
}

func (s *Store) queryHashes(ctx context.Context, op, query string, args ...any) ([]squeak.Hash, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, op+".Query: ")
	}
	defer rows.Close()
	hashes := []squeak.Hash{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, pkgerrors.Wrap(err, op+".Scan: ")
		}
		h, err := squeak.HashFromBytes(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(err, op+".Decode: ")
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, op+".Rows: ")
	}
	return hashes, nil
}

const entrySelect = `SELECT s.squeak, s.block_header, s.content, s.liked_time_ms, s.created_time_ms,
	ap.profile_name, ap.private_key IS NOT NULL, rp.profile_name
	FROM squeak s
	LEFT JOIN profile ap ON ap.public_key = s.author_public_key
	LEFT JOIN profile rp ON rp.public_key = s.recipient_public_key`

// GetSqueakEntry returns the display row for hash, or nil.
func (s *Store) GetSqueakEntry(ctx context.Context, hash squeak.Hash) (*models.SqueakEntry, error) {
	entries, err := s.querySqueakEntries(ctx, "store.GetSqueakEntry",
		entrySelect+` WHERE s.hash = $1`, hash[:])
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// GetTimelineSqueakEntries lists squeaks by followed profiles, newest first.
func (s *Store) GetTimelineSqueakEntries(ctx context.Context, limit int) ([]models.SqueakEntry, error) {
	return s.querySqueakEntries(ctx, "store.GetTimelineSqueakEntries",
		entrySelect+` WHERE ap.following ORDER BY s.block_height DESC, s.squeak_time DESC LIMIT $1`, limit)
}

func (s *Store) GetSqueakEntriesForPubKey(ctx context.Context, author squeak.PubKey, limit int) ([]models.SqueakEntry, error) {
	return s.querySqueakEntries(ctx, "store.GetSqueakEntriesForPubKey",
		entrySelect+` WHERE s.author_public_key = $1 ORDER BY s.block_height DESC, s.squeak_time DESC LIMIT $2`,
		author[:], limit)
}

func (s *Store) GetReplySqueakEntries(ctx context.Context, hash squeak.Hash, limit int) ([]models.SqueakEntry, error) {
	return s.querySqueakEntries(ctx, "store.GetReplySqueakEntries",
		entrySelect+` WHERE s.reply_hash = $1 ORDER BY s.block_height, s.squeak_time LIMIT $2`,
		hash[:], limit)
}

func (s *Store) GetLikedSqueakEntries(ctx context.Context, limit int) ([]models.SqueakEntry, error) {
	return s.querySqueakEntries(ctx, "store.GetLikedSqueakEntries",
		entrySelect+` WHERE s.liked_time_ms IS NOT NULL ORDER BY s.liked_time_ms DESC LIMIT $1`, limit)
}

// querySqueakEntries scans entries and hydrates one level of resqueak.
func (s *Store) querySqueakEntries(ctx context.Context, op, query string, args ...any) ([]models.SqueakEntry, error) {
	entries, err := s.scanSqueakEntries(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ResqueakedHash == nil {
			continue
		}
		inner, err := s.scanSqueakEntries(ctx, op+".Resqueaked",
			entrySelect+` WHERE s.hash = $1`, entries[i].ResqueakedHash[:])
		if err != nil {
			return nil, err
		}
		if len(inner) > 0 {
			entries[i].Resqueaked = &inner[0]
		}
	}
	return entries, nil
}

func (s *Store) scanSqueakEntries(ctx context.Context, op, query string, args ...any) ([]models.SqueakEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, op+".Query: ")
	}
	defer rows.Close()
	entries := []models.SqueakEntry{}
	for rows.Next() {
		entry, err := scanSqueakEntry(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, op+".Scan: ")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, op+".Rows: ")
	}
	return entries, nil
}

func scanSqueakEntry(row rowScanner) (models.SqueakEntry, error) {
	var (
		raw, header   []byte
		content       sql.NullString
		liked         sql.NullInt64
		created       int64
		authorName    sql.NullString
		signing       bool
		recipientName sql.NullString
	)
	if err := row.Scan(&raw, &header, &content, &liked, &created, &authorName, &signing, &recipientName); err != nil {
		return models.SqueakEntry{}, err
	}
	sq, err := squeak.Deserialize(raw)
	if err != nil {
		return models.SqueakEntry{}, err
	}
	var bh wire.BlockHeader
	if err := bh.Deserialize(bytes.NewReader(header)); err != nil {
		return models.SqueakEntry{}, err
	}
	entry := models.SqueakEntry{
		Hash:            sq.Hash(),
		Author:          sq.Author,
		BlockHeight:     sq.BlockHeight,
		BlockHash:       sq.BlockHash,
		BlockTime:       bh.Timestamp.Unix(),
		SqueakTime:      int64(sq.Time),
		IsUnlocked:      content.Valid,
		IsAuthorSigning: signing,
		CreatedTimeMs:   created,
	}
	if sq.IsPrivate() {
		r := sq.Recipient
		entry.Recipient = &r
	}
	if sq.IsReply() {
		h := sq.ReplyTo
		entry.ReplyTo = &h
	}
	if sq.IsResqueak() {
		h := sq.Resqueak
		entry.ResqueakedHash = &h
	}
	if content.Valid {
		entry.Content = &content.String
	}
	if liked.Valid {
		entry.LikedTimeMs = &liked.Int64
	}
	if authorName.Valid {
		entry.AuthorName = &authorName.String
	}
	if recipientName.Valid {
		entry.RecipientName = &recipientName.String
	}
	return entry, nil
}
