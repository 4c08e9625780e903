package storage

import (
	"context"
	"database/sql"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/yzernik/squeakroad-sub000/internal/models"
)

const peerColumns = `peer_id, created_time_ms, peer_name, network, host, port, autoconnect, share_for_free`

// InsertPeer stores a peer. A known host and port yields (nil, nil).
func (s *Store) InsertPeer(ctx context.Context, name string, addr models.PeerAddress, autoconnect bool) (*int64, error) {
	var peerName any
	if name != "" {
		peerName = name
	}
	return s.insertReturningID(ctx, "store.InsertPeer.QueryRow: ",
		`INSERT INTO peer (created_time_ms, peer_name, network, host, port, autoconnect)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING RETURNING peer_id`,
		s.nowMs(), peerName, string(addr.Network), addr.Host, int(addr.Port), autoconnect)
}

func (s *Store) GetPeer(ctx context.Context, id int64) (*models.Peer, error) {
	return s.getPeer(ctx, "store.GetPeer", `WHERE peer_id = $1`, id)
}

func (s *Store) GetPeerByAddress(ctx context.Context, addr models.PeerAddress) (*models.Peer, error) {
	return s.getPeer(ctx, "store.GetPeerByAddress", `WHERE host = $1 AND port = $2`, addr.Host, int(addr.Port))
}

func (s *Store) GetPeers(ctx context.Context) ([]models.Peer, error) {
	return s.listPeers(ctx, "store.GetPeers", ``)
}

func (s *Store) GetAutoconnectPeers(ctx context.Context) ([]models.Peer, error) {
	return s.listPeers(ctx, "store.GetAutoconnectPeers", `WHERE autoconnect`)
}

func (s *Store) SetPeerAutoconnect(ctx context.Context, id int64, autoconnect bool) error {
	return s.exec(ctx, "store.SetPeerAutoconnect.Exec: ",
		`UPDATE peer SET autoconnect = $1 WHERE peer_id = $2`, autoconnect, id)
}

func (s *Store) SetPeerShareForFree(ctx context.Context, id int64, free bool) error {
	return s.exec(ctx, "store.SetPeerShareForFree.Exec: ",
		`UPDATE peer SET share_for_free = $1 WHERE peer_id = $2`, free, id)
}

func (s *Store) RenamePeer(ctx context.Context, id int64, name string) error {
	return s.exec(ctx, "store.RenamePeer.Exec: ",
		`UPDATE peer SET peer_name = $1 WHERE peer_id = $2`, name, id)
}

func (s *Store) DeletePeer(ctx context.Context, id int64) error {
	return s.exec(ctx, "store.DeletePeer.Exec: ", `DELETE FROM peer WHERE peer_id = $1`, id)
}

func (s *Store) getPeer(ctx context.Context, op, where string, args ...any) (*models.Peer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+peerColumns+` FROM peer `+where, args...)
	p, err := scanPeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, op+".Scan: ")
	}
	return &p, nil
}

func (s *Store) listPeers(ctx context.Context, op, where string) ([]models.Peer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+peerColumns+` FROM peer `+where+` ORDER BY peer_id`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, op+".Query: ")
	}
	defer rows.Close()
	peers := []models.Peer{}
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, op+".Scan: ")
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, op+".Rows: ")
	}
	return peers, nil
}

func scanPeer(row rowScanner) (models.Peer, error) {
	var (
		p       models.Peer
		name    sql.NullString
		network string
		port    int
	)
	if err := row.Scan(&p.ID, &p.CreatedTimeMs, &name, &network, &p.Address.Host, &port, &p.Autoconnect, &p.ShareForFree); err != nil {
		return models.Peer{}, err
	}
	p.Name = name.String
	p.Address.Network = models.Network(network)
	p.Address.Port = uint16(port)
	return p, nil
}
