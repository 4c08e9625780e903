// Package storetest provides an in-memory stand-in for storage.Store.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

type squeakRow struct {
	sq        squeak.Squeak
	header    []byte
	key       *squeak.SecretKey
	content   *string
	likedMs   *int64
	createdMs int64
}

// Memory mirrors the relational store's semantics, including silent
// duplicate inserts.
type Memory struct {
	mu       sync.Mutex
	Now      func() time.Time
	nextID   int64
	squeaks  map[squeak.Hash]*squeakRow
	profiles map[int64]models.Profile
	peers    map[int64]models.Peer
	sent     map[models.Hash32]models.SentOffer
	received map[models.Hash32]models.ReceivedOffer
	rpay     map[models.Hash32]models.ReceivedPayment
	spay     map[models.Hash32]models.SentPayment
	configs  map[string]models.UserConfig
}

func NewMemory() *Memory {
	return &Memory{
		Now:      time.Now,
		squeaks:  make(map[squeak.Hash]*squeakRow),
		profiles: make(map[int64]models.Profile),
		peers:    make(map[int64]models.Peer),
		sent:     make(map[models.Hash32]models.SentOffer),
		received: make(map[models.Hash32]models.ReceivedOffer),
		rpay:     make(map[models.Hash32]models.ReceivedPayment),
		spay:     make(map[models.Hash32]models.SentPayment),
		configs:  make(map[string]models.UserConfig),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) nowMs() int64 { return m.Now().UnixMilli() }

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) InsertSqueak(ctx context.Context, sq squeak.Squeak, header []byte) (*squeak.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := sq.Hash()
	if _, ok := m.squeaks[h]; ok {
		return nil, nil
	}
	m.squeaks[h] = &squeakRow{sq: sq, header: header, createdMs: m.nowMs()}
	return &h, nil
}

func (m *Memory) GetSqueak(ctx context.Context, hash squeak.Hash) (*squeak.Squeak, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.squeaks[hash]
	if !ok {
		return nil, nil
	}
	sq := row.sq
	return &sq, nil
}

func (m *Memory) GetSqueakSecretKey(ctx context.Context, hash squeak.Hash) (*squeak.SecretKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.squeaks[hash]
	if !ok || row.key == nil {
		return nil, nil
	}
	k := *row.key
	return &k, nil
}

func (m *Memory) SetSqueakSecretKey(ctx context.Context, hash squeak.Hash, key squeak.SecretKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.squeaks[hash]; ok {
		row.key = &key
	}
	return nil
}

func (m *Memory) SetSqueakContent(ctx context.Context, hash squeak.Hash, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.squeaks[hash]; ok {
		row.content = &content
	}
	return nil
}

// Content returns the decrypted content of hash, if unlocked.
func (m *Memory) Content(hash squeak.Hash) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.squeaks[hash]
	if !ok || row.content == nil {
		return "", false
	}
	return *row.content, true
}

func (m *Memory) SetSqueakLiked(ctx context.Context, hash squeak.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.squeaks[hash]; ok {
		ms := m.nowMs()
		row.likedMs = &ms
	}
	return nil
}

func (m *Memory) SetSqueakUnliked(ctx context.Context, hash squeak.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.squeaks[hash]; ok {
		row.likedMs = nil
	}
	return nil
}

func (m *Memory) DeleteSqueak(ctx context.Context, hash squeak.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.squeaks, hash)
	return nil
}

func (m *Memory) GetNumberOfSqueaks(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.squeaks), nil
}

func (m *Memory) GetNumberOfSqueaksWithPubKeyAtHeight(ctx context.Context, author squeak.PubKey, height int32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.squeaks {
		if row.sq.Author == author && row.sq.BlockHeight == height {
			n++
		}
	}
	return n, nil
}

func (m *Memory) LookupSqueaks(ctx context.Context, authors []squeak.PubKey, minHeight, maxHeight int32) ([]squeak.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[squeak.PubKey]bool, len(authors))
	for _, a := range authors {
		want[a] = true
	}
	hashes := []squeak.Hash{}
	for h, row := range m.squeaks {
		if want[row.sq.Author] && row.sq.BlockHeight >= minHeight && row.sq.BlockHeight <= maxHeight {
			hashes = append(hashes, h)
		}
	}
	sort.Slice(hashes, func(i, j int) bool {
		a, b := m.squeaks[hashes[i]].sq.BlockHeight, m.squeaks[hashes[j]].sq.BlockHeight
		if a != b {
			return a < b
		}
		return hashes[i].String() < hashes[j].String()
	})
	return hashes, nil
}

func (m *Memory) isSigning(pk squeak.PubKey) bool {
	for _, p := range m.profiles {
		if p.Info().PubKey == pk && models.IsSigning(p) {
			return true
		}
	}
	return false
}

func (m *Memory) oldSqueaks(retention time.Duration) []squeak.Hash {
	cutoff := m.Now().Add(-retention).UnixMilli()
	var out []squeak.Hash
	for h, row := range m.squeaks {
		if row.createdMs < cutoff && row.likedMs == nil && !m.isSigning(row.sq.Author) {
			out = append(out, h)
		}
	}
	return out
}

func (m *Memory) GetOldSqueaksToDelete(ctx context.Context, retention time.Duration) ([]squeak.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oldSqueaks(retention), nil
}

func (m *Memory) DeleteOldSqueaks(ctx context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.oldSqueaks(retention)
	for _, h := range old {
		delete(m.squeaks, h)
	}
	return int64(len(old)), nil
}

// AgeSqueak shifts the created time of hash into the past.
func (m *Memory) AgeSqueak(hash squeak.Hash, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.squeaks[hash]; ok {
		row.createdMs -= by.Milliseconds()
	}
}

func (m *Memory) entry(h squeak.Hash, hydrate bool) *models.SqueakEntry {
	row, ok := m.squeaks[h]
	if !ok {
		return nil
	}
	sq := row.sq
	e := &models.SqueakEntry{
		Hash:          h,
		Author:        sq.Author,
		BlockHeight:   sq.BlockHeight,
		BlockHash:     sq.BlockHash,
		SqueakTime:    int64(sq.Time),
		IsUnlocked:    row.content != nil,
		Content:       row.content,
		LikedTimeMs:   row.likedMs,
		CreatedTimeMs: row.createdMs,
	}
	if sq.IsPrivate() {
		r := sq.Recipient
		e.Recipient = &r
	}
	if sq.IsReply() {
		r := sq.ReplyTo
		e.ReplyTo = &r
	}
	if sq.IsResqueak() {
		r := sq.Resqueak
		e.ResqueakedHash = &r
		if hydrate {
			e.Resqueaked = m.entry(r, false)
		}
	}
	for _, p := range m.profiles {
		info := p.Info()
		if info.PubKey == sq.Author {
			name := info.Name
			e.AuthorName = &name
			e.IsAuthorSigning = models.IsSigning(p)
		}
		if sq.IsPrivate() && info.PubKey == sq.Recipient {
			name := info.Name
			e.RecipientName = &name
		}
	}
	return e
}

func (m *Memory) GetSqueakEntry(ctx context.Context, hash squeak.Hash) (*models.SqueakEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry(hash, true), nil
}

func (m *Memory) listEntries(limit int, keep func(*squeakRow) bool) []models.SqueakEntry {
	out := []models.SqueakEntry{}
	for h, row := range m.squeaks {
		if keep(row) {
			out = append(out, *m.entry(h, true))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockHeight != out[j].BlockHeight {
			return out[i].BlockHeight > out[j].BlockHeight
		}
		return out[i].SqueakTime > out[j].SqueakTime
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) GetTimelineSqueakEntries(ctx context.Context, limit int) ([]models.SqueakEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	following := map[squeak.PubKey]bool{}
	for _, p := range m.profiles {
		if p.Info().Following {
			following[p.Info().PubKey] = true
		}
	}
	return m.listEntries(limit, func(r *squeakRow) bool { return following[r.sq.Author] }), nil
}

func (m *Memory) GetSqueakEntriesForPubKey(ctx context.Context, author squeak.PubKey, limit int) ([]models.SqueakEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listEntries(limit, func(r *squeakRow) bool { return r.sq.Author == author }), nil
}

func (m *Memory) GetReplySqueakEntries(ctx context.Context, hash squeak.Hash, limit int) ([]models.SqueakEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listEntries(limit, func(r *squeakRow) bool { return r.sq.ReplyTo == hash }), nil
}

func (m *Memory) GetLikedSqueakEntries(ctx context.Context, limit int) ([]models.SqueakEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listEntries(limit, func(r *squeakRow) bool { return r.likedMs != nil }), nil
}

func withID(p models.Profile, id int64, created int64) models.Profile {
	switch v := p.(type) {
	case models.SigningProfile:
		v.ID, v.CreatedTimeMs = id, created
		return v
	case models.ContactProfile:
		v.ID, v.CreatedTimeMs = id, created
		return v
	}
	return p
}

func updateInfo(p models.Profile, fn func(*models.ProfileInfo)) models.Profile {
	switch v := p.(type) {
	case models.SigningProfile:
		fn(&v.ProfileInfo)
		return v
	case models.ContactProfile:
		fn(&v.ProfileInfo)
		return v
	}
	return p
}

func (m *Memory) InsertProfile(ctx context.Context, p models.Profile) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := p.Info()
	for _, existing := range m.profiles {
		e := existing.Info()
		if e.Name == info.Name || e.PubKey == info.PubKey {
			return nil, nil
		}
	}
	id := m.id()
	m.profiles[id] = withID(p, id, m.nowMs())
	return &id, nil
}

func (m *Memory) GetProfile(ctx context.Context, id int64) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[id], nil
}

func (m *Memory) findProfile(match func(models.ProfileInfo) bool) models.Profile {
	for _, p := range m.profiles {
		if match(p.Info()) {
			return p
		}
	}
	return nil
}

func (m *Memory) GetProfileByName(ctx context.Context, name string) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findProfile(func(i models.ProfileInfo) bool { return i.Name == name }), nil
}

func (m *Memory) GetProfileByPubKey(ctx context.Context, pubkey squeak.PubKey) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findProfile(func(i models.ProfileInfo) bool { return i.PubKey == pubkey }), nil
}

func (m *Memory) listProfiles(keep func(models.Profile) bool) []models.Profile {
	out := []models.Profile{}
	for _, p := range m.profiles {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().ID < out[j].Info().ID })
	return out
}

func (m *Memory) GetProfiles(ctx context.Context) ([]models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listProfiles(func(models.Profile) bool { return true }), nil
}

func (m *Memory) GetSigningProfiles(ctx context.Context) ([]models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listProfiles(models.IsSigning), nil
}

func (m *Memory) GetContactProfiles(ctx context.Context) ([]models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listProfiles(func(p models.Profile) bool { return !models.IsSigning(p) }), nil
}

func (m *Memory) GetFollowingProfiles(ctx context.Context) ([]models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listProfiles(func(p models.Profile) bool { return p.Info().Following }), nil
}

func (m *Memory) updateProfile(id int64, fn func(*models.ProfileInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[id]; ok {
		m.profiles[id] = updateInfo(p, fn)
	}
}

func (m *Memory) SetProfileFollowing(ctx context.Context, id int64, following bool) error {
	m.updateProfile(id, func(i *models.ProfileInfo) { i.Following = following })
	return nil
}

func (m *Memory) RenameProfile(ctx context.Context, id int64, name string) error {
	m.updateProfile(id, func(i *models.ProfileInfo) { i.Name = name })
	return nil
}

func (m *Memory) SetProfileImage(ctx context.Context, id int64, image []byte) error {
	m.updateProfile(id, func(i *models.ProfileInfo) { i.Image = image })
	return nil
}

func (m *Memory) DeleteProfile(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, id)
	return nil
}

func (m *Memory) InsertPeer(ctx context.Context, name string, addr models.PeerAddress, autoconnect bool) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.peers {
		if p.Address.Host == addr.Host && p.Address.Port == addr.Port {
			return nil, nil
		}
	}
	id := m.id()
	m.peers[id] = models.Peer{ID: id, Name: name, Address: addr, Autoconnect: autoconnect, CreatedTimeMs: m.nowMs()}
	return &id, nil
}

func (m *Memory) GetPeer(ctx context.Context, id int64) (*models.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) GetPeerByAddress(ctx context.Context, addr models.PeerAddress) (*models.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.peers {
		if p.Address.Host == addr.Host && p.Address.Port == addr.Port {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Memory) listPeers(keep func(models.Peer) bool) []models.Peer {
	out := []models.Peer{}
	for _, p := range m.peers {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) GetPeers(ctx context.Context) ([]models.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listPeers(func(models.Peer) bool { return true }), nil
}

func (m *Memory) GetAutoconnectPeers(ctx context.Context) ([]models.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listPeers(func(p models.Peer) bool { return p.Autoconnect }), nil
}

func (m *Memory) updatePeer(id int64, fn func(*models.Peer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[id]; ok {
		fn(&p)
		m.peers[id] = p
	}
}

func (m *Memory) SetPeerAutoconnect(ctx context.Context, id int64, autoconnect bool) error {
	m.updatePeer(id, func(p *models.Peer) { p.Autoconnect = autoconnect })
	return nil
}

func (m *Memory) SetPeerShareForFree(ctx context.Context, id int64, free bool) error {
	m.updatePeer(id, func(p *models.Peer) { p.ShareForFree = free })
	return nil
}

func (m *Memory) RenamePeer(ctx context.Context, id int64, name string) error {
	m.updatePeer(id, func(p *models.Peer) { p.Name = name })
	return nil
}

func (m *Memory) DeletePeer(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
	return nil
}

func (m *Memory) InsertSentOffer(ctx context.Context, o models.SentOffer) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sent[o.PaymentHash]; ok {
		return nil, nil
	}
	o.ID, o.CreatedTimeMs = m.id(), m.nowMs()
	m.sent[o.PaymentHash] = o
	return &o.ID, nil
}

func (m *Memory) GetSentOfferByPaymentHash(ctx context.Context, hash models.Hash32) (*models.SentOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.sent[hash]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *Memory) GetSentOffers(ctx context.Context, limit int) ([]models.SentOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.SentOffer{}
	for _, o := range m.sent {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SetSentOfferPaid(ctx context.Context, hash models.Hash32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.sent[hash]; ok {
		o.Paid = true
		m.sent[hash] = o
	}
	return nil
}

func (m *Memory) DeleteExpiredSentOffers(ctx context.Context, retentionS int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now().Unix()
	var n int64
	for h, o := range m.sent {
		if o.InvoiceTime+o.InvoiceExpiry+retentionS < now {
			delete(m.sent, h)
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertReceivedOffer(ctx context.Context, o models.ReceivedOffer) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.received[o.PaymentHash]; ok {
		return nil, nil
	}
	o.ID, o.CreatedTimeMs = m.id(), m.nowMs()
	m.received[o.PaymentHash] = o
	return &o.ID, nil
}

func (m *Memory) GetReceivedOffer(ctx context.Context, id int64) (*models.ReceivedOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.received {
		if o.ID == id {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetReceivedOffers(ctx context.Context, hash squeak.Hash) ([]models.ReceivedOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now().Unix()
	out := []models.ReceivedOffer{}
	for _, o := range m.received {
		if o.SqueakHash == hash && !o.Paid && o.InvoiceTimestamp+o.InvoiceExpiry > now {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceMsat != out[j].PriceMsat {
			return out[i].PriceMsat < out[j].PriceMsat
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SetReceivedOfferPaid(ctx context.Context, hash models.Hash32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.received[hash]; ok {
		o.Paid = true
		m.received[hash] = o
	}
	return nil
}

// ReceivedOfferByPaymentHash exposes a received offer for assertions.
func (m *Memory) ReceivedOfferByPaymentHash(hash models.Hash32) (models.ReceivedOffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.received[hash]
	return o, ok
}

func (m *Memory) DeleteExpiredReceivedOffers(ctx context.Context, retentionS int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now().Unix()
	var n int64
	for h, o := range m.received {
		if o.InvoiceTimestamp+o.InvoiceExpiry+retentionS < now {
			delete(m.received, h)
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertReceivedPayment(ctx context.Context, p models.ReceivedPayment) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rpay[p.PaymentHash]; ok {
		return nil, nil
	}
	p.ID, p.CreatedTimeMs = m.id(), m.nowMs()
	m.rpay[p.PaymentHash] = p
	return &p.ID, nil
}

func (m *Memory) GetLatestSettleIndex(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max uint64
	for _, p := range m.rpay {
		if p.SettleIndex > max {
			max = p.SettleIndex
		}
	}
	return max, nil
}

func (m *Memory) SetReceivedPaymentSettleIndex(ctx context.Context, hash models.Hash32, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rpay[hash]; ok && p.SettleIndex < index {
		p.SettleIndex = index
		m.rpay[hash] = p
	}
	return nil
}

func (m *Memory) ClearReceivedPaymentSettleIndices(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, p := range m.rpay {
		p.SettleIndex = 0
		m.rpay[h] = p
	}
	return nil
}

func (m *Memory) GetReceivedPayments(ctx context.Context, limit int) ([]models.ReceivedPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ReceivedPayment{}
	for _, p := range m.rpay {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) InsertSentPayment(ctx context.Context, p models.SentPayment) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spay[p.PaymentHash]; ok {
		return nil, nil
	}
	p.ID, p.CreatedTimeMs = m.id(), m.nowMs()
	m.spay[p.PaymentHash] = p
	return &p.ID, nil
}

func (m *Memory) GetSentPayments(ctx context.Context, limit int) ([]models.SentPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.SentPayment{}
	for _, p := range m.spay {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetPaymentSummary(ctx context.Context) (models.PaymentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s models.PaymentSummary
	for _, p := range m.rpay {
		s.NumReceivedPayments++
		s.AmountEarnedMsat += p.PriceMsat
	}
	for _, p := range m.spay {
		s.NumSentPayments++
		s.AmountSpentMsat += p.PriceMsat
	}
	return s, nil
}

func (m *Memory) GetUserConfig(ctx context.Context, username string) (models.UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[username]
	if !ok {
		cfg = models.UserConfig{Username: username}
		m.configs[username] = cfg
	}
	return cfg, nil
}

func (m *Memory) SetSellPrice(ctx context.Context, username string, priceMsat int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[username] = models.UserConfig{Username: username, SellPriceMsat: &priceMsat}
	return nil
}

func (m *Memory) ClearSellPrice(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[username] = models.UserConfig{Username: username}
	return nil
}
