package peerserver

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yzernik/squeakroad-sub000/internal/apperr"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/squeak"
)

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("peer request failed")
	}
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func hashParam(w http.ResponseWriter, r *http.Request) (squeak.Hash, bool) {
	hash, err := squeak.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		http.Error(w, "invalid squeak hash", http.StatusBadRequest)
		return squeak.Hash{}, false
	}
	return hash, true
}

func (s *Server) squeakHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash, ok := hashParam(w, r)
		if !ok {
			return
		}
		sq, err := s.backend.GetSqueak(r.Context(), hash)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if sq == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(sq.Serialize())
	}
}

func (s *Server) secretKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash, ok := hashParam(w, r)
		if !ok {
			return
		}
		key, err := s.backend.GetSecretKeyForPeer(r.Context(), hash, models.AddressFromRemote(r.RemoteAddr))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if key == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(key[:])
	}
}

func (s *Server) offerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash, ok := hashParam(w, r)
		if !ok {
			return
		}
		offer, err := s.backend.GetOfferForPeer(r.Context(), hash, models.AddressFromRemote(r.RemoteAddr))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if offer == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, offer)
	}
}

func blockParam(r *http.Request, name string, def int32) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	return int32(v), err
}

func (s *Server) lookupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query()["pubkeys"]
		authors := make([]squeak.PubKey, 0, len(raw))
		for _, hexKey := range raw {
			pk, err := squeak.ParsePubKey(hexKey)
			if err != nil {
				http.Error(w, "invalid pubkey", http.StatusBadRequest)
				return
			}
			authors = append(authors, pk)
		}
		minBlock, err := blockParam(r, "minblock", 0)
		if err != nil {
			http.Error(w, "invalid minblock", http.StatusBadRequest)
			return
		}
		maxBlock, err := blockParam(r, "maxblock", math.MaxInt32)
		if err != nil {
			http.Error(w, "invalid maxblock", http.StatusBadRequest)
			return
		}
		hashes := []squeak.Hash{}
		if len(authors) > 0 {
			found, err := s.backend.LookupSqueaks(r.Context(), authors, minBlock, maxBlock)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			hashes = append(hashes, found...)
		}
		writeJSON(w, hashes)
	}
}
