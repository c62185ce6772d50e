// Package api exposes a small JSON service over the coordinator so squad
// members can inspect and approve pending proposals remotely.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"custodia-go/internal/ledger"
	"custodia-go/internal/squads"
)

type Server struct {
	coord  *squads.Coordinator
	member solana.PrivateKey
	log    *zap.Logger
	router *mux.Router
}

// New wires the routes. The member key signs approvals cast through the
// service; it belongs to this operator, not the whole group.
func New(coord *squads.Coordinator, member solana.PrivateKey, log *zap.Logger) *Server {
	s := &Server{coord: coord, member: member, log: log, router: mux.NewRouter()}
	s.router.HandleFunc("/multisig/{address}", s.handleMultisig).Methods("GET")
	s.router.HandleFunc("/multisig/{address}/proposal/{index}", s.handleProposal).Methods("GET")
	s.router.HandleFunc("/multisig/{address}/proposal/{index}/approve", s.handleApprove).Methods("POST")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("approval service listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.router)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathArgs(r *http.Request) (solana.PublicKey, uint64, error) {
	vars := mux.Vars(r)
	addr, err := solana.PublicKeyFromBase58(vars["address"])
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	if vars["index"] == "" {
		return addr, 0, nil
	}
	index, err := strconv.ParseUint(vars["index"], 10, 64)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	return addr, index, nil
}

func (s *Server) handleMultisig(w http.ResponseWriter, r *http.Request) {
	addr, _, err := pathArgs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := s.coord.Info(r.Context(), addr)
	if err != nil {
		s.respondFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type proposalView struct {
	Multisig  string   `json:"multisig"`
	Index     uint64   `json:"index"`
	Status    string   `json:"status"`
	Approvals []string `json:"approvals"`
	Threshold uint16   `json:"threshold"`
}

func (s *Server) proposalView(r *http.Request, addr solana.PublicKey, index uint64) (*proposalView, error) {
	prop, err := s.coord.FetchProposal(r.Context(), addr, index)
	if err != nil {
		return nil, err
	}
	ms, err := s.coord.FetchMultisig(r.Context(), addr)
	if err != nil {
		return nil, err
	}
	view := &proposalView{
		Multisig:  addr.String(),
		Index:     index,
		Status:    prop.Status.Kind.String(),
		Threshold: ms.Threshold,
		Approvals: make([]string, 0, len(prop.Approved)),
	}
	for _, k := range prop.Approved {
		view.Approvals = append(view.Approvals, k.String())
	}
	return view, nil
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	addr, index, err := pathArgs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := s.proposalView(r, addr, index)
	if err != nil {
		s.respondFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	addr, index, err := pathArgs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.coord.Approve(r.Context(), addr, index, s.member); err != nil {
		var alreadyVoted *squads.AlreadyVotedError
		var invalidState *squads.InvalidStateError
		var permission *squads.PermissionError
		switch {
		case errors.As(err, &alreadyVoted):
			writeError(w, http.StatusConflict, err)
		case errors.As(err, &invalidState):
			writeError(w, http.StatusConflict, err)
		case errors.As(err, &permission):
			writeError(w, http.StatusForbidden, err)
		default:
			s.respondFetchError(w, err)
		}
		return
	}
	view, err := s.proposalView(r, addr, index)
	if err != nil {
		s.respondFetchError(w, err)
		return
	}
	s.log.Info("approval cast via api",
		zap.Stringer("multisig", addr), zap.Uint64("index", index))
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) respondFetchError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
