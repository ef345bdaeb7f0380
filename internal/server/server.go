// Package server exposes the portfolio over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/portfolio"
	"github.com/finwatch-lab/cryptofolio/internal/types"
	"github.com/finwatch-lab/cryptofolio/pkg/errors"
)

// AddAssetRequest is the POST /api/v1/assets payload.
type AddAssetRequest struct {
	Name     string  `json:"name" validate:"required,alphanum,uppercase"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

// PortfolioResponse is the GET /api/v1/portfolio payload.
type PortfolioResponse struct {
	Assets    []types.Asset `json:"assets"`
	TotalCost float64       `json:"totalCost"`
	Loading   bool          `json:"loading"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the portfolio API.
type Server struct {
	store      *portfolio.Store
	validator  *validator.Validate
	httpServer *http.Server
	listener   net.Listener
	log        *logger.Logger
}

func NewServer(store *portfolio.Store, log *logger.Logger) *Server {
	server := &Server{
		store:     store,
		validator: validator.New(),
		log:       log,
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/portfolio", server.handleGetPortfolio).Methods("GET")
	router.HandleFunc("/api/v1/assets", server.handleAddAsset).Methods("POST")
	router.HandleFunc("/api/v1/assets/{name}", server.handleRemoveAsset).Methods("DELETE")

	server.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// Start begins serving on the given address. Pass ":0" to pick a free
// port; Address reports the bound one.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to listen on %s", address)
	}
	s.listener = listener

	s.log.Info("API server listening", zap.String("address", listener.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.log.Error("API server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, _ *http.Request) {
	response := PortfolioResponse{
		Assets:    s.store.Assets(),
		TotalCost: s.store.TotalCost(),
		Loading:   s.store.Loading(),
	}

	if response.Assets == nil {
		response.Assets = []types.Asset{}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var request AddAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid request body", err))
		return
	}

	if err := s.validator.Struct(request); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid asset request", err))
		return
	}

	asset := s.store.AddAsset(r.Context(), request.Name, request.Quantity)

	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if s.store.Asset(name).IsNone() {
		writeError(w, http.StatusNotFound, errors.Newf(errors.ErrCodeAssetNotFound, "asset %s not held", name))
		return
	}

	s.store.RemoveAsset(name)

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
