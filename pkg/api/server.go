package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/duskpool/venue/pkg/executor"
	"github.com/duskpool/venue/pkg/ledger"
	"github.com/duskpool/venue/pkg/messages"
	"github.com/duskpool/venue/pkg/queue"
	"github.com/duskpool/venue/pkg/types"
	"github.com/duskpool/venue/pkg/util"
)

// heartbeater is implemented by the processor and ingestor agents; the
// executor has its own richer surface (RecentTrades) so it is held as
// a concrete type instead.
type heartbeater interface {
	Heartbeat() int64
}

// Server is the venue's REST + WebSocket transport. It parses and
// authenticates requests, mints message_ids, and enqueues already-
// decoded request records onto the executor's incoming queue; it holds
// no mutation authority of its own over the ledger, book, or message
// store.
type Server struct {
	router *mux.Router
	hub    *Hub

	incoming *queue.IncomingQueue
	ledger   *ledger.Ledger
	messages *messages.Store
	executor *executor.Executor

	processor heartbeater
	ingestor  heartbeater

	skewWindow time.Duration
	clock      util.Clock
	log        *zap.Logger
}

func NewServer(
	incoming *queue.IncomingQueue,
	l *ledger.Ledger,
	msgs *messages.Store,
	ex *executor.Executor,
	proc heartbeater,
	ing heartbeater,
	skewWindow time.Duration,
	clock util.Clock,
	log *zap.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		hub:        NewHub(log.Named("ws")),
		incoming:   incoming,
		ledger:     l,
		messages:   msgs,
		executor:   ex,
		processor:  proc,
		ingestor:   ing,
		skewWindow: skewWindow,
		clock:      clock,
		log:        log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdrawal).Methods("POST")
	api.HandleFunc("/messages/{id}", s.handleMessageStatus).Methods("GET")
	api.HandleFunc("/accounts/{address}/balance", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub's broadcast loop and serves HTTP until the
// process is killed or ListenAndServe returns an error.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", headerAddress, headerTimestamp, headerSignature},
		AllowCredentials: true,
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Handler exposes the underlying http.Handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// BroadcastTrade fans a newly executed trade out to every WebSocket
// client subscribed to the "trades" channel. Wired as the executor's
// TradeBroadcaster at construction in cmd/venue.
func (s *Server) BroadcastTrade(t executor.Trade) {
	s.hub.BroadcastToChannel("trades", TradeBroadcast{
		Type:     "trade",
		TradeID:  t.TradeID,
		Price:    int64(t.Price),
		Quantity: int64(t.Quantity),
		Time:     t.CreatedAt.UnixMilli(),
	})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	addr, body, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}

	var req SubmitOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	side, err := types.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	price, err := types.ParsePriceDecimal(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	qty, err := types.ParseAmountDecimal(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}

	msgID := uuid.NewString()

	if _, err := s.messages.Create(msgID, types.KindOrder, addr, s.clock.Now()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record message", err.Error())
		return
	}

	item := queue.Incoming{
		MessageID: msgID,
		Kind:      queue.IncomingOrder,
		Order:     &queue.OrderRequest{User: addr, Side: side, Price: price, Qty: qty},
	}
	if err := s.incoming.Send(r.Context(), item); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue order", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, MessageIDResponse{MessageID: msgID})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	addr, body, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}

	var req CancelRequest
	if err := json.Unmarshal(body, &req); err != nil || req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "invalid request body", "missing order_id")
		return
	}

	msgID := uuid.NewString()
	if _, err := s.messages.Create(msgID, types.KindCancel, addr, s.clock.Now()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record message", err.Error())
		return
	}

	item := queue.Incoming{
		MessageID: msgID,
		Kind:      queue.IncomingCancel,
		Cancel:    &queue.CancelRequest{OrderID: req.OrderID, User: addr},
	}
	if err := s.incoming.Send(r.Context(), item); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue cancel", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, MessageIDResponse{MessageID: msgID})
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	addr, body, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}

	var req WithdrawalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	asset, err := types.ParseAsset(req.Asset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}
	amount, err := types.ParseIntegerAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	msgID := uuid.NewString()
	if _, err := s.messages.Create(msgID, types.KindWithdrawal, addr, s.clock.Now()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record message", err.Error())
		return
	}

	item := queue.Incoming{
		MessageID:  msgID,
		Kind:       queue.IncomingWithdrawal,
		Withdrawal: &queue.WithdrawalRequest{User: addr, Asset: asset, Amount: amount},
	}
	if err := s.incoming.Send(r.Context(), item); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue withdrawal", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, MessageIDResponse{MessageID: msgID})
}

func (s *Server) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := s.messages.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "message not found", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, MessageStatusResponse{
		MessageID: m.ID,
		Kind:      m.Kind.String(),
		Status:    m.Status.String(),
		Detail:    m.Detail,
		OrderID:   m.OrderID,
		TradeIDs:  m.TradeIDs,
		TxHash:    m.TxHash,
		CreatedAt: m.CreatedAt.UnixMilli(),
		UpdatedAt: m.UpdatedAt.UnixMilli(),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addrHex := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrHex) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	assetStr := r.URL.Query().Get("asset")
	asset, err := types.ParseAsset(assetStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}

	addr := common.HexToAddress(addrHex)
	bal := s.ledger.GetBalance(addr, asset)

	respondJSON(w, http.StatusOK, BalanceResponse{
		Address:         addr.Hex(),
		Asset:           assetStr,
		Available:       int64(bal.Available),
		Liabilities:     int64(bal.Liabilities),
		PendingDeposits: int64(bal.PendingDeposits),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	recent := s.executor.RecentTrades(limit)
	out := make([]TradeResponse, len(recent))
	for i, t := range recent {
		out[i] = TradeResponse{
			TradeID:      t.TradeID,
			Buyer:        t.Buyer.Hex(),
			Seller:       t.Seller.Hex(),
			Price:        int64(t.Price),
			Quantity:     int64(t.Quantity),
			TakerOrderID: t.TakerOrderID,
			MakerOrderID: t.MakerOrderID,
			Timestamp:    t.CreatedAt.UnixMilli(),
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ExecutorAliveAt:  s.executor.Heartbeat(),
		ProcessorAliveAt: s.processor.Heartbeat(),
		IngestorAliveAt:  s.ingestor.Heartbeat(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	respondJSON(w, status, ErrorResponse{Error: errMsg, Message: detail})
}
