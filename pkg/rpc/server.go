// Package rpc serves UTXO index queries over HTTP.
package rpc

import (
	"context"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/chronodrachma/utxod/pkg/core/address"
	"github.com/chronodrachma/utxod/pkg/core/blockchain"
	"github.com/chronodrachma/utxod/pkg/core/mempool"
	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/chronodrachma/utxod/pkg/core/utxo"
	"github.com/chronodrachma/utxod/pkg/storage"
	"github.com/chronodrachma/utxod/pkg/wallet"
	jsoniter "github.com/json-iterator/go"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Server struct {
	chain   *blockchain.Chain
	utxos   *utxo.UTXOSet
	mempool *mempool.Mempool
	deriver address.Deriver
	logger  zerolog.Logger
	http    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMempool enables POST /tx, which builds transfers from the index and
// queues them in mp.
func WithMempool(mp *mempool.Mempool, d address.Deriver) Option {
	return func(s *Server) {
		s.mempool = mp
		s.deriver = d
	}
}

func NewServer(chain *blockchain.Chain, utxos *utxo.UTXOSet, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		chain:  chain,
		utxos:  utxos,
		logger: logger.With().Str("component", "rpc").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	// GET /status -> chain height and index size
	router.GET("/status", s.handleStatus)

	// GET /utxos/:owner -> every indexed output owned by the hex public key
	router.GET("/utxos/:owner", s.handleUTXOs)

	// GET /balance/:owner -> sum of the owner's indexed outputs
	router.GET("/balance/:owner", s.handleBalance)

	// GET /spendable/:owner/:amount -> outputs selected to cover amount
	router.GET("/spendable/:owner/:amount", s.handleSpendable)

	// POST /reindex -> rebuild the index from the chain
	router.POST("/reindex", s.handleReindex)

	// GET /block/:id -> block by height or by hex hash
	router.GET("/block/:id", s.handleBlock)

	// GET /tx/:txid -> ledger transaction and its indexed unspent outputs
	router.GET("/tx/:txid", s.handleTransaction)

	if s.mempool != nil {
		// POST /tx -> build a transfer from indexed outputs and queue it
		router.POST("/tx", s.handleSubmitTransfer)
	}

	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	return router
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("rpc listening")
	if err := s.http.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type OutputResponse struct {
	Value       types.Amount `json:"value"`
	Coins       string       `json:"coins"`
	Owner       string       `json:"owner"`
	Metadata    string       `json:"metadata,omitempty"`
	OutputIndex uint32       `json:"outputIndex"`
}

type ScanResponse struct {
	Entries int               `json:"entries"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

type UTXOsResponse struct {
	Owner   string           `json:"owner"`
	Outputs []OutputResponse `json:"outputs"`
	Scan    ScanResponse     `json:"scan"`
}

type BalanceResponse struct {
	Owner   string       `json:"owner"`
	Balance types.Amount `json:"balance"`
	Coins   string       `json:"coins"`
	Scan    ScanResponse `json:"scan"`
}

type SpendableResponse struct {
	Owner          string              `json:"owner"`
	Requested      types.Amount        `json:"requested"`
	Amount         types.Amount        `json:"amount"`
	Sufficient     bool                `json:"sufficient"`
	UnspentOutputs map[string][]uint32 `json:"unspentOutputs"`
	Scan           ScanResponse        `json:"scan"`
}

type StatusResponse struct {
	Height       uint64       `json:"height"`
	Tip          string       `json:"tip,omitempty"`
	Supply       types.Amount `json:"supply"`
	Transactions int          `json:"indexedTransactions"`
	Pending      int          `json:"pendingTransfers"`
}

type BlockResponse struct {
	Height       uint64   `json:"height"`
	Hash         string   `json:"hash"`
	PrevHash     string   `json:"prevHash"`
	MerkleRoot   string   `json:"merkleRoot"`
	Timestamp    int64    `json:"timestamp"`
	Transactions []string `json:"transactions"`
}

type TransactionResponse struct {
	TxID      string           `json:"txid"`
	Coinbase  bool             `json:"coinbase"`
	Timestamp int64            `json:"timestamp"`
	Inputs    []InputResponse  `json:"inputs"`
	Outputs   []OutputResponse `json:"outputs"`
	// Unspent lists the outputs still in the index; empty once all are spent
	// or before the next reindex.
	Unspent []OutputResponse `json:"unspent"`
}

type InputResponse struct {
	TxID        string `json:"txid"`
	OutputIndex uint32 `json:"outputIndex"`
}

// TransferRequest names the sender and recipient by hex public key.
// Amount is in coins, e.g. "1.5".
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type TransferResponse struct {
	TxID    string       `json:"txid"`
	Amount  types.Amount `json:"amount"`
	Inputs  int          `json:"inputs"`
	Pending int          `json:"pendingTransfers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	count, err := s.utxos.CountTransactions()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	resp := StatusResponse{Height: s.chain.Height(), Supply: s.chain.TotalSupply(), Transactions: count}
	if s.mempool != nil {
		resp.Pending = s.mempool.Size()
	}
	if tip := s.chain.Tip(); tip != nil {
		resp.Tip = tip.Hash.Hex()
	}
	s.reply(w, resp)
}

func (s *Server) handleUTXOs(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	owner, ok := s.ownerParam(w, p)
	if !ok {
		return
	}
	utxos, report, err := s.utxos.FindUTXO(owner)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	resp := UTXOsResponse{Owner: p.ByName("owner"), Outputs: []OutputResponse{}, Scan: scanResponse(report)}
	for _, out := range utxos {
		resp.Outputs = append(resp.Outputs, outputResponse(out))
	}
	s.reply(w, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	owner, ok := s.ownerParam(w, p)
	if !ok {
		return
	}
	balance, report, err := s.utxos.Balance(owner)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, BalanceResponse{
		Owner:   p.ByName("owner"),
		Balance: balance,
		Coins:   balance.String(),
		Scan:    scanResponse(report),
	})
}

func (s *Server) handleSpendable(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	owner, ok := s.ownerParam(w, p)
	if !ok {
		return
	}
	amount, err := strconv.ParseUint(p.ByName("amount"), 10, 64)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	spendable, report, err := s.utxos.FindSpendableOutputs(owner, types.Amount(amount))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, SpendableResponse{
		Owner:          p.ByName("owner"),
		Requested:      types.Amount(amount),
		Amount:         spendable.Amount,
		Sufficient:     spendable.Amount >= types.Amount(amount),
		UnspentOutputs: spendable.UnspentOutputs,
		Scan:           scanResponse(report),
	})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n, err := s.utxos.Reindex()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, map[string]int{"indexedTransactions": n})
}

func (s *Server) handleSubmitTransfer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	from, err := hex.DecodeString(req.From)
	if err != nil || len(from) == 0 {
		http.Error(w, "invalid sender public key", http.StatusBadRequest)
		return
	}
	to, err := hex.DecodeString(req.To)
	if err != nil || len(to) == 0 {
		http.Error(w, "invalid recipient public key", http.StatusBadRequest)
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := wallet.BuildTransfer(s.utxos, s.deriver, from, to, amount, time.Now())
	switch {
	case err == nil:
	case errors.Is(err, wallet.ErrZeroAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, wallet.ErrInsufficientFunds):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	default:
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.mempool.AddTransaction(tx); err != nil {
		switch {
		case errors.Is(err, mempool.ErrInputConflict), errors.Is(err, mempool.ErrTxAlreadyInMempool):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, mempool.ErrMempoolFull):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			s.fail(w, http.StatusInternalServerError, err)
		}
		return
	}
	s.logger.Info().Str("txid", tx.ID.Hex()).Str("amount", amount.String()).Msg("transfer queued")
	s.reply(w, TransferResponse{
		TxID:    tx.ID.Hex(),
		Amount:  amount,
		Inputs:  len(tx.Inputs),
		Pending: s.mempool.Size(),
	})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")

	var (
		block *types.Block
		err   error
	)
	if len(id) == 2*types.HashSize {
		hash, herr := types.HashFromHex(id)
		if herr != nil {
			http.Error(w, "invalid block hash", http.StatusBadRequest)
			return
		}
		block, err = s.chain.GetBlockByHash(hash)
	} else {
		height, perr := strconv.ParseUint(id, 10, 64)
		if perr != nil {
			http.Error(w, "invalid block height or hash", http.StatusBadRequest)
			return
		}
		block, err = s.chain.GetBlockByHeight(height)
	}
	if errors.Is(err, blockchain.ErrBlockNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	resp := BlockResponse{
		Height:       block.Header.Height,
		Hash:         block.Hash.Hex(),
		PrevHash:     block.Header.PrevBlockHash.Hex(),
		MerkleRoot:   block.Header.MerkleRoot.Hex(),
		Timestamp:    block.Header.Timestamp.Unix(),
		Transactions: make([]string, 0, len(block.Transactions)),
	}
	for _, tx := range block.Transactions {
		resp.Transactions = append(resp.Transactions, tx.ID.Hex())
	}
	s.reply(w, resp)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	txID, err := types.HashFromHex(p.ByName("txid"))
	if err != nil {
		http.Error(w, "invalid transaction id", http.StatusBadRequest)
		return
	}
	tx, ok := s.chain.Transaction(txID)
	if !ok {
		http.Error(w, "transaction not found", http.StatusNotFound)
		return
	}

	resp := TransactionResponse{
		TxID:      tx.ID.Hex(),
		Coinbase:  tx.IsCoinbase(),
		Timestamp: tx.Timestamp.Unix(),
		Inputs:    make([]InputResponse, 0, len(tx.Inputs)),
		Outputs:   make([]OutputResponse, 0, len(tx.Outputs)),
		Unspent:   []OutputResponse{},
	}
	for _, in := range tx.Inputs {
		resp.Inputs = append(resp.Inputs, InputResponse{TxID: in.TxID.Hex(), OutputIndex: in.OutputIndex})
	}
	for _, out := range tx.Outputs {
		resp.Outputs = append(resp.Outputs, outputResponse(out))
	}

	record, err := s.utxos.Record(txID)
	switch {
	case err == nil:
		for _, out := range record.Outputs {
			resp.Unspent = append(resp.Unspent, outputResponse(out))
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, resp)
}

func outputResponse(out types.TransactionOutput) OutputResponse {
	return OutputResponse{
		Value:       out.Value,
		Coins:       out.Value.String(),
		Owner:       hex.EncodeToString(out.OwnerCommitment),
		Metadata:    hex.EncodeToString(out.Metadata),
		OutputIndex: out.Index,
	}
}

func (s *Server) ownerParam(w http.ResponseWriter, p httprouter.Params) ([]byte, bool) {
	owner, err := hex.DecodeString(p.ByName("owner"))
	if err != nil || len(owner) == 0 {
		http.Error(w, "invalid owner public key", http.StatusBadRequest)
		return nil, false
	}
	return owner, true
}

func scanResponse(report *utxo.ScanReport) ScanResponse {
	resp := ScanResponse{Entries: report.Entries}
	if !report.Complete() {
		resp.Skipped = make(map[string]string, len(report.Skipped))
		for _, skip := range report.Skipped {
			resp.Skipped[skip.TxID] = skip.Reason.Error()
		}
	}
	return resp
}

func (s *Server) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("write response")
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.logger.Error().Err(err).Int("status", code).Msg("request failed")
	http.Error(w, err.Error(), code)
}
