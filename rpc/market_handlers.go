package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"nhbmarket/core"
	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/crypto"
	"nhbmarket/native/marketplace"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// Backend is the subset of the node the RPC surface depends on.
type Backend interface {
	Name() string
	ChainID() uint64
	ProductCount() (uint64, error)
	Product(id uint64) (*marketplace.Product, error)
	Products(offset, limit uint64) ([]*marketplace.Product, error)
	Account(addr [20]byte) (*types.Account, error)
	Events(cursor uint64, limit int) ([]events.Record, error)
	EventHead() uint64
	SubscribeEvents(ctx context.Context, cursor uint64) (<-chan events.Record, func(), []events.Record, error)
	ApplyTransaction(tx *types.Transaction) (*core.Receipt, error)
}

type ProductResponse struct {
	ID        uint64   `json:"id"`
	Name      string   `json:"name"`
	Price     *big.Int `json:"price"`
	Owner     string   `json:"owner"`
	Purchased bool     `json:"purchased"`
	Status    string   `json:"status"`
}

func productResponse(p *marketplace.Product) *ProductResponse {
	if p == nil {
		return nil
	}
	return &ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Owner:     crypto.FromRaw(p.Owner).String(),
		Purchased: p.Purchased,
		Status:    p.Status().String(),
	}
}

type BalanceResponse struct {
	Address string   `json:"address"`
	Balance *big.Int `json:"balance"`
	Ether   string   `json:"ether"`
	Nonce   uint64   `json:"nonce"`
}

type EventsResponse struct {
	Events []events.Record `json:"events"`
	Head   uint64          `json:"head"`
}

type SendTransactionResponse struct {
	TxHash    string           `json:"txHash"`
	Sender    string           `json:"sender"`
	ProductID uint64           `json:"productId"`
	Product   *ProductResponse `json:"product,omitempty"`
	Events    []events.Record  `json:"events"`
}

type pageParams struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type eventsParams struct {
	Cursor uint64 `json:"cursor"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleName(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.node.Name())
}

func (s *Server) handleProductCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	count, err := s.node.ProductCount()
	if err != nil {
		s.writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, count)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected product id parameter", nil)
		return
	}
	id, err := parseUintParam(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid product id", err.Error())
		return
	}
	product, err := s.node.Product(id)
	if err != nil {
		s.writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, productResponse(product))
}

func (s *Server) handleListProducts(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := pageParams{Limit: defaultPageLimit}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected at most one parameter object", nil)
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid paging parameters", err.Error())
			return
		}
	}
	if params.Limit == 0 {
		params.Limit = defaultPageLimit
	}
	if params.Limit > maxPageLimit {
		params.Limit = maxPageLimit
	}
	products, err := s.node.Products(params.Offset, params.Limit)
	if err != nil {
		s.writeNodeError(w, req.ID, err)
		return
	}
	out := make([]*ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, productResponse(p))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected address parameter", nil)
		return
	}
	var addrStr string
	if err := json.Unmarshal(req.Params[0], &addrStr); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address must be a string", err.Error())
		return
	}
	addr, err := crypto.ParseRaw(addrStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	account, err := s.node.Account(addr)
	if err != nil {
		s.writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceResponse{
		Address: crypto.FromRaw(addr).String(),
		Balance: account.Balance,
		Ether:   types.FormatEther(account.Balance),
		Nonce:   account.Nonce,
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := eventsParams{Limit: defaultPageLimit}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid event query", err.Error())
			return
		}
	}
	if params.Limit <= 0 || params.Limit > maxPageLimit {
		params.Limit = maxPageLimit
	}
	records, err := s.node.Events(params.Cursor, params.Limit)
	if err != nil {
		s.writeNodeError(w, req.ID, err)
		return
	}
	if records == nil {
		records = []events.Record{}
	}
	writeResult(w, req.ID, EventsResponse{Events: records, Head: s.node.EventHead()})
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected signed transaction parameter", nil)
		return
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction", err.Error())
		return
	}
	receipt, err := s.node.ApplyTransaction(&tx)
	if err != nil {
		s.writeNodeError(w, req.ID, err)
		return
	}
	resp := SendTransactionResponse{
		TxHash:    "0x" + hex.EncodeToString(receipt.TxHash),
		Sender:    crypto.FromRaw(receipt.Sender).String(),
		ProductID: receipt.ProductID,
		Product:   productResponse(receipt.Product),
		Events:    receipt.Events,
	}
	if resp.Events == nil {
		resp.Events = []events.Record{}
	}
	writeResult(w, req.ID, resp)
}

// parseUintParam accepts a JSON number or a decimal string.
func parseUintParam(raw json.RawMessage) (uint64, error) {
	var number uint64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("expected unsigned integer")
	}
	return strconv.ParseUint(strings.TrimSpace(text), 10, 64)
}
