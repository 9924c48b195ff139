package rpc

import (
	"encoding/hex"
	"net/http"
	"strings"
)

// --- Views ---

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	snapshot, err := s.engine.Snapshot()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	unlocked, err := s.engine.UnlockedShares()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, stateResult{
		Address:             s.engine.Address().String(),
		TotalSupply:         snapshot.TotalSupply.String(),
		TotalAssets:         snapshot.TotalAssets().String(),
		TotalIdle:           snapshot.TotalIdle.String(),
		TotalDebt:           snapshot.TotalDebt.String(),
		MinimumTotalIdle:    snapshot.MinimumTotalIdle.String(),
		DepositLimit:        snapshot.DepositLimit.String(),
		UseDefaultQueue:     snapshot.UseDefaultQueue,
		Shutdown:            snapshot.Shutdown,
		ProfitMaxUnlockTime: snapshot.ProfitMaxUnlockTime,
		FullUnlockDate:      snapshot.FullUnlockDate,
		UnlockedShares:      unlocked.String(),
		ProtocolFeeBps:      snapshot.ProtocolFeeBps,
		RageQuitCooldown:    snapshot.RageQuitCooldown,
	})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	strategy, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.engine.StrategyOf(strategy)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "strategy not registered", nil)
		return
	}
	writeResult(w, req.ID, strategyResult{
		Address:     strategy.String(),
		Activation:  record.Activation,
		LastReport:  record.LastReport,
		CurrentDebt: record.CurrentDebt.String(),
		MaxDebt:     record.MaxDebt.String(),
	})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	queue, err := s.engine.DefaultQueue()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	out := make([]string, 0, len(queue))
	for _, addr := range queue {
		out = append(out, addr.String())
	}
	writeResult(w, req.ID, queueResult{Queue: out})
}

func (s *Server) handleBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.engine.BalanceOf(owner)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}

func (s *Server) handleAssetBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.assets.BalanceOf(owner)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}

func (s *Server) handleAllowance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params allowanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spender, err := parseAddress("spender", params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	allowance, err := s.engine.Allowance(owner, spender)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: allowance.String()})
}

func (s *Server) handleCustodyOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	custody, err := s.engine.CustodyOf(owner)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if custody == nil {
		writeResult(w, req.ID, custodyResult{LockedShares: "0"})
		return
	}
	writeResult(w, req.ID, custodyResult{
		LockedShares: custody.LockedShares.String(),
		UnlockTime:   custody.UnlockTime,
	})
}

func (s *Server) handleRoles(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	holder, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	roles, err := s.engine.RolesOf(holder)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, rolesResult{Roles: roles.Names()})
}

func (s *Server) handleConvertToShares(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params convertParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	assets, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := s.engine.ConvertToShares(assets)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: shares.String()})
}

func (s *Server) handleConvertToAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params convertParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	shares, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	assets, err := s.engine.ConvertToAssets(shares)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: assets.String()})
}

func (s *Server) handlePricePerShare(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Decimals uint8 `json:"decimals"`
	}
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
			return
		}
	}
	if params.Decimals == 0 {
		params.Decimals = 18
	}
	price, err := s.engine.PricePerShare(params.Decimals)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: price.String()})
}

func (s *Server) handleMaxDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	receiver, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	limit, err := s.engine.MaxDeposit(receiver)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: limit.String()})
}

func (s *Server) handleMaxMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	receiver, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	limit, err := s.engine.MaxMint(receiver)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: limit.String()})
}

func (s *Server) handleMaxWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params limitQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	queue, err := parseQueue(params.Queue)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	limit, err := s.engine.MaxWithdraw(owner, params.MaxLossBps, queue)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: limit.String()})
}

func (s *Server) handleMaxRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params limitQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	queue, err := parseQueue(params.Queue)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	limit, err := s.engine.MaxRedeem(owner, params.MaxLossBps, queue)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: limit.String()})
}

// --- User operations ---

func (s *Server) handleDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params depositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	sender, err := parseAddress("sender", params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receiver, err := parseAddress("receiver", params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	assets, err := parseAmount("assets", params.Assets)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := s.engine.Deposit(sender, receiver, assets)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: shares.String()})
}

func (s *Server) handleMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	sender, err := parseAddress("sender", params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receiver, err := parseAddress("receiver", params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := parseAmount("shares", params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	assets, err := s.engine.Mint(sender, receiver, shares)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: assets.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	sender, err := parseAddress("sender", params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receiver, err := parseAddress("receiver", params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	assets, err := parseAmount("assets", params.Assets)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	queue, err := parseQueue(params.Queue)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := s.engine.Withdraw(sender, receiver, owner, assets, params.MaxLossBps, queue)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: shares.String()})
}

func (s *Server) handleRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	sender, err := parseAddress("sender", params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receiver, err := parseAddress("receiver", params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := parseAmount("shares", params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	queue, err := parseQueue(params.Queue)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	assets, err := s.engine.Redeem(sender, receiver, owner, shares, params.MaxLossBps, queue)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: assets.String()})
}

func (s *Server) handleTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, err := parseAddress("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := parseAddress("to", params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Transfer(from, to, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleTransferFrom(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferFromParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	spender, err := parseAddress("spender", params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseAddress("from", params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := parseAddress("to", params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.TransferFrom(spender, from, to, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params approveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spender, err := parseAddress("spender", params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.Approve(owner, spender, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handlePermit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params permitParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spender, err := parseAddress("spender", params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, err := parseAmount("value", params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(params.Signature, "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature encoding", err.Error())
		return
	}
	if err := s.engine.Permit(owner, spender, value, params.Deadline, sig); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleInitiateRageQuit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params rageQuitParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shares, err := parseAmount("shares", params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.InitiateRageQuit(owner, shares); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleCancelRageQuit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.CancelRageQuit(owner); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

// --- Keeper and governance operations ---

func (s *Server) handleProcessReport(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params strategyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	strategy, err := parseAddress("strategy", params.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	gain, loss, err := s.engine.ProcessReport(caller, strategy)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, reportResult{Gain: gain.String(), Loss: loss.String()})
}

func (s *Server) handleUpdateDebt(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params updateDebtParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	strategy, err := parseAddress("strategy", params.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	target, err := parseAmount("targetDebt", params.TargetDebt)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	newDebt, err := s.engine.UpdateDebt(caller, strategy, target, params.MaxLossBps)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: newDebt.String()})
}

func (s *Server) handleAddStrategy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params strategyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	strategy, err := parseAddress("strategy", params.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.AddStrategy(caller, strategy); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleRevokeStrategy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params strategyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	strategy, err := parseAddress("strategy", params.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.RevokeStrategy(caller, strategy); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleForceRevokeStrategy(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params strategyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	strategy, err := parseAddress("strategy", params.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.ForceRevokeStrategy(caller, strategy); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleUpdateMaxDebt(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params maxDebtParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	strategy, err := parseAddress("strategy", params.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	maxDebt, err := parseAmount("maxDebt", params.MaxDebt)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.UpdateMaxDebtForStrategy(caller, strategy, maxDebt); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetDefaultQueue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params queueUpdateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	queue, err := parseQueue(params.Queue)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetDefaultQueue(caller, queue); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetUseDefaultQueue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerBoolParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetUseDefaultQueue(caller, params.Value); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetDepositLimit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	limit, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetDepositLimit(caller, limit); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetMinimumTotalIdle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerAmountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	minimum, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetMinimumTotalIdle(caller, minimum); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetProfitMaxUnlockTime(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerUintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetProfitMaxUnlockTime(caller, params.Value); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleSetProtocolFeeBps(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerUintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetProtocolFeeBps(caller, params.Value); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.ShutdownVault(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleGrantRoles(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params rolesParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	holder, err := parseAddress("holder", params.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	roles, err := parseRoles(params.Roles)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.GrantRoles(holder, roles); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleRevokeRoles(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params rolesParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	holder, err := parseAddress("holder", params.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	roles, err := parseRoles(params.Roles)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.RevokeRoles(holder, roles); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleProposeCooldownChange(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerUintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.ProposeCooldownChange(caller, params.Value); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleFinalizeCooldownChange(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.FinalizeCooldownChange(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}

func (s *Server) handleCancelCooldownChange(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.CancelCooldownChange(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{OK: true})
}
