package rpc

type addressParams struct {
	Address string `json:"address"`
}

type depositParams struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Assets   string `json:"assets"`
}

type mintParams struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Shares   string `json:"shares"`
}

type withdrawParams struct {
	Sender     string   `json:"sender"`
	Receiver   string   `json:"receiver"`
	Owner      string   `json:"owner"`
	Assets     string   `json:"assets,omitempty"`
	Shares     string   `json:"shares,omitempty"`
	MaxLossBps uint64   `json:"maxLossBps"`
	Queue      []string `json:"queue,omitempty"`
}

type transferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type transferFromParams struct {
	Spender string `json:"spender"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

type approveParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type permitParams struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Value     string `json:"value"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

type allowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type strategyParams struct {
	Caller   string `json:"caller"`
	Strategy string `json:"strategy"`
}

type maxDebtParams struct {
	Caller   string `json:"caller"`
	Strategy string `json:"strategy"`
	MaxDebt  string `json:"maxDebt"`
}

type updateDebtParams struct {
	Caller     string `json:"caller"`
	Strategy   string `json:"strategy"`
	TargetDebt string `json:"targetDebt"`
	MaxLossBps uint64 `json:"maxLossBps"`
}

type queueUpdateParams struct {
	Caller string   `json:"caller"`
	Queue  []string `json:"queue"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

type callerAmountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type callerUintParams struct {
	Caller string `json:"caller"`
	Value  uint64 `json:"value"`
}

type callerBoolParams struct {
	Caller string `json:"caller"`
	Value  bool   `json:"value"`
}

type rolesParams struct {
	Caller string   `json:"caller"`
	Holder string   `json:"holder"`
	Roles  []string `json:"roles"`
}

type rageQuitParams struct {
	Owner  string `json:"owner"`
	Shares string `json:"shares"`
}

type limitQueryParams struct {
	Owner      string   `json:"owner"`
	MaxLossBps uint64   `json:"maxLossBps"`
	Queue      []string `json:"queue,omitempty"`
}

type convertParams struct {
	Amount string `json:"amount"`
}

type stateResult struct {
	Address             string `json:"address"`
	TotalSupply         string `json:"totalSupply"`
	TotalAssets         string `json:"totalAssets"`
	TotalIdle           string `json:"totalIdle"`
	TotalDebt           string `json:"totalDebt"`
	MinimumTotalIdle    string `json:"minimumTotalIdle"`
	DepositLimit        string `json:"depositLimit"`
	UseDefaultQueue     bool   `json:"useDefaultQueue"`
	Shutdown            bool   `json:"shutdown"`
	ProfitMaxUnlockTime uint64 `json:"profitMaxUnlockTime"`
	FullUnlockDate      int64  `json:"fullUnlockDate"`
	UnlockedShares      string `json:"unlockedShares"`
	ProtocolFeeBps      uint64 `json:"protocolFeeBps"`
	RageQuitCooldown    uint64 `json:"rageQuitCooldown"`
}

type strategyResult struct {
	Address     string `json:"address"`
	Activation  int64  `json:"activation"`
	LastReport  int64  `json:"lastReport"`
	CurrentDebt string `json:"currentDebt"`
	MaxDebt     string `json:"maxDebt"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type reportResult struct {
	Gain string `json:"gain"`
	Loss string `json:"loss"`
}

type custodyResult struct {
	LockedShares string `json:"lockedShares"`
	UnlockTime   int64  `json:"unlockTime"`
}

type rolesResult struct {
	Roles []string `json:"roles"`
}

type queueResult struct {
	Queue []string `json:"queue"`
}

type ackResult struct {
	OK bool `json:"ok"`
}
