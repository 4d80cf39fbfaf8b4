package domain

import "time"

// Role is the side of the order book the watched account occupied in a fill.
type Role string

const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"
)

// Side is the trade direction from the watched account's point of view.
// SideUnknown marks a fill whose payload could not be decoded; the record is
// still persisted so it can be reconciled later.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = "unknown"
)

// ContractVariant identifies which exchange deployment emitted a fill.
type ContractVariant string

const (
	VariantCTFExchange     ContractVariant = "ctf_exchange"
	VariantNegRiskExchange ContractVariant = "neg_risk_ctf_exchange"
)

// Trade is a canonical order-fill record. Once stored it is immutable.
type Trade struct {
	ID          int64
	TxHash      string
	LogIndex    int64
	BlockNumber uint64
	BlockTime   time.Time

	Account      string // the watched account this fill was captured for
	Counterparty string
	Role         Role
	Contract     ContractVariant

	AssetID string  // outcome token id, decimal string
	Side    Side
	Amount  float64 // outcome tokens, always >= 0; Side carries direction
	Price   float64 // collateral per token, clamped to [0, 1]
	Fee     float64

	// Raw filled amounts as emitted on chain, kept verbatim so trades with
	// Side == SideUnknown can be reconciled out of band.
	MakerAmountRaw string
	TakerAmountRaw string

	GasUsed  uint64
	GasPrice uint64 // effective gas price in wei
	Status   string // "success" or "failed"

	IngestedAt   time.Time
	CaptureDelay time.Duration // IngestedAt - BlockTime, observability only
}

// SignedAmount returns the amount negated for sells.
func (t Trade) SignedAmount() float64 {
	if t.Side == SideSell {
		return -t.Amount
	}
	return t.Amount
}
