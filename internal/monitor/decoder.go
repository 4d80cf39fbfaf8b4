package monitor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/polymonitor/internal/domain"
)

// OrderFilledTopic is the event signature hash shared by both exchange
// deployments:
// OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)
var OrderFilledTopic = common.HexToHash(
	"0xd0a08e8c493f9c94f29311604c9de1b4e8c8d4c06bd0c789af57f2d65bfec0f6")

// collateralDecimals covers both USDC and the outcome tokens, which share
// six decimals on Polygon.
const collateralDecimals = 1e6

// payloadLayout gives the 32-byte word offset of each non-indexed field in
// the OrderFilled data payload for one contract variant.
type payloadLayout struct {
	words       int
	makerAsset  int
	takerAsset  int
	makerAmount int
	takerAmount int
	fee         int
}

// variant binds a contract deployment to its payload layout.
type variant struct {
	name   domain.ContractVariant
	layout payloadLayout
}

// Decoder turns raw matched logs into canonical trades. The payload shape is
// selected per contract address, so the two deployments can diverge without
// touching the decode path.
type Decoder struct {
	variants map[common.Address]variant
}

// NewDecoder registers the two exchange deployments under their payload
// layouts.
func NewDecoder(ctfExchange, negRiskExchange common.Address) *Decoder {
	return &Decoder{
		variants: map[common.Address]variant{
			ctfExchange: {
				name: domain.VariantCTFExchange,
				layout: payloadLayout{
					words: 5, makerAsset: 0, takerAsset: 1,
					makerAmount: 2, takerAmount: 3, fee: 4,
				},
			},
			negRiskExchange: {
				name: domain.VariantNegRiskExchange,
				layout: payloadLayout{
					words: 5, makerAsset: 0, takerAsset: 1,
					makerAmount: 2, takerAmount: 3, fee: 4,
				},
			},
		},
	}
}

// Decode normalizes one matched log into a trade for the given watched
// account and role. The boolean is false when the log was structurally
// malformed: the returned trade then carries Side == SideUnknown with the
// raw amounts preserved, and must still be stored for later reconciliation.
func (d *Decoder) Decode(lg types.Log, account common.Address, role domain.Role) (domain.Trade, bool) {
	t := domain.Trade{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    int64(lg.Index),
		BlockNumber: lg.BlockNumber,
		Account:     addrString(account),
		Role:        role,
		Side:        domain.SideUnknown,
	}

	v, known := d.variants[lg.Address]
	if known {
		t.Contract = v.name
	}
	if !known || len(lg.Topics) < 4 || len(lg.Data) != 32*v.layout.words {
		// Preserve whatever payload arrived so the record is reconcilable.
		if len(lg.Data) >= 32 {
			t.MakerAmountRaw = dataWord(lg.Data, 0).String()
		}
		if len(lg.Data) >= 64 {
			t.TakerAmountRaw = dataWord(lg.Data, 1).String()
		}
		return t, false
	}

	maker := common.BytesToAddress(lg.Topics[2].Bytes())
	taker := common.BytesToAddress(lg.Topics[3].Bytes())
	if role == domain.RoleMaker {
		t.Counterparty = addrString(taker)
	} else {
		t.Counterparty = addrString(maker)
	}

	makerAsset := dataWord(lg.Data, v.layout.makerAsset)
	takerAsset := dataWord(lg.Data, v.layout.takerAsset)
	makerAmount := dataWord(lg.Data, v.layout.makerAmount)
	takerAmount := dataWord(lg.Data, v.layout.takerAmount)
	fee := dataWord(lg.Data, v.layout.fee)

	t.MakerAmountRaw = makerAmount.String()
	t.TakerAmountRaw = takerAmount.String()
	t.Fee = scale(fee)

	// Exactly one leg is the collateral (asset id 0). Which one it is tells
	// us the maker's direction, and the taker's is the mirror image.
	var collateral, tokens *big.Int
	var makerSide domain.Side
	switch {
	case makerAsset.Sign() == 0 && takerAsset.Sign() != 0:
		// Maker pays collateral, receives outcome tokens.
		makerSide = domain.SideBuy
		collateral, tokens = makerAmount, takerAmount
		t.AssetID = takerAsset.String()
	case takerAsset.Sign() == 0 && makerAsset.Sign() != 0:
		// Maker gives outcome tokens, receives collateral.
		makerSide = domain.SideSell
		collateral, tokens = takerAmount, makerAmount
		t.AssetID = makerAsset.String()
	default:
		// Token-to-token fill (or two collateral legs): no price basis.
		t.AssetID = makerAsset.String()
		t.Amount = scale(makerAmount)
		return t, false
	}

	if role == domain.RoleMaker {
		t.Side = makerSide
	} else {
		t.Side = opposite(makerSide)
	}

	t.Amount = scale(tokens)
	if t.Amount > 0 {
		t.Price = clampPrice(scale(collateral) / t.Amount)
	}
	return t, true
}

func dataWord(data []byte, word int) *big.Int {
	return new(big.Int).SetBytes(data[word*32 : (word+1)*32])
}

func scale(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(collateralDecimals)).Float64()
	return f
}

func clampPrice(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func opposite(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

func addrString(a common.Address) string {
	return a.Hex()
}
