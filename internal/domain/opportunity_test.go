package domain_test

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

func TestNewOpportunityNetProfit(t *testing.T) {
	cases := []struct {
		gross, gas float64
		profitable bool
	}{
		{0.5, 0.1, true},
		{0.1, 0.1, false},
		{0.05, 0.2, false},
	}
	for _, tc := range cases {
		opp, err := domain.NewOpportunity(domain.OpportunityParams{
			StrategyName:        "arbitrage",
			ExpectedProfitETH:   tc.gross,
			EstimatedGasCostETH: tc.gas,
		})
		if err != nil {
			t.Fatalf("NewOpportunity: %v", err)
		}
		if opp.NetProfitETH != tc.gross-tc.gas {
			t.Errorf("net = %v, want %v", opp.NetProfitETH, tc.gross-tc.gas)
		}
		if opp.IsProfitable() != tc.profitable {
			t.Errorf("IsProfitable() = %v, want %v", opp.IsProfitable(), tc.profitable)
		}
		if opp.ID == "" || opp.Timestamp.IsZero() {
			t.Errorf("id/timestamp not populated: %+v", opp)
		}
	}
}

func TestNewOpportunityRequiredMetadata(t *testing.T) {
	_, err := domain.NewOpportunity(domain.OpportunityParams{
		Metadata:     map[string]string{domain.MetaTokens: "A,B,A"},
		RequiredKeys: []string{domain.MetaTokens, domain.MetaPools},
	})
	if !errors.Is(err, domain.ErrMissingMetadata) {
		t.Fatalf("err = %v, want ErrMissingMetadata", err)
	}
}

func TestOpportunityLimits(t *testing.T) {
	opp := domain.Opportunity{SlippagePercent: 0.5, GasPriceGwei: 50}
	if !opp.IsWithinSlippageLimit(0.5) || opp.IsWithinSlippageLimit(0.4) {
		t.Error("slippage limit boundary wrong")
	}
	if !opp.IsWithinGasLimit(50) || opp.IsWithinGasLimit(49) {
		t.Error("gas limit boundary wrong")
	}
}

func TestOpportunityOverlaps(t *testing.T) {
	a := domain.Opportunity{TargetTransactions: []string{"0x1", "0x2"}}
	b := domain.Opportunity{TargetTransactions: []string{"0x3"}}
	c := domain.Opportunity{TargetTransactions: []string{"0x2"}}
	none := domain.Opportunity{}

	if a.Overlaps(b) {
		t.Error("disjoint sets reported as overlapping")
	}
	if !a.Overlaps(c) {
		t.Error("shared target not detected")
	}
	if !none.Overlaps(b) || !a.Overlaps(none) {
		t.Error("untargeted opportunity must overlap everything")
	}
}
