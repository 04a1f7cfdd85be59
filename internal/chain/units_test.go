package chain_test

import (
	"math/big"
	"testing"

	"github.com/alanyoungcy/mevsim/internal/chain"
)

func TestUnitConversions(t *testing.T) {
	if got := chain.WeiFromETH(1.5); got.String() != "1500000000000000000" {
		t.Errorf("WeiFromETH(1.5) = %s", got)
	}
	if got := chain.WeiFromGwei(20); got.String() != "20000000000" {
		t.Errorf("WeiFromGwei(20) = %s", got)
	}
	if got := chain.WeiFromETH(-1); got.Sign() != 0 {
		t.Errorf("negative amount = %s, want 0", got)
	}
	if got := chain.ETHFromWei(big.NewInt(250_000_000_000_000_000)); got != 0.25 {
		t.Errorf("ETHFromWei = %v", got)
	}
	if got := chain.GweiFromWei(big.NewInt(30_000_000_000)); got != 30 {
		t.Errorf("GweiFromWei = %v", got)
	}
	if got := chain.GweiFromWei(nil); got != 0 {
		t.Errorf("GweiFromWei(nil) = %v", got)
	}
	if got := chain.TokenAmount(big.NewInt(2_500_000), 6); got != 2.5 {
		t.Errorf("TokenAmount = %v", got)
	}
}
