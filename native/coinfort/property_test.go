package coinfort

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Every created transaction gets the next dense id, custody always equals the
// sum of open amounts, and after every transaction closes the funds sit with
// exactly one party per transaction.
func TestEscrowConservationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("ids are dense and custody conserves funds", prop.ForAll(
		func(amounts []int64, released []bool) bool {
			h := newHarness(t)
			var open int64
			for i, amount := range amounts {
				id, err := h.engine.InitializeTransaction(sender, receiver, coin, big.NewInt(amount), MinTimeout)
				if err != nil || id != uint64(i) {
					return false
				}
				open += amount
				if h.custody() != open {
					return false
				}
			}

			var toReceiver int64
			for i, amount := range amounts {
				if i < len(released) && released[i] {
					if err := h.oracle.MarkSatisfied(owner, uint64(i)); err != nil {
						return false
					}
					toReceiver += amount
				}
			}
			h.advance(int64(MinTimeout))
			for i := range amounts {
				if err := h.engine.CloseTransaction(sender, uint64(i)); err != nil {
					return false
				}
			}
			return h.custody() == 0 &&
				h.balance(receiver) == toReceiver &&
				h.balance(sender) == initialFunds-toReceiver
		},
		gen.SliceOfN(8, gen.Int64Range(1, 1000)),
		gen.SliceOfN(8, gen.Bool()),
	))

	properties.TestingRun(t)
}
