package prover

import (
	"github.com/consensys/gnark/frontend"
)

// Product is the number the prover demonstrates a factorisation of.
const Product = 42

// factorBits bounds both factors so the product cannot wrap the field.
const factorBits = 8

// FactorCircuit proves knowledge of a non-trivial factorisation of Product.
// Address binds the proof to the account that will submit it.
type FactorCircuit struct {
	Address frontend.Variable `gnark:",public"`
	A       frontend.Variable
	B       frontend.Variable
}

func (c *FactorCircuit) Define(api frontend.API) error {
	api.ToBinary(c.A, factorBits)
	api.ToBinary(c.B, factorBits)
	api.AssertIsDifferent(c.A, 1)
	api.AssertIsDifferent(c.B, 1)
	api.AssertIsEqual(api.Mul(c.A, c.B), Product)
	api.AssertIsDifferent(c.Address, 0)
	return nil
}
