package domain

import "context"

// Notary finalizes a fully signed transaction by committing its inputs as
// consumed and returning its own signature. A conflict is reported as a
// *ConflictError.
type Notary interface {
	Notarise(ctx context.Context, stx SignedTransaction) (Signature, error)
}
