// Package notary implements the uniqueness service that prevents a state
// version from being consumed twice.
package notary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/iouledger/internal/crypto"
	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Service verifies, commits and signs transactions naming this notary.
type Service struct {
	me       domain.Party
	signer   *crypto.Signer
	provider domain.UniquenessProvider
	logger   *slog.Logger
}

// NewService creates a notary Service. The signer's address must be me.Address.
func NewService(me domain.Party, signer *crypto.Signer, provider domain.UniquenessProvider, logger *slog.Logger) (*Service, error) {
	if signer.Address() != me.Address {
		return nil, fmt.Errorf("notary: key address %s does not match identity %s", signer.Address().Hex(), me.Address.Hex())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		me:       me,
		signer:   signer,
		provider: provider,
		logger:   logger.With(slog.String("component", "notary")),
	}, nil
}

// Party returns the notary identity.
func (s *Service) Party() domain.Party {
	return s.me
}

// Notarise checks that stx names this notary and carries every required
// signature, then commits its inputs and signs its id. Notarising the same
// transaction again returns a fresh signature and changes nothing.
func (s *Service) Notarise(ctx context.Context, stx domain.SignedTransaction) (domain.Signature, error) {
	log := s.logger.With(slog.String("tx_id", stx.ID.Hex()))

	if stx.Tx.Notary.Address != s.me.Address {
		return domain.Signature{}, fmt.Errorf("notary: transaction names notary %s, not %s: %w",
			stx.Tx.Notary, s.me, domain.ErrNotarizationFailed)
	}

	var required []common.Address
	for _, addr := range stx.Tx.RequiredSigners() {
		if addr != s.me.Address {
			required = append(required, addr)
		}
	}
	if err := crypto.VerifyTransaction(stx, required...); err != nil {
		log.WarnContext(ctx, "notary: refusing transaction", slog.String("error", err.Error()))
		return domain.Signature{}, fmt.Errorf("notary: %w: %w", domain.ErrNotarizationFailed, err)
	}

	if err := s.provider.Commit(ctx, stx.ID, stx.Tx.Inputs); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			log.WarnContext(ctx, "notary: double spend",
				slog.String("ref", conflict.Ref.String()),
				slog.String("consumed_by", conflict.ConsumedBy.Hex()),
			)
			return domain.Signature{}, err
		}
		return domain.Signature{}, fmt.Errorf("notary: commit: %w: %w", domain.ErrNotarizationFailed, err)
	}

	sig, err := s.signer.SignTx(stx.ID)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("notary: %w: %w", domain.ErrNotarizationFailed, err)
	}
	log.InfoContext(ctx, "notary: transaction notarised", slog.Int("inputs", len(stx.Tx.Inputs)))
	return sig, nil
}

// Compile-time interface check.
var _ domain.Notary = (*Service)(nil)
