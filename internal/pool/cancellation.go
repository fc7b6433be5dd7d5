package pool

import (
	"context"
	"time"

	"pawpool/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CancellationFee is round(amount × percentage / 100, 2).
func CancellationFee(amount, percentage decimal.Decimal) decimal.Decimal {
	return amount.Mul(percentage).Div(hundred).Round(2)
}

// HandleCancellation refunds a cancelled contract's pooled payments. The
// cancelling party's collateral is refunded minus the contract's
// cancellation fee, which stays in the pool as platform revenue; every
// other payment is refunded in full.
func (s *Service) HandleCancellation(ctx context.Context, contractID, cancelledBy uuid.UUID, at time.Time) (*OperationResult, error) {
	if err := s.ensureNoActiveDispute(ctx, contractID); err != nil {
		return nil, err
	}

	contract, err := s.repo.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	percentage := contract.FeePercentageOr(s.cfg.DefaultCancellationFee)

	payments, err := s.releasable(ctx, contractID, nil)
	if err != nil {
		return nil, err
	}

	actor := &cancelledBy
	result := &OperationResult{}
	for _, p := range payments {
		if p.Type.IsCollateral() && p.UserID == cancelledBy {
			fee := decimal.Min(CancellationFee(p.Amount, percentage), p.Amount)
			refund := p.Amount.Sub(fee)
			target := domain.PoolStatusPartiallyRefunded
			if !refund.IsPositive() {
				target = domain.PoolStatusRefunded
			}
			result.add(s.execute(ctx, payout{
				payment:     p,
				kind:        domain.TransactionTypeRefund,
				amount:      refund,
				fee:         fee,
				feePct:      percentage,
				target:      target,
				description: "Partial refund after cancellation penalty",
				actor:       actor,
				at:          at,
			}))
			continue
		}

		result.add(s.execute(ctx, payout{
			payment:     p,
			kind:        domain.TransactionTypeRefund,
			amount:      p.Amount,
			target:      domain.PoolStatusRefunded,
			description: "Contract cancelled - full refund",
			actor:       actor,
			at:          at,
		}))
	}

	s.logger.Info("Contract cancellation processed", map[string]interface{}{
		"contract_id":    contractID,
		"cancelled_by":   cancelledBy,
		"fee_percentage": percentage.String(),
		"succeeded":      result.Succeeded,
		"pending":        result.Pending,
		"failed":         result.Failed,
	})
	return result.finish("No pooled payments to process"), nil
}
