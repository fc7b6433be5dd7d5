package pool

import (
	"context"
	"encoding/csv"
	"io"

	"pawpool/internal/domain"
)

// ExportHeader is the first row of a transaction export.
var ExportHeader = []string{"ID", "Date", "User", "Contract", "Type", "Amount", "Currency", "Status", "Description"}

// ExportTransactions writes every entry matching filter as CSV and returns
// the number of data rows written. Limit and Offset are ignored.
func (s *Service) ExportTransactions(ctx context.Context, w io.Writer, filter domain.TransactionFilter) (int, error) {
	filter.Limit = 0
	filter.Offset = 0
	entries, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return 0, err
	}
	for _, e := range entries {
		contract := ""
		if e.ContractID != nil {
			contract = e.ContractID.String()
		}
		row := []string{
			e.ID.String(),
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			e.UserID.String(),
			contract,
			e.Type.Label(),
			e.Amount.StringFixed(2),
			string(e.Currency),
			e.Status.Label(),
			e.Description,
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(entries), nil
}
