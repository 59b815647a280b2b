package statesync

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/hyperengineering/syncdesk/internal/table"
)

// Export column sets.
var (
	ProposedColumns = []string{
		"Ticket ID",
		"Estado Actual (Clarity)",
		"Estado Propuesto (Freshdesk)",
		"Estado Freshdesk Original",
		"Investment ID",
		"Internal ID",
	}
	ResultColumns = []string{
		"Ticket ID",
		"Estado Actual (Clarity)",
		"Estado Propuesto (Freshdesk)",
		"Estado Freshdesk Original",
		"Resultado",
		"Error",
		"Investment ID",
		"Internal ID",
		"Timestamp",
	}
)

// ExportProposed writes the pending changes to an XLSX file in dir and
// returns its path.
func ExportProposed(dir string, diffs []Difference, at time.Time) (string, error) {
	records := make([][]string, 0, len(diffs))
	for _, d := range diffs {
		var ids RemoteIDs
		if d.IDs != nil {
			ids = *d.IDs
		}
		records = append(records, []string{
			d.TicketID, d.CurrentStatus, d.ProposedStatus, d.SourceStatus,
			ids.InvestmentID, ids.InternalID,
		})
	}
	path := filepath.Join(dir, fmt.Sprintf("cambios_propuestos_%s.xlsx", at.Format("20060102_150405")))
	if err := table.WriteXLSX(path, "Cambios Propuestos", ProposedColumns, records); err != nil {
		return "", fmt.Errorf("export proposed changes: %w", err)
	}
	return path, nil
}

// ExportResults writes the apply outcomes to an XLSX file in dir and
// returns its path.
func ExportResults(dir string, outcomes []Outcome, at time.Time) (string, error) {
	records := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		result := "Éxito"
		if o.Result == ResultError {
			result = "Error"
		}
		records = append(records, []string{
			o.TicketID, o.PriorStatus, o.AttemptedStatus, o.SourceStatus,
			result, o.Error, o.IDs.InvestmentID, o.IDs.InternalID,
			o.At.Format(time.RFC3339),
		})
	}
	path := filepath.Join(dir, fmt.Sprintf("resultados_sincronizacion_%s.xlsx", at.Format("20060102_150405")))
	if err := table.WriteXLSX(path, "Resultados", ResultColumns, records); err != nil {
		return "", fmt.Errorf("export results: %w", err)
	}
	return path, nil
}
