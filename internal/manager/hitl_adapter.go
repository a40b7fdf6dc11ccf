package manager

import "github.com/agentworld/runtime/internal/approval"

// HITLEnqueuerAdapter narrows approval.HITLTable.Enqueue's
// (*models.HITLRequest, error) return down to internal/tools.HITLEnqueuer's
// (requestID string, error) shape: the hitl_request tool only needs to
// report the new request's ID back to the model, not the full record.
type HITLEnqueuerAdapter struct {
	table *approval.HITLTable
}

// NewHITLEnqueuer adapts table to internal/tools.HITLEnqueuer.
func NewHITLEnqueuer(table *approval.HITLTable) *HITLEnqueuerAdapter {
	return &HITLEnqueuerAdapter{table: table}
}

func (a *HITLEnqueuerAdapter) Enqueue(worldID, prompt string, options []string, metadata map[string]any) (string, error) {
	req, err := a.table.Enqueue(worldID, prompt, options, metadata)
	if err != nil {
		return "", err
	}
	return req.RequestID, nil
}
