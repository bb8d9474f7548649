package stream

import "github.com/perchlabs/perch-client/internal/models"

// ProjectThread derives the root+replies view from a log snapshot: the
// root message followed by every entry whose ParentID equals the root's
// ID, in log order.
//
// It is a pure function of its inputs - no state, no side effects - and
// must be recomputed whenever the log or the selected root changes.
// A tombstoned root is still projected: replies may exist and need the
// root as context, so its deleted state is rendered rather than hidden.
// An unknown rootID yields an empty projection.
func ProjectThread(log []models.Message, rootID string) []models.Message {
	if rootID == "" {
		return nil
	}

	var out []models.Message
	for i := range log {
		if log[i].ID == rootID {
			out = append(out, log[i])
			break
		}
	}
	if out == nil {
		return nil
	}

	for i := range log {
		if log[i].ParentID == rootID && log[i].ID != rootID {
			out = append(out, log[i])
		}
	}
	return out
}
