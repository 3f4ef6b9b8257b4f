package engine

// Action types recorded by the checks.
const (
	ActionCreate                = "create_decomposition"
	ActionSkipDedup             = "skip_dedup"
	ActionSkipCapacity          = "skip_capacity"
	ActionSkipSaturated         = "skip_saturated"
	ActionSkipUnlinked          = "skip_unlinked"
	ActionSkipReplenishInFlight = "skip_replenishment_in_flight"
	ActionSkipWipCeiling        = "skip_wip_ceiling"
	ActionRejected              = "rejected"
	ActionError                 = "error"
)

// Check names, in tick order.
const (
	CheckGlobalOKRGap  = "global_okr_kr_gap"
	CheckGlobalKRGap   = "global_kr_area_okr_gap"
	CheckAreaOKRGap    = "area_okr_kr_gap"
	CheckAreaKRLink    = "area_kr_project_link"
	CheckInitiativeGap = "project_initiative_gap"
	CheckInventory     = "frontier_inventory"
	CheckSeeder        = "initiative_seed"
	CheckContinuation  = "exploratory_continuation"
)

// Action is one record in the tick's flat action list.
type Action struct {
	Check     string `json:"check"`
	Type      string `json:"type"`
	GoalID    string `json:"goal_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type Summary struct {
	TotalCreated  int    `json:"total_created"`
	TotalSkipped  int    `json:"total_skipped"`
	TotalRejected int    `json:"total_rejected"`
	TotalErrors   int    `json:"total_errors"`
	Error         string `json:"error,omitempty"`
}

// Report is the engine's only synchronous output: what one tick did.
type Report struct {
	Skipped bool     `json:"skipped,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Actions []Action `json:"actions"`
	Summary Summary  `json:"summary"`
}

func summarize(actions []Action) Summary {
	var s Summary
	for _, a := range actions {
		switch a.Type {
		case ActionCreate:
			s.TotalCreated++
		case ActionRejected:
			s.TotalRejected++
		case ActionError:
			s.TotalErrors++
		default:
			s.TotalSkipped++
		}
	}
	return s
}

// actionFor maps a factory result onto an action record.
func actionFor(check string, res TaskResult, goalID, projectID string) Action {
	a := Action{Check: check, GoalID: goalID, ProjectID: projectID}
	switch {
	case res.Created:
		a.Type = ActionCreate
		a.TaskID = res.Task.ID
	case res.Rejected:
		a.Type = ActionRejected
		if len(res.Reasons) > 0 {
			a.Reason = res.Reasons[0]
		}
	default:
		a.Type = ActionSkipDedup
	}
	return a
}
