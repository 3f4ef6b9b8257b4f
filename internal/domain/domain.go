package domain

// Goal type ladder, top to bottom. A goal's parent is always the type
// directly above it; layer skipping is disallowed.
const (
	GoalGlobalOKR = "global_okr"
	GoalGlobalKR  = "global_kr"
	GoalAreaOKR   = "area_okr"
	GoalAreaKR    = "area_kr"
)

// ChildGoalType returns the goal type directly below t in the ladder,
// or "" for the bottom layer.
func ChildGoalType(t string) string {
	switch t {
	case GoalGlobalOKR:
		return GoalGlobalKR
	case GoalGlobalKR:
		return GoalAreaOKR
	case GoalAreaOKR:
		return GoalAreaKR
	}
	return ""
}

type Goal struct {
	ID        string  `json:"id"`
	Type      string  `json:"type" enum:"global_okr,global_kr,area_okr,area_kr"`
	ParentID  *string `json:"parent_id,omitempty"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Project struct {
	ID                 string  `json:"id"`
	Type               string  `json:"type" enum:"project,initiative"`
	ParentID           *string `json:"parent_id,omitempty"`
	KrID               *string `json:"kr_id,omitempty"`
	Title              string  `json:"title"`
	Status             string  `json:"status"`
	DecompositionDepth int     `json:"decomposition_depth"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

type ProjectKrLink struct {
	ProjectID string `json:"project_id"`
	KrID      string `json:"kr_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status" enum:"queued,in_progress,completed,failed,canceled,cancelled"`
	GoalID        *string `json:"goal_id,omitempty"`
	ProjectID     *string `json:"project_id,omitempty"`
	TaskType      string  `json:"task_type"`
	Priority      string  `json:"priority,omitempty"`
	TriggerSource string  `json:"trigger_source,omitempty"`
	PayloadJSON   string  `json:"payload_json,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
	CompletedAt   *string `json:"completed_at,omitempty" format:"date-time"`
}

type SystemFlag struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
