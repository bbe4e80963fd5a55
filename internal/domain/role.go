package domain

// RolePrompt is the accepted artifact of one role
type RolePrompt struct {
	RoleID           string       `json:"role_id"`
	RoleName         string       `json:"role_name"`
	RoleType         RoleCategory `json:"role_type"`
	Description      string       `json:"description"`
	Prompt           string       `json:"prompt"`
	InputTemplate    string       `json:"input_template"`
	OutputFormat     string       `json:"output_format"`
	Triggers         []string     `json:"triggers"`
	CollaboratesWith []string     `json:"collaborates_with,omitempty"`
}

// Weakness is a problem the reviewer found in a candidate prompt
type Weakness struct {
	Issue    string `json:"issue"`
	Severity string `json:"severity"`
	Location string `json:"location"`
	Impact   string `json:"impact,omitempty"`
}

// Suggestion is a reviewer recommendation
type Suggestion struct {
	Priority   string `json:"priority"`
	Suggestion string `json:"suggestion"`
	Example    string `json:"example,omitempty"`
}

// ReviewResult is the parsed output of one Review step.
type ReviewResult struct {
	Score       float64        `json:"score"`
	Strengths   []string       `json:"strengths"`
	Weaknesses  []Weakness     `json:"weaknesses"`
	Suggestions []Suggestion   `json:"suggestions"`
	Verdict     string         `json:"verdict,omitempty"`
	Dimensions  map[string]any `json:"dimensions,omitempty"`
}

// RoleRun is the mutable per-role record. Only the worker that owns the
// role writes to it.
type RoleRun struct {
	Index      int           `json:"index"`
	RoleID     string        `json:"role_id"`
	RoleName   string        `json:"role_name"`
	Category   RoleCategory  `json:"role_type"`
	Status     RoleStatus    `json:"status"`
	Prompt     string        `json:"prompt"`
	Review     *ReviewResult `json:"review,omitempty"`
	Iterations int           `json:"iterations"`
	FinalScore float64       `json:"final_score"`
	Error      string        `json:"error,omitempty"`
}

// NewRoleRuns builds pending role records for a roster.
func NewRoleRuns(roles []RoleSpec) []RoleRun {
	runs := make([]RoleRun, len(roles))
	for i, r := range roles {
		runs[i] = RoleRun{
			Index:    i,
			RoleID:   r.ID,
			RoleName: r.Name,
			Category: r.Category,
			Status:   RolePending,
		}
	}
	return runs
}

// Clone returns a deep copy.
func (r RoleRun) Clone() RoleRun {
	if r.Review != nil {
		rv := *r.Review
		rv.Strengths = append([]string(nil), rv.Strengths...)
		rv.Weaknesses = append([]Weakness(nil), rv.Weaknesses...)
		rv.Suggestions = append([]Suggestion(nil), rv.Suggestions...)
		if rv.Dimensions != nil {
			dims := make(map[string]any, len(rv.Dimensions))
			for k, v := range rv.Dimensions {
				dims[k] = v
			}
			rv.Dimensions = dims
		}
		r.Review = &rv
	}
	return r
}
