package domain

type WorkflowInstance struct {
	ID                string   `json:"id"`
	LandownerID       string   `json:"landowner_id"`
	Title             string   `json:"title"`
	LocationText      string   `json:"location_text,omitempty"`
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	AreaAcres         float64  `json:"area_acres,omitempty"`
	LandType          string   `json:"land_type,omitempty"`
	EnergyCategory    string   `json:"energy_category,omitempty" enum:"solar,wind,hydroelectric,biomass,geothermal"`
	CapacityMW        float64  `json:"capacity_mw,omitempty"`
	PricePerMWh       float64  `json:"price_per_mwh,omitempty"`
	ContractTermYears int      `json:"contract_term_years,omitempty"`
	DeveloperName     string   `json:"developer_name,omitempty"`
	TimelineText      string   `json:"timeline_text,omitempty"`
	AdminNotes        string   `json:"admin_notes,omitempty"`
	State             string   `json:"state" enum:"submitted,verified_by_admin,tasks_assigned,in_progress,interest_request,interest_accepted,ready_to_build"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID           string  `json:"id"`
	WorkflowID   string  `json:"workflow_id"`
	AssignedRole string  `json:"assigned_role" enum:"re_sales_advisor,re_analyst,re_governance_lead,project_manager"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"assigned,in_progress,pending,delayed,completed,rejected,on_hold"`
	TimelineText string  `json:"timeline_text,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Ticket struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflow_id"`
	TaskID      string `json:"task_id"`
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority" enum:"low,medium,high,urgent"`
	FromRole    string `json:"from_role"`
	ToRole      string `json:"to_role"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type SLADocument struct {
	ID         string  `json:"id"`
	WorkflowID string  `json:"workflow_id"`
	TaskID     *string `json:"task_id,omitempty"`
	FileName   string  `json:"file_name"`
	UploadedBy string  `json:"uploaded_by"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
