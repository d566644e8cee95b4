package domain

// Action types for governed mutations.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionQuery  = "QUERY"
)

// Action statuses. Legal transitions are PENDING -> EXECUTED|FAILED and
// EXECUTED -> ROLLED_BACK; nothing else.
const (
	StatusPending    = "PENDING"
	StatusExecuted   = "EXECUTED"
	StatusFailed     = "FAILED"
	StatusRolledBack = "ROLLED_BACK"
)

// ActionRecord is the durable audit entry for one governed mutation attempt.
// It carries enough state to reconstruct and reverse the mutation.
type ActionRecord struct {
	ID             string         `json:"id"`
	AgentID        *string        `json:"agent_id,omitempty"`
	PrincipalID    string         `json:"principal_id"`
	SessionID      string         `json:"session_id,omitempty"`
	ActionType     string         `json:"action_type" enum:"CREATE,UPDATE,DELETE,QUERY"`
	Status         string         `json:"status" enum:"PENDING,EXECUTED,FAILED,ROLLED_BACK"`
	TargetType     string         `json:"target_type"`
	TargetID       string         `json:"target_id,omitempty"`
	DataBefore     map[string]any `json:"data_before,omitempty"`
	DataAfter      map[string]any `json:"data_after,omitempty"`
	UserPrompt     string         `json:"user_prompt,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	RollbackReason string         `json:"rollback_reason,omitempty"`
	RolledBackBy   string         `json:"rolled_back_by,omitempty"`
	DurationMS     int64          `json:"duration_ms,omitempty"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	ExecutedAt     *string        `json:"executed_at,omitempty" format:"date-time"`
	RolledBackAt   *string        `json:"rolled_back_at,omitempty" format:"date-time"`
}

// CanRollback reports whether the record satisfies the rollback policy:
// executed, and a mutation rather than a query.
func (a ActionRecord) CanRollback() bool {
	if a.Status != StatusExecuted {
		return false
	}
	switch a.ActionType {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ToolParameter describes one parameter of a callable tool.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type" enum:"string,integer,number,boolean,array,object"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// ToolDefinition is static metadata for a callable operation. Immutable
// after registration.
type ToolDefinition struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Category         string          `json:"category" enum:"crud,query,system"`
	TargetType       string          `json:"target_type"`
	Parameters       []ToolParameter `json:"parameters,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

// Agent is a configured assistant profile.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description,omitempty"`
	AgentType    string   `json:"agent_type"`
	LLMModel     string   `json:"llm_model"`
	Temperature  float64  `json:"temperature"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
	AutoExecute  bool     `json:"auto_execute"`
	IsActive     bool     `json:"is_active"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

// Message is one turn in a conversation session.
type Message struct {
	Role      string `json:"role" enum:"user,assistant,tool"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

// Session groups the actions and messages of one conversation.
type Session struct {
	SessionID         string    `json:"session_id"`
	PrincipalID       string    `json:"principal_id"`
	AgentID           *string   `json:"agent_id,omitempty"`
	Title             string    `json:"title,omitempty"`
	Messages          []Message `json:"messages,omitempty"`
	TotalActions      int       `json:"total_actions"`
	SuccessfulActions int       `json:"successful_actions"`
	FailedActions     int       `json:"failed_actions"`
	CreatedAt         string    `json:"created_at" format:"date-time"`
	UpdatedAt         string    `json:"updated_at" format:"date-time"`
}

// Business records managed by the agent tools.

type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TaxID     string `json:"tax_id,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Notes     string `json:"notes,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type AuditProject struct {
	ID          string  `json:"id"`
	ClientID    string  `json:"client_id"`
	ProjectName string  `json:"project_name"`
	AuditType   string  `json:"audit_type" enum:"FINANCIAL,INTERNAL,COMPLIANCE,TAX,FORENSIC,IT,OTHER"`
	Status      string  `json:"status" enum:"PLANNING,IN_PROGRESS,FIELDWORK,REVIEW,COMPLETED,ON_HOLD,CANCELLED"`
	StartDate   *string `json:"start_date,omitempty" format:"date"`
	EndDate     *string `json:"end_date,omitempty" format:"date"`
	Budget      float64 `json:"budget,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	IsActive    bool    `json:"is_active"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type BillableHour struct {
	ID           string  `json:"id"`
	EmployeeName string  `json:"employee_name"`
	ClientID     string  `json:"client_id"`
	ProjectID    *string `json:"project_id,omitempty"`
	Role         string  `json:"role" enum:"PARTNER,SENIOR_MANAGER,MANAGER,SENIOR,STAFF,INTERN"`
	Hours        float64 `json:"hours"`
	HourlyRate   float64 `json:"hourly_rate"`
	Multiplier   float64 `json:"multiplier"`
	Description  string  `json:"description,omitempty"`
	WorkDate     *string `json:"work_date,omitempty" format:"date"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Revenue struct {
	ID          string  `json:"id"`
	ClientID    string  `json:"client_id"`
	ProjectID   *string `json:"project_id,omitempty"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	InvoiceDate *string `json:"invoice_date,omitempty" format:"date"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
	Status      string  `json:"status" enum:"DRAFT,INVOICED,PARTIALLY_PAID,PAID,OVERDUE,CANCELLED"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type TaxReturnCase struct {
	ID             string  `json:"id"`
	ClientID       string  `json:"client_id"`
	TaxYear        string  `json:"tax_year"`
	TaxType        string  `json:"tax_type" enum:"PROFITS,SALARIES,PROPERTY,EMPLOYER,BIR60,OTHER"`
	Status         string  `json:"status" enum:"NOT_STARTED,DATA_COLLECTION,PREPARATION,REVIEW,FILED,ASSESSMENT,COMPLETED,OBJECTION"`
	FilingDeadline *string `json:"filing_deadline,omitempty" format:"date"`
	Notes          string  `json:"notes,omitempty"`
	IsActive       bool    `json:"is_active"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"key_hash"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only trail written alongside every status
// transition.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
