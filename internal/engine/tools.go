package engine

import (
	"fmt"
	"sync"

	"agentline/internal/domain"
	"agentline/internal/provider"
)

// Binding ties a tool definition to the governed action it performs.
// ActionType is empty for system tools like rollback, which have their own
// execution path.
type Binding struct {
	Def        domain.ToolDefinition
	ActionType string
}

// ToolCatalog is the registry of callable tools. Register until Freeze;
// frozen catalogs are safe for unlocked concurrent reads.
type ToolCatalog struct {
	mu     sync.RWMutex
	frozen bool
	byName map[string]Binding
	order  []string
}

func NewToolCatalog() *ToolCatalog {
	return &ToolCatalog{byName: map[string]Binding{}}
}

func (c *ToolCatalog) Register(b Binding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("tool catalog is frozen")
	}
	if _, exists := c.byName[b.Def.Name]; exists {
		return fmt.Errorf("tool %s already registered", b.Def.Name)
	}
	c.byName[b.Def.Name] = b
	c.order = append(c.order, b.Def.Name)
	return nil
}

func (c *ToolCatalog) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

func (c *ToolCatalog) Get(name string) (Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byName[name]
	return b, ok
}

func (c *ToolCatalog) List() []domain.ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ToolDefinition, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name].Def)
	}
	return out
}

// Schemas renders every tool as a provider function schema.
func (c *ToolCatalog) Schemas(allowed []string) []provider.Tool {
	allowedSet := map[string]bool{}
	for _, name := range allowed {
		allowedSet[name] = true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]provider.Tool, 0, len(c.order))
	for _, name := range c.order {
		if len(allowedSet) > 0 && !allowedSet[name] {
			continue
		}
		out = append(out, toFunctionSchema(c.byName[name].Def))
	}
	return out
}

func toFunctionSchema(def domain.ToolDefinition) provider.Tool {
	properties := map[string]any{}
	var required []string
	for _, p := range def.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return provider.Tool{
		Name:        def.Name,
		Description: def.Description,
		Parameters:  schema,
	}
}

func p(name, typ, desc string) domain.ToolParameter {
	return domain.ToolParameter{Name: name, Type: typ, Description: desc}
}

func req(name, typ, desc string) domain.ToolParameter {
	return domain.ToolParameter{Name: name, Type: typ, Description: desc, Required: true}
}

func enum(name, desc string, values []string) domain.ToolParameter {
	return domain.ToolParameter{Name: name, Type: "string", Description: desc, Enum: values}
}

func reqEnum(name, desc string, values []string) domain.ToolParameter {
	return domain.ToolParameter{Name: name, Type: "string", Description: desc, Enum: values, Required: true}
}

var (
	auditTypes    = []string{"FINANCIAL", "INTERNAL", "COMPLIANCE", "TAX", "FORENSIC", "IT", "OTHER"}
	projectStates = []string{"PLANNING", "IN_PROGRESS", "FIELDWORK", "REVIEW", "COMPLETED", "ON_HOLD", "CANCELLED"}
	staffRoles    = []string{"PARTNER", "SENIOR_MANAGER", "MANAGER", "SENIOR", "STAFF", "INTERN"}
	revenueStates = []string{"DRAFT", "INVOICED", "PARTIALLY_PAID", "PAID", "OVERDUE", "CANCELLED"}
	taxTypes      = []string{"PROFITS", "SALARIES", "PROPERTY", "EMPLOYER", "BIR60", "OTHER"}
	taxStates     = []string{"NOT_STARTED", "DATA_COLLECTION", "PREPARATION", "REVIEW", "FILED", "ASSESSMENT", "COMPLETED", "OBJECTION"}
)

// RegisterBuiltinTools fills the catalog with the business CRUD tools and
// the rollback system tool, then freezes it.
func RegisterBuiltinTools(c *ToolCatalog) error {
	crud := func(name, desc, targetType, actionType string, params ...domain.ToolParameter) Binding {
		category := "crud"
		if actionType == domain.ActionQuery {
			category = "query"
		}
		return Binding{
			Def: domain.ToolDefinition{
				Name:        name,
				Description: desc,
				Category:    category,
				TargetType:  targetType,
				Parameters:  params,
			},
			ActionType: actionType,
		}
	}

	idParam := req("id", "string", "Record identifier")
	limitParam := p("limit", "integer", "Maximum number of results")

	bindings := []Binding{
		// Companies.
		crud("create_company", "Create a client company record.", "business.Company", domain.ActionCreate,
			req("name", "string", "Company name"),
			p("tax_id", "string", "Business registration or tax number"),
			p("industry", "string", "Industry sector"),
			p("notes", "string", "Free-form notes")),
		crud("update_company", "Update fields on an existing company.", "business.Company", domain.ActionUpdate,
			idParam,
			p("name", "string", "Company name"),
			p("tax_id", "string", "Business registration or tax number"),
			p("industry", "string", "Industry sector"),
			p("notes", "string", "Free-form notes")),
		crud("delete_company", "Deactivate a company record.", "business.Company", domain.ActionDelete, idParam),
		crud("query_companies", "List companies matching filters.", "business.Company", domain.ActionQuery,
			p("name", "string", "Exact company name"),
			p("industry", "string", "Industry sector"),
			limitParam),

		// Audit projects.
		crud("create_audit_project", "Create an audit engagement for a client.", "business.AuditProject", domain.ActionCreate,
			req("client_id", "string", "Client company id"),
			req("project_name", "string", "Engagement name"),
			reqEnum("audit_type", "Type of audit", auditTypes),
			enum("status", "Engagement status", projectStates),
			p("start_date", "string", "Planned start date, YYYY-MM-DD"),
			p("end_date", "string", "Planned end date, YYYY-MM-DD"),
			p("budget", "number", "Engagement budget"),
			p("notes", "string", "Free-form notes")),
		crud("update_audit_project", "Update fields on an audit engagement.", "business.AuditProject", domain.ActionUpdate,
			idParam,
			p("project_name", "string", "Engagement name"),
			enum("audit_type", "Type of audit", auditTypes),
			enum("status", "Engagement status", projectStates),
			p("start_date", "string", "Planned start date, YYYY-MM-DD"),
			p("end_date", "string", "Planned end date, YYYY-MM-DD"),
			p("budget", "number", "Engagement budget"),
			p("notes", "string", "Free-form notes")),
		crud("delete_audit_project", "Deactivate an audit engagement.", "business.AuditProject", domain.ActionDelete, idParam),
		crud("query_audit_projects", "List audit engagements matching filters.", "business.AuditProject", domain.ActionQuery,
			p("client_id", "string", "Client company id"),
			enum("audit_type", "Type of audit", auditTypes),
			enum("status", "Engagement status", projectStates),
			limitParam),

		// Billable hours.
		crud("create_billable_hour", "Record billable time for an employee.", "business.BillableHour", domain.ActionCreate,
			req("employee_name", "string", "Employee who did the work"),
			req("client_id", "string", "Client company id"),
			reqEnum("role", "Billing role", staffRoles),
			req("hours", "number", "Hours worked"),
			req("hourly_rate", "number", "Billing rate per hour"),
			p("project_id", "string", "Related audit project id"),
			p("multiplier", "number", "Rate multiplier"),
			p("description", "string", "Work description"),
			p("work_date", "string", "Date of work, YYYY-MM-DD")),
		crud("update_billable_hour", "Update a billable time record.", "business.BillableHour", domain.ActionUpdate,
			idParam,
			p("employee_name", "string", "Employee who did the work"),
			enum("role", "Billing role", staffRoles),
			p("hours", "number", "Hours worked"),
			p("hourly_rate", "number", "Billing rate per hour"),
			p("multiplier", "number", "Rate multiplier"),
			p("description", "string", "Work description"),
			p("work_date", "string", "Date of work, YYYY-MM-DD")),
		crud("delete_billable_hour", "Delete a billable time record.", "business.BillableHour", domain.ActionDelete, idParam),
		crud("query_billable_hours", "List billable time records matching filters.", "business.BillableHour", domain.ActionQuery,
			p("employee_name", "string", "Employee name"),
			p("client_id", "string", "Client company id"),
			p("project_id", "string", "Related audit project id"),
			enum("role", "Billing role", staffRoles),
			limitParam),

		// Revenues.
		crud("create_revenue", "Record a revenue or invoice line for a client.", "business.Revenue", domain.ActionCreate,
			req("client_id", "string", "Client company id"),
			req("description", "string", "What the revenue is for"),
			req("amount", "number", "Amount in the given currency"),
			p("currency", "string", "Currency code"),
			p("project_id", "string", "Related audit project id"),
			p("invoice_date", "string", "Invoice date, YYYY-MM-DD"),
			p("due_date", "string", "Payment due date, YYYY-MM-DD"),
			enum("status", "Invoice status", revenueStates)),
		crud("update_revenue", "Update a revenue record.", "business.Revenue", domain.ActionUpdate,
			idParam,
			p("description", "string", "What the revenue is for"),
			p("amount", "number", "Amount in the given currency"),
			p("currency", "string", "Currency code"),
			p("invoice_date", "string", "Invoice date, YYYY-MM-DD"),
			p("due_date", "string", "Payment due date, YYYY-MM-DD"),
			enum("status", "Invoice status", revenueStates)),
		crud("delete_revenue", "Delete a revenue record.", "business.Revenue", domain.ActionDelete, idParam),
		crud("query_revenues", "List revenue records matching filters.", "business.Revenue", domain.ActionQuery,
			p("client_id", "string", "Client company id"),
			p("project_id", "string", "Related audit project id"),
			enum("status", "Invoice status", revenueStates),
			limitParam),

		// Tax return cases.
		crud("create_tax_return_case", "Open a tax return case for a client.", "business.TaxReturnCase", domain.ActionCreate,
			req("client_id", "string", "Client company id"),
			req("tax_year", "string", "Year of assessment, e.g. 2024/25"),
			reqEnum("tax_type", "Type of return", taxTypes),
			enum("status", "Case status", taxStates),
			p("filing_deadline", "string", "Filing deadline, YYYY-MM-DD"),
			p("notes", "string", "Free-form notes")),
		crud("update_tax_return_case", "Update a tax return case.", "business.TaxReturnCase", domain.ActionUpdate,
			idParam,
			p("tax_year", "string", "Year of assessment"),
			enum("tax_type", "Type of return", taxTypes),
			enum("status", "Case status", taxStates),
			p("filing_deadline", "string", "Filing deadline, YYYY-MM-DD"),
			p("notes", "string", "Free-form notes")),
		crud("delete_tax_return_case", "Deactivate a tax return case.", "business.TaxReturnCase", domain.ActionDelete, idParam),
		crud("query_tax_return_cases", "List tax return cases matching filters.", "business.TaxReturnCase", domain.ActionQuery,
			p("client_id", "string", "Client company id"),
			p("tax_year", "string", "Year of assessment"),
			enum("tax_type", "Type of return", taxTypes),
			enum("status", "Case status", taxStates),
			limitParam),

		// System.
		{
			Def: domain.ToolDefinition{
				Name:        "rollback_action",
				Description: "Reverse a previously executed action by id.",
				Category:    "system",
				Parameters: []domain.ToolParameter{
					req("action_id", "string", "Id of the executed action to reverse"),
					p("reason", "string", "Why the action is being reversed"),
				},
				RequiresApproval: true,
			},
		},
	}

	for _, b := range bindings {
		if err := c.Register(b); err != nil {
			return err
		}
	}
	c.Freeze()
	return nil
}
