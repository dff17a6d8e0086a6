// Package router resolves which role must handle a message next. Every
// function here is a pure function of the message: no state, no I/O.
package router

import (
	"encoding/json"
	"strconv"
	"strings"

	"orgline/internal/domain"
)

// EscalationAmount is the approval amount above which an unmatched approval
// request escalates to the top role.
const EscalationAmount = 100000

type keywordRoute struct {
	keyword string
	role    domain.Role
}

var dataCategoryRoutes = map[string]domain.Role{
	"technology": domain.RoleCTO,
	"financial":  domain.RoleCFO,
	"market":     domain.RoleCMO,
	"product":    domain.RoleCPO,
	"customer":   domain.RoleCustomerSupport,
	"general":    domain.RoleDataAnalyst,
}

var dataRequestTypeRoutes = map[string]domain.Role{
	"metrics":          domain.RoleDataAnalyst,
	"kpi":              domain.RoleDataAnalyst,
	"financial_report": domain.RoleCFO,
	"tech_stack":       domain.RoleCTO,
	"security":         domain.RoleCTO,
	"market_data":      domain.RoleCMO,
}

// Substring tables are ordered: the first matching keyword wins.
var approverRoutes = []keywordRoute{
	{"budget", domain.RoleCFO},
	{"financial", domain.RoleCFO},
	{"technology", domain.RoleCTO},
	{"tech", domain.RoleCTO},
	{"product", domain.RoleCPO},
	{"hr", domain.RoleHR},
	{"marketing", domain.RoleCMO},
}

var collaborationRoutes = []keywordRoute{
	{"technical", domain.RoleCTO},
	{"technology", domain.RoleCTO},
	{"development", domain.RoleRD},
	{"product", domain.RoleCPO},
	{"marketing", domain.RoleCMO},
	{"financial", domain.RoleCFO},
	{"hr", domain.RoleHR},
	{"strategy", domain.TopRole()},
	{"operations", domain.RoleOperations},
}

var approvalCategories = []string{
	"budget", "financial", "technology", "tech", "product",
	"architectural", "deployment", "security",
}

var alertKeywords = []string{
	"critical", "error", "failed", "emergency", "urgent",
	"down", "broken", "severe", "high",
}

const (
	defaultAssignee     = domain.RoleRD
	defaultDataSource   = domain.RoleDataAnalyst
	defaultApprover     = domain.RoleCFO
	defaultCollaborator = domain.RoleOperations
	alertRecipient      = domain.RoleOperations
	defaultRecipient    = domain.RoleOperations
)

// Route returns the role that must handle m next. It never fails: when no
// rule matches, a documented default role is returned.
func Route(m domain.Message) domain.Role {
	switch m.Type {
	case domain.MessageTaskAssignment:
		return routeTaskAssignment(m)
	case domain.MessageStatusReport:
		return domain.TopRole()
	case domain.MessageDataRequest:
		return routeDataRequest(m)
	case domain.MessageDataResponse:
		if r, ok := roleValue(m.Content["requester"]); ok {
			return r
		}
		return m.Sender
	case domain.MessageApprovalRequest:
		return routeApproval(m)
	case domain.MessageApprovalResponse:
		if r, ok := roleValue(m.Content["requester"]); ok {
			return r
		}
		if m.Recipient.Valid() {
			return m.Recipient
		}
		return m.Sender
	case domain.MessageAlert:
		return alertRecipient
	case domain.MessageCollaboration:
		return routeCollaboration(m)
	}
	return defaultRecipient
}

func routeTaskAssignment(m domain.Message) domain.Role {
	if task, ok := m.Content["task"].(map[string]any); ok {
		if r, ok := roleValue(task["assigned_to"]); ok {
			return r
		}
	}
	if r, ok := roleValue(m.Content["assigned_to"]); ok {
		return r
	}
	if r, ok := roleValue(m.Content["assignee"]); ok {
		return r
	}
	return defaultAssignee
}

func routeDataRequest(m domain.Message) domain.Role {
	if r, ok := dataCategoryRoutes[stringValue(m.Content["data_category"])]; ok {
		return r
	}
	if r, ok := dataRequestTypeRoutes[stringValue(m.Content["request_type"])]; ok {
		return r
	}
	return defaultDataSource
}

func routeApproval(m domain.Message) domain.Role {
	requestType := strings.ToLower(stringValue(m.Content["request_type"]))
	for _, kr := range approverRoutes {
		if strings.Contains(requestType, kr.keyword) {
			return kr.role
		}
	}
	if approvalAmount(m.Content) > EscalationAmount {
		return domain.TopRole()
	}
	return defaultApprover
}

func routeCollaboration(m domain.Message) domain.Role {
	if r, ok := roleValue(m.Content["requires_role"]); ok {
		return r
	}
	topic := strings.ToLower(stringValue(m.Content["topic"]))
	kind := strings.ToLower(stringValue(m.Content["type"]))
	for _, kr := range collaborationRoutes {
		if strings.Contains(topic, kr.keyword) || strings.Contains(kind, kr.keyword) {
			return kr.role
		}
	}
	return defaultCollaborator
}

// NeedsApproval is true only for approval requests whose request type names
// one of the approval categories.
func NeedsApproval(m domain.Message) bool {
	if m.Type != domain.MessageApprovalRequest {
		return false
	}
	requestType := strings.ToLower(stringValue(m.Content["request_type"]))
	for _, c := range approvalCategories {
		if strings.Contains(requestType, c) {
			return true
		}
	}
	return false
}

// ShouldAlert is true for every alert and for status reports whose status
// text carries an alert keyword.
func ShouldAlert(m domain.Message) bool {
	if m.Type == domain.MessageAlert {
		return true
	}
	if m.Type != domain.MessageStatusReport {
		return false
	}
	status := strings.ToLower(stringValue(m.Content["status"]))
	for _, kw := range alertKeywords {
		if strings.Contains(status, kw) {
			return true
		}
	}
	return false
}

// ApprovalPath is the approval chain for a message type.
func ApprovalPath(t domain.MessageType) []domain.Role {
	if t != domain.MessageApprovalRequest {
		return nil
	}
	return []domain.Role{domain.RoleCFO, domain.TopRole()}
}

func approvalAmount(content map[string]any) float64 {
	if v, ok := numberValue(content["amount"]); ok {
		return v
	}
	v, _ := numberValue(content["budget"])
	return v
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case domain.Role:
		return string(s)
	case domain.MessageType:
		return string(s)
	case domain.Priority:
		return string(s)
	}
	return ""
}

func roleValue(v any) (domain.Role, bool) {
	r := domain.Role(stringValue(v))
	if !r.Valid() {
		return "", false
	}
	return r, true
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
