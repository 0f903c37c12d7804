// Package interceptor implements the action-boundary tool call pipeline:
// capability check, tool contract check, agent identity check, field
// filtering, policy evaluation, and approval gating on the request side;
// per-field re-classification and filtering on the response side. It
// depends on five independently constructed registries plus the
// classifier and audit logger, with no back-references between them.
package interceptor

import (
	"encoding/json"
	"sort"

	"github.com/safeai-run/safeai/pkg/approval"
	"github.com/safeai-run/safeai/pkg/audit"
	"github.com/safeai-run/safeai/pkg/capability"
	"github.com/safeai-run/safeai/pkg/classifier"
	"github.com/safeai-run/safeai/pkg/contract"
	"github.com/safeai-run/safeai/pkg/identity"
	"github.com/safeai-run/safeai/pkg/policy"
	"github.com/safeai-run/safeai/pkg/tagging"
)

// ToolCall describes one request to invoke a tool.
type ToolCall struct {
	ToolName           string
	AgentID            string
	Parameters         map[string]any
	DataTags           []string
	SessionID          string
	SourceAgentID      string
	DestinationAgentID string
	ActionType         string
	CapabilityTokenID  string
	CapabilityAction   string
	ApprovalRequestID  string
}

func (c ToolCall) sourceAgentID() string {
	if c.SourceAgentID != "" {
		return c.SourceAgentID
	}
	return c.AgentID
}

func (c ToolCall) actionType() string {
	if c.ActionType != "" {
		return c.ActionType
	}
	return "tool_call"
}

func (c ToolCall) capabilityAction() string {
	if c.CapabilityAction != "" {
		return c.CapabilityAction
	}
	return "invoke"
}

// InterceptResult is the outcome of a request-phase pipeline run.
type InterceptResult struct {
	Decision         policy.Decision
	FilteredParams   map[string]any
	UnauthorizedTags []string
	StrippedFields   []string
}

// ResponseInterceptResult is the outcome of a response-phase pipeline run.
type ResponseInterceptResult struct {
	Decision         policy.Decision
	FilteredResponse map[string]any
	StrippedFields   []string
	StrippedTags     []string
}

// Interceptor wires the five registries plus classifier and audit logger
// the request/response pipelines evaluate against. Every dependency is
// injected; the interceptor holds no back-reference to any caller.
type Interceptor struct {
	policyEngine *policy.Engine
	audit        *audit.Logger
	contracts    *contract.Registry
	identities   *identity.Registry
	capabilities *capability.Manager
	approvals    *approval.Manager
	classifier   *classifier.Classifier
}

// New constructs an Interceptor. contracts/identities/capabilities/
// approvals/cls may be nil; a nil registry behaves as "nothing declared"
// per that registry's own zero-value semantics.
func New(
	policyEngine *policy.Engine,
	auditLogger *audit.Logger,
	contracts *contract.Registry,
	identities *identity.Registry,
	capabilities *capability.Manager,
	approvals *approval.Manager,
	cls *classifier.Classifier,
) *Interceptor {
	if contracts == nil {
		contracts = contract.NewRegistry(nil)
	}
	if identities == nil {
		identities = identity.NewRegistry(nil)
	}
	if capabilities == nil {
		capabilities = capability.NewManager(nil)
	}
	if cls == nil {
		cls, _ = classifier.NewDefault(nil)
	}
	return &Interceptor{
		policyEngine: policyEngine,
		audit:        auditLogger,
		contracts:    contracts,
		identities:   identities,
		capabilities: capabilities,
		approvals:    approvals,
		classifier:   cls,
	}
}

// InterceptRequest runs the seven-stage request pipeline, short-circuiting
// at the first non-allow decision. Each call emits exactly one audit
// event, from the stage that ends the pipeline, naming that stage in
// metadata.decision_source.
func (ic *Interceptor) InterceptRequest(call ToolCall) InterceptResult {
	paramKeys := sortedKeys(call.Parameters)

	if call.CapabilityTokenID != "" {
		validation := ic.capabilities.Validate(capability.ValidateParams{
			TokenID:   call.CapabilityTokenID,
			AgentID:   call.AgentID,
			ToolName:  call.ToolName,
			Action:    call.capabilityAction(),
			SessionID: call.SessionID,
		})
		if !validation.Allowed {
			decision := capabilityBlockDecision(validation.Reason)
			ic.emitRequestEvent(call, decision, "capability-token", paramKeys, nil, nil, false, "", "", "", nil)
			return InterceptResult{Decision: decision, FilteredParams: map[string]any{}, StrippedFields: paramKeys}
		}
	}

	contractValidation := ic.contracts.ValidateRequest(call.ToolName, call.DataTags)
	if !contractValidation.Allowed {
		decision := contractBlockDecision(contractValidation.Reason)
		ic.emitRequestEvent(call, decision, "tool-contract", paramKeys, nil, contractValidation.UnauthorizedTags, false, "", "", "", nil)
		return InterceptResult{Decision: decision, FilteredParams: map[string]any{}, UnauthorizedTags: contractValidation.UnauthorizedTags, StrippedFields: paramKeys}
	}

	identityValidation := ic.identities.Validate(call.AgentID, call.ToolName, call.DataTags)
	if !identityValidation.Allowed {
		decision := identityBlockDecision(identityValidation.Reason)
		ic.emitRequestEvent(call, decision, "agent-identity", paramKeys, nil, identityValidation.UnauthorizedTags, false, "", "", "", nil)
		return InterceptResult{Decision: decision, FilteredParams: map[string]any{}, UnauthorizedTags: identityValidation.UnauthorizedTags, StrippedFields: paramKeys}
	}

	filteredParams, stripped := filterAllowedFields(call.Parameters, contractValidation.Contract)

	decision := ic.policyEngine.Evaluate(policy.Context{
		Boundary: audit.BoundaryAction,
		DataTags: call.DataTags,
		AgentID:  call.AgentID,
		ToolName: call.ToolName,
	})

	approvalRequired := false
	approvalRequestID := call.ApprovalRequestID
	approvalStatus := "not_required"
	approvalSource := ""

	if decision.Action == policy.ActionRequireApproval {
		approvalRequired = true
		approvalSource = "policy"
		decision, approvalRequestID, approvalStatus = ic.gateApproval(call, decision, approvalSource)
	}

	if decision.Action == policy.ActionBlock || decision.Action == policy.ActionRedact || decision.Action == policy.ActionRequireApproval {
		filteredParams = map[string]any{}
		stripped = unionSorted(stripped, paramKeys)
	}

	ic.emitRequestEvent(call, decision, "policy", paramKeys, sortedKeys(filteredParams), nil, approvalRequired, approvalSource, approvalRequestID, approvalStatus, contractValidation.Contract)

	return InterceptResult{Decision: decision, FilteredParams: filteredParams, StrippedFields: stripped}
}

// gateApproval resolves a require_approval policy decision against a
// supplied approval request id, or opens a new deduped request when none
// was supplied or the supplied one is not pending, denied, or validly
// approved.
func (ic *Interceptor) gateApproval(call ToolCall, decision policy.Decision, source string) (policy.Decision, string, string) {
	if ic.approvals == nil {
		return decision, call.ApprovalRequestID, "not_required"
	}

	if call.ApprovalRequestID != "" {
		validation := ic.approvals.Validate(call.ApprovalRequestID, call.AgentID, call.ToolName, call.SessionID)
		switch {
		case validation.Allowed:
			policyName := decision.PolicyName
			if policyName == "" {
				policyName = "approval-gate"
			}
			return policy.Decision{Action: policy.ActionAllow, PolicyName: policyName, Reason: "approval request '" + call.ApprovalRequestID + "' approved"}, call.ApprovalRequestID, validation.Reason
		case validation.Request != nil && validation.Request.Status == approval.StatusPending:
			policyName := decision.PolicyName
			if policyName == "" {
				policyName = "approval-gate"
			}
			return policy.Decision{Action: policy.ActionRequireApproval, PolicyName: policyName, Reason: validation.Reason}, call.ApprovalRequestID, validation.Reason
		case validation.Request != nil && validation.Request.Status == approval.StatusDenied:
			return policy.Decision{Action: policy.ActionBlock, PolicyName: "approval-gate", Reason: validation.Reason}, call.ApprovalRequestID, validation.Reason
		default:
			return ic.createApproval(call, decision, source)
		}
	}
	return ic.createApproval(call, decision, source)
}

func (ic *Interceptor) createApproval(call ToolCall, decision policy.Decision, source string) (policy.Decision, string, string) {
	policyName := decision.PolicyName
	if policyName == "" {
		policyName = "approval-gate"
	}
	created, err := ic.approvals.CreateRequest(approval.CreateParams{
		Reason:     decision.Reason,
		PolicyName: policyName,
		AgentID:    call.AgentID,
		ToolName:   call.ToolName,
		SessionID:  call.SessionID,
		ActionType: call.actionType(),
		DataTags:   call.DataTags,
		Metadata: map[string]any{
			"parameter_keys":  sortedKeys(call.Parameters),
			"source_agent_id": call.sourceAgentID(),
			"dest_agent_id":   call.DestinationAgentID,
			"approval_source": source,
		},
		DedupeKey: approvalDedupeKey(call, source),
	})
	if err != nil {
		return policy.Decision{Action: policy.ActionBlock, PolicyName: "approval-gate", Reason: err.Error()}, call.ApprovalRequestID, "error"
	}
	resultPolicyName := created.PolicyName
	if resultPolicyName == "" {
		resultPolicyName = "approval-gate"
	}
	return policy.Decision{Action: policy.ActionRequireApproval, PolicyName: resultPolicyName, Reason: "approval required (" + created.RequestID + ")"}, created.RequestID, "pending"
}

// InterceptResponse runs the response-phase per-field pipeline.
func (ic *Interceptor) InterceptResponse(call ToolCall, response map[string]any) ResponseInterceptResult {
	tc := ic.contracts.Get(call.ToolName)
	if tc == nil {
		decision := contractBlockDecision("tool '" + call.ToolName + "' has no declared contract")
		blocked := sortedKeys(response)
		ic.emitResponseEvent(call, decision, response, map[string]any{}, blocked, nil, nil)
		return ResponseInterceptResult{Decision: decision, FilteredResponse: map[string]any{}, StrippedFields: blocked}
	}

	identityValidation := ic.identities.Validate(call.AgentID, call.ToolName, call.DataTags)
	if !identityValidation.Allowed {
		decision := identityBlockDecision(identityValidation.Reason)
		blocked := sortedKeys(response)
		ic.emitResponseEvent(call, decision, response, map[string]any{}, blocked, identityValidation.UnauthorizedTags, nil)
		return ResponseInterceptResult{Decision: decision, FilteredResponse: map[string]any{}, StrippedFields: blocked, StrippedTags: identityValidation.UnauthorizedTags}
	}

	filtered := map[string]any{}
	keptTags := map[string]struct{}{}
	strippedFields := map[string]struct{}{}
	strippedTags := map[string]struct{}{}

	for fieldName, value := range response {
		fieldTags := sortedTags(ic.classifyValueTags(value))

		fieldIdentity := ic.identities.Validate(call.AgentID, call.ToolName, fieldTags)
		if !fieldIdentity.Allowed {
			strippedFields[fieldName] = struct{}{}
			for _, t := range fieldIdentity.UnauthorizedTags {
				strippedTags[t] = struct{}{}
			}
			continue
		}

		if fieldBlockedByContract(*tc, fieldName, fieldTags) {
			strippedFields[fieldName] = struct{}{}
			for _, t := range fieldTags {
				strippedTags[t] = struct{}{}
			}
			continue
		}

		fieldDecision := ic.policyEngine.Evaluate(policy.Context{
			Boundary: audit.BoundaryAction,
			DataTags: fieldTags,
			AgentID:  call.AgentID,
			ToolName: call.ToolName,
		})
		if fieldDecision.Action == policy.ActionBlock || fieldDecision.Action == policy.ActionRedact || fieldDecision.Action == policy.ActionRequireApproval {
			strippedFields[fieldName] = struct{}{}
			for _, t := range fieldTags {
				strippedTags[t] = struct{}{}
			}
			continue
		}

		filtered[fieldName] = value
		for _, t := range fieldTags {
			keptTags[t] = struct{}{}
		}
	}

	decision := ic.policyEngine.Evaluate(policy.Context{
		Boundary: audit.BoundaryAction,
		DataTags: setKeys(keptTags),
		AgentID:  call.AgentID,
		ToolName: call.ToolName,
	})
	if decision.Action == policy.ActionBlock || decision.Action == policy.ActionRedact || decision.Action == policy.ActionRequireApproval {
		for k := range filtered {
			strippedFields[k] = struct{}{}
		}
		for t := range keptTags {
			strippedTags[t] = struct{}{}
		}
		filtered = map[string]any{}
	}

	if decision.Action == policy.ActionAllow && len(strippedFields) > 0 {
		decision = policy.Decision{Action: policy.ActionRedact, PolicyName: "tool-contract", Reason: "tool response fields filtered by contract/policy"}
	}

	strippedFieldsList := setKeys(strippedFields)
	strippedTagsList := setKeys(strippedTags)
	ic.emitResponseEvent(call, decision, response, filtered, strippedFieldsList, strippedTagsList, tc)
	return ResponseInterceptResult{Decision: decision, FilteredResponse: filtered, StrippedFields: strippedFieldsList, StrippedTags: strippedTagsList}
}

func (ic *Interceptor) emitRequestEvent(
	call ToolCall,
	decision policy.Decision,
	decisionSource string,
	paramKeys, filteredParamKeys, unauthorizedTags []string,
	approvalRequired bool,
	approvalSource, approvalRequestID, approvalStatus string,
	tc *contract.Contract,
) {
	if ic.audit == nil {
		return
	}
	metadata := map[string]any{
		"phase":                   "request",
		"decision_source":         decisionSource,
		"action_type":             call.actionType(),
		"capability_token_id":     call.CapabilityTokenID,
		"capability_action":       call.capabilityAction(),
		"parameter_keys":          paramKeys,
		"filtered_parameter_keys": filteredParamKeys,
		"unauthorized_tags":       unauthorizedTags,
	}
	if decisionSource == "policy" {
		metadata["stripped_fields"] = differenceSorted(paramKeys, filteredParamKeys)
		metadata["approval_required"] = approvalRequired
		metadata["approval_source"] = approvalSource
		metadata["approval_request_id"] = approvalRequestID
		metadata["approval_status"] = approvalStatus
		metadata["contract_declared"] = tc != nil
		metadata["contract_side_effects"] = contractSideEffectsMetadata(tc)
	} else {
		metadata["stripped_fields"] = paramKeys
	}

	_, _ = ic.audit.Emit(audit.Event{
		Boundary:           audit.BoundaryAction,
		Action:             string(decision.Action),
		PolicyName:         decision.PolicyName,
		Reason:             decision.Reason,
		DataTags:           call.DataTags,
		AgentID:            call.AgentID,
		ToolName:           call.ToolName,
		SessionID:          call.SessionID,
		SourceAgentID:      call.sourceAgentID(),
		DestinationAgentID: call.DestinationAgentID,
		Metadata:           metadata,
	})
}

func (ic *Interceptor) emitResponseEvent(
	call ToolCall,
	decision policy.Decision,
	response, filtered map[string]any,
	strippedFields, strippedTags []string,
	tc *contract.Contract,
) {
	if ic.audit == nil {
		return
	}
	metadata := map[string]any{
		"phase":                   "response",
		"decision_source":         decisionSourceFor(decision),
		"action_type":             call.actionType(),
		"response_field_count":    len(response),
		"filtered_field_count":    len(filtered),
		"response_keys":           sortedKeys(response),
		"filtered_response_keys":  sortedKeys(filtered),
		"stripped_fields":         strippedFields,
		"stripped_tags":           strippedTags,
		"contract_declared":       tc != nil,
		"contract_side_effects":   contractSideEffectsMetadata(tc),
	}
	_, _ = ic.audit.Emit(audit.Event{
		Boundary:           audit.BoundaryAction,
		Action:             string(decision.Action),
		PolicyName:         decision.PolicyName,
		Reason:             decision.Reason,
		DataTags:           call.DataTags,
		AgentID:            call.AgentID,
		ToolName:           call.ToolName,
		SessionID:          call.SessionID,
		SourceAgentID:      call.sourceAgentID(),
		DestinationAgentID: call.DestinationAgentID,
		Metadata:           metadata,
	})
}

func decisionSourceFor(decision policy.Decision) string {
	if decision.PolicyName != "" {
		return decision.PolicyName
	}
	return "policy"
}

func contractBlockDecision(reason string) policy.Decision {
	return policy.Decision{Action: policy.ActionBlock, PolicyName: "tool-contract", Reason: reason}
}

func identityBlockDecision(reason string) policy.Decision {
	return policy.Decision{Action: policy.ActionBlock, PolicyName: "agent-identity", Reason: reason}
}

func capabilityBlockDecision(reason string) policy.Decision {
	return policy.Decision{Action: policy.ActionBlock, PolicyName: "capability-token", Reason: reason}
}

// filterAllowedFields drops request parameter keys not in the contract's
// declared accepts.fields. An empty accepts.fields set (or a missing
// contract) means "no field restriction": every key passes.
func filterAllowedFields(params map[string]any, tc *contract.Contract) (map[string]any, []string) {
	if tc == nil || len(tc.AcceptsFields) == 0 {
		out := make(map[string]any, len(params))
		for k, v := range params {
			out[k] = v
		}
		return out, nil
	}

	allowed := make(map[string]struct{}, len(tc.AcceptsFields))
	for _, f := range tc.AcceptsFields {
		allowed[f] = struct{}{}
	}

	filtered := map[string]any{}
	var stripped []string
	for k, v := range params {
		if _, ok := allowed[k]; ok {
			filtered[k] = v
		} else {
			stripped = append(stripped, k)
		}
	}
	sort.Strings(stripped)
	return filtered, stripped
}

// fieldBlockedByContract reports whether a response field must be
// dropped because it is absent from a non-empty emits.fields set, or
// because one of its classified tags falls outside emits.tags hierarchy.
func fieldBlockedByContract(tc contract.Contract, fieldName string, fieldTags []string) bool {
	if len(tc.EmitsFields) > 0 && !containsString(tc.EmitsFields, fieldName) {
		return true
	}
	if len(fieldTags) == 0 {
		return false
	}
	accepted := tagging.Set(tc.EmitsTags)
	if len(accepted) == 0 {
		return false
	}
	for _, tag := range fieldTags {
		intersects := false
		for ancestor := range tagging.Expand([]string{tag}) {
			if _, ok := accepted[ancestor]; ok {
				intersects = true
				break
			}
		}
		if !intersects {
			return true
		}
	}
	return false
}

// classifyValueTags classifies a response field's value: strings are
// classified directly; everything else is serialized to JSON first
// (mirroring the Python reference's json.dumps(sort_keys=True) fallback
// for non-string values).
func (ic *Interceptor) classifyValueTags(value any) map[string]struct{} {
	if value == nil {
		return nil
	}
	text, ok := value.(string)
	if !ok {
		encoded, err := json.Marshal(value)
		if err != nil {
			text = "" // unmarshalable value classifies as empty text
		} else {
			text = string(encoded)
		}
	}
	detections := ic.classifier.Classify(text)
	out := make(map[string]struct{}, len(detections))
	for _, d := range detections {
		out[d.Tag] = struct{}{}
	}
	return out
}

func contractSideEffectsMetadata(tc *contract.Contract) map[string]any {
	if tc == nil {
		return map[string]any{}
	}
	return map[string]any{
		"reversible":        tc.SideEffects.Reversible,
		"requires_approval": tc.SideEffects.RequiresApproval,
		"description":       tc.SideEffects.Description,
	}
}

// approvalDedupeKey matches one logical request to at most one pending
// approval: agent|tool|session|source|tags-csv|param-keys-csv.
func approvalDedupeKey(call ToolCall, source string) string {
	session := call.SessionID
	if session == "" {
		session = "-"
	}
	paramKeys := sortedKeys(call.Parameters)
	tags := append([]string{}, call.DataTags...)
	sort.Strings(tags)
	return call.AgentID + "|" + call.ToolName + "|" + session + "|" + source + "|" + joinCSV(tags) + "|" + joinCSV(paramKeys)
}

func joinCSV(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func setKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedTags(tags map[string]struct{}) []string {
	return setKeys(tags)
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		seen[v] = struct{}{}
	}
	return setKeys(seen)
}

func differenceSorted(all, kept []string) []string {
	keptSet := make(map[string]struct{}, len(kept))
	for _, v := range kept {
		keptSet[v] = struct{}{}
	}
	var out []string
	for _, v := range all {
		if _, ok := keptSet[v]; !ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}
