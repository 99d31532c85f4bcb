package policy

import "strings"

// Resolver resolves tool access by combining a session's profile, its
// subtype's group enablement, safe-mode restrictions, and any per-call
// allow/deny rules carried on the Policy itself.
type Resolver struct {
	groupTools map[Group][]string
}

// Decision explains why a tool was allowed or denied.
type Decision struct {
	Allowed bool
	Tool    string
	Reason  string
}

// NewResolver creates a policy resolver seeded with the built-in groups.
func NewResolver() *Resolver {
	groups := make(map[Group][]string, len(DefaultGroupTools))
	for g, tools := range DefaultGroupTools {
		groups[g] = append([]string(nil), tools...)
	}
	return &Resolver{groupTools: groups}
}

// RegisterGroupTools appends tool names to a group, for modules that add
// tools to the registry at runtime (installed_modules).
func (r *Resolver) RegisterGroupTools(group Group, tools ...string) {
	r.groupTools[group] = append(r.groupTools[group], tools...)
}

// groupsForPolicy returns the set of groups open under a policy's profile
// and (once selected) subtype, before allow/deny overlays are applied.
func (r *Resolver) groupsForPolicy(p *Policy) map[Group]bool {
	open := make(map[Group]bool)
	if p.Profile == ProfileFull {
		for g := range r.groupTools {
			open[g] = true
		}
		return open
	}
	for _, g := range ProfileGroups[p.Profile] {
		open[g] = true
	}
	if p.Subtype != "" {
		for _, g := range SubtypeGroups[p.Subtype] {
			open[g] = true
		}
	}
	return open
}

// toolGroup returns the group a tool belongs to, if any is known.
func (r *Resolver) toolGroup(toolName string) (Group, bool) {
	for g, tools := range r.groupTools {
		for _, t := range tools {
			if NormalizeTool(t) == toolName {
				return g, true
			}
		}
	}
	return "", false
}

// IsAllowed reports whether a tool is allowed by the given policy.
func (r *Resolver) IsAllowed(policy *Policy, toolName string) bool {
	return r.Decide(policy, toolName).Allowed
}

// Decide returns an allow/deny decision for one tool under one policy,
// applying the precedence order from §4.4: safe-mode allow-list overrides
// all, then explicit per-call deny-list, then subtype group enablement,
// then the tool-profile default.
func (r *Resolver) Decide(policy *Policy, toolName string) Decision {
	normalized := NormalizeTool(toolName)
	decision := Decision{Tool: normalized}

	if policy == nil {
		decision.Reason = "no policy configured"
		return decision
	}

	if policy.SafeMode {
		if SafeModeAllowList[normalized] {
			decision.Allowed = true
			decision.Reason = "allowed by safe-mode allow-list"
			return decision
		}
		decision.Reason = "denied: safe mode restricts to its allow-list"
		return decision
	}

	for _, d := range policy.Deny {
		if matchToolPattern(NormalizeTool(d), normalized) {
			decision.Reason = "denied by rule: " + d
			return decision
		}
	}

	for _, a := range policy.Allow {
		if matchToolPattern(NormalizeTool(a), normalized) {
			decision.Allowed = true
			decision.Reason = "allowed by explicit rule: " + a
			return decision
		}
	}

	if policy.Profile == ProfileFull {
		decision.Allowed = true
		decision.Reason = "allowed by profile full"
		return decision
	}

	open := r.groupsForPolicy(policy)
	if group, ok := r.toolGroup(normalized); ok {
		if open[group] {
			decision.Allowed = true
			decision.Reason = "allowed by group: " + string(group)
			return decision
		}
		decision.Reason = "denied: group " + string(group) + " not enabled for this profile/subtype"
		return decision
	}

	decision.Reason = "no matching allow rule"
	return decision
}

// matchToolPattern reports whether pattern matches toolName. Supports the
// universal wildcard "*" and exact match; unknown tools never match a bare
// group reference since groups are resolved by the registry, not here.
func matchToolPattern(pattern, toolName string) bool {
	if pattern == "*" {
		return true
	}
	return pattern == toolName
}

// FilterAllowed filters a list of tools down to those allowed by the policy.
func (r *Resolver) FilterAllowed(policy *Policy, tools []string) []string {
	var result []string
	for _, tool := range tools {
		if r.IsAllowed(policy, tool) {
			result = append(result, tool)
		}
	}
	return result
}

// AllowedTools returns every tool currently open under the policy, across
// all enabled groups plus explicit allows, minus denies and safe-mode
// restrictions.
func (r *Resolver) AllowedTools(policy *Policy) []string {
	seen := make(map[string]bool)
	var result []string
	add := func(name string) {
		n := NormalizeTool(name)
		if !seen[n] && r.IsAllowed(policy, n) {
			seen[n] = true
			result = append(result, n)
		}
	}

	if policy.SafeMode {
		for name := range SafeModeAllowList {
			add(name)
		}
		return result
	}

	if policy.Profile == ProfileFull {
		for _, tools := range r.groupTools {
			for _, t := range tools {
				add(t)
			}
		}
	} else {
		open := r.groupsForPolicy(policy)
		for g := range open {
			for _, t := range r.groupTools[g] {
				add(t)
			}
		}
	}
	for _, t := range policy.Allow {
		add(t)
	}
	return result
}

// Merge combines multiple policies into one. Later policies override
// earlier ones for profile/subtype/safe-mode; allow/deny lists accumulate.
func Merge(policies ...*Policy) *Policy {
	result := &Policy{}
	for _, p := range policies {
		if p == nil {
			continue
		}
		if p.Profile != "" {
			result.Profile = p.Profile
		}
		if p.Subtype != "" {
			result.Subtype = p.Subtype
		}
		result.SafeMode = result.SafeMode || p.SafeMode
		result.Allow = append(result.Allow, p.Allow...)
		result.Deny = append(result.Deny, p.Deny...)
	}
	return result
}

// NewPolicy creates a policy with the given profile as its base.
func NewPolicy(profile Profile) *Policy {
	return &Policy{Profile: profile}
}

// WithAllow adds tools to the allow list and returns the policy for chaining.
func (p *Policy) WithAllow(tools ...string) *Policy {
	p.Allow = append(p.Allow, tools...)
	return p
}

// WithDeny adds tools to the deny list and returns the policy for chaining.
func (p *Policy) WithDeny(tools ...string) *Policy {
	p.Deny = append(p.Deny, tools...)
	return p
}
