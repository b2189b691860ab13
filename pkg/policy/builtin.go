package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedStagePolicy(),
		nonEphemeralWarningPolicy(),
	}
}

// protectedStagePolicy blocks finalization of configured protected stages
// unless force is set. Dry runs are always allowed.
func protectedStagePolicy() Policy {
	return Policy{
		Name:        "protected-stage",
		Description: "Finalizing a protected stage requires the force flag",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package scopekeeper.policies.protected

import rego.v1

deny contains violation if {
	some stage in input.protected_stages
	input.request.stage == stage
	not input.request.force
	not input.request.dry_run
	violation := {
		"message": sprintf("stage %q is protected; finalize requires force", [input.request.stage]),
		"severity": "error",
	}
}
`,
	}
}

// nonEphemeralWarningPolicy flags teardown of scopes not marked ephemeral.
func nonEphemeralWarningPolicy() Policy {
	return Policy{
		Name:        "non-ephemeral-teardown",
		Description: "Warns when finalizing a scope whose metadata does not mark it ephemeral",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package scopekeeper.policies.ephemeral

import rego.v1

deny contains violation if {
	not input.scope.is_ephemeral
	input.scope.resource_count > 0
	not input.request.dry_run
	violation := {
		"message": sprintf("scope %q is not marked ephemeral", [input.request.path]),
		"severity": "warning",
	}
}
`,
	}
}
