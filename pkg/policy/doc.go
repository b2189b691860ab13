// Package policy provides Open Policy Agent (OPA) guardrails for
// finalization.
//
// Policies are written in Rego and evaluated against every finalize request
// before any teardown happens. The built-in protected-stage policy denies
// finalization of configured stage names (for example "production") unless
// the force flag is set; dry runs always pass. Additional .rego files can be
// loaded from disk.
//
// Creating an engine:
//
//	eng := policy.NewEngine([]string{"production"}, logger)
//
// Evaluating a request:
//
//	result, err := eng.EvaluateFinalize(ctx, policy.Request{
//	    Path:     "acme/production",
//	    App:      "acme",
//	    Stage:    "production",
//	    Strategy: "conservative",
//	}, facts)
//	if !result.Allowed {
//	    // surface violations instead of tearing anything down
//	}
//
// Custom policies deny by populating `deny` with objects carrying "message"
// and "severity" fields, package name arbitrary:
//
//	package custom.freeze
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.request.app == "payments"
//	    violation := {"message": "payments teardown is frozen", "severity": "error"}
//	}
package policy
