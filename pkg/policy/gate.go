package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/wpinstructions/wpinstructions/pkg/engine"
)

// Gate checks every prepared instruction against a set of Rego policies.
// It implements engine.Gate.
type Gate struct {
	policies []compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy holds the prepared deny and warn queries of one policy.
type compiledPolicy struct {
	policy Policy
	deny   rego.PreparedEvalQuery
	warn   rego.PreparedEvalQuery
}

// NewGate compiles policies. Builtin errors raised while evaluating are
// returned as errors instead of leaving a rule undefined.
func NewGate(ctx context.Context, policies []Policy, logger zerolog.Logger) (*Gate, error) {
	g := &Gate{
		logger: logger.With().Str("component", "policy").Logger(),
	}

	for i := range policies {
		cp, err := compile(ctx, policies[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		g.policies = append(g.policies, cp)

		g.logger.Debug().
			Str("policy", policies[i].Name).
			Str("source", policies[i].Source).
			Msg("Policy compiled")
	}

	return g, nil
}

func compile(ctx context.Context, p Policy) (compiledPolicy, error) {
	filename := p.Source
	if filename == "" {
		filename = p.Name
	}

	module, err := ast.ParseModule(filename, p.Rego)
	if err != nil {
		return compiledPolicy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	pkg := module.Package.Path.String()

	prepare := func(rule string) (rego.PreparedEvalQuery, error) {
		return rego.New(
			rego.Query(pkg+"."+rule),
			rego.ParsedModule(module),
			rego.StrictBuiltinErrors(true),
		).PrepareForEval(ctx)
	}

	deny, err := prepare("deny")
	if err != nil {
		return compiledPolicy{}, fmt.Errorf("failed to prepare deny query: %w", err)
	}
	warn, err := prepare("warn")
	if err != nil {
		return compiledPolicy{}, fmt.Errorf("failed to prepare warn query: %w", err)
	}

	return compiledPolicy{policy: p, deny: deny, warn: warn}, nil
}

// Len returns the number of compiled policies.
func (g *Gate) Len() int {
	return len(g.policies)
}

// Evaluate runs every policy against req.
func (g *Gate) Evaluate(ctx context.Context, req engine.GateRequest) (*Decision, error) {
	decision := &Decision{Violations: []Violation{}}

	for i := range g.policies {
		cp := &g.policies[i]

		denied, err := evalSet(ctx, cp.deny, req)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", cp.policy.Name, err)
		}
		warned, err := evalSet(ctx, cp.warn, req)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", cp.policy.Name, err)
		}

		for _, msg := range denied {
			decision.Violations = append(decision.Violations, Violation{Policy: cp.policy.Name, Message: msg, Severity: SeverityError})
		}
		for _, msg := range warned {
			decision.Violations = append(decision.Violations, Violation{Policy: cp.policy.Name, Message: msg, Severity: SeverityWarning})
		}
	}

	return decision, nil
}

// Check implements engine.Gate. Warnings are logged; denials are returned.
func (g *Gate) Check(ctx context.Context, req engine.GateRequest) ([]string, error) {
	decision, err := g.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, v := range decision.Violations {
		event := g.logger.Warn()
		if v.Severity == SeverityError {
			event = g.logger.Error()
		}
		event.Str("policy", v.Policy).
			Int("line", req.Line).
			Str("action", req.Action).
			Msg(v.Message)
	}

	return decision.Denials(), nil
}

// evalSet evaluates a set rule and returns its entries as messages. An
// undefined rule yields no entries.
func evalSet(ctx context.Context, query rego.PreparedEvalQuery, req engine.GateRequest) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(req))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var msgs []string
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		entries, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("rule must be a set, got %T", result.Expressions[0].Value)
		}
		for _, entry := range entries {
			msgs = append(msgs, message(entry))
		}
	}
	return msgs, nil
}

// message extracts the text of a deny or warn entry.
func message(entry interface{}) string {
	switch v := entry.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
		if msg, ok := v["msg"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", entry)
}

// Load reads the policies named by paths and compiles them into a Gate.
func Load(ctx context.Context, paths []string, logger zerolog.Logger) (*Gate, error) {
	policies, err := NewLoader(logger).LoadFromPaths(paths)
	if err != nil {
		return nil, err
	}
	return NewGate(ctx, policies, logger)
}
