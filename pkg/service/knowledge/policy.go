package knowledge

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
)

// ingestPolicy gates documents entering the knowledge base. The policy
// is queried at data.knowledge.ingest with {filename, source, content}
// as input and may respond with {"allow": false} to veto a document or
// {"metadata": {...}} to attach extra metadata.
type ingestPolicy struct {
	query *rego.PreparedEvalQuery
}

type policyDecision struct {
	Allow    bool
	Metadata map[string]any
}

// loadIngestPolicy prepares the ingest query from all .rego files in
// policyDir. A missing or empty directory yields a nil policy, which
// allows everything.
func loadIngestPolicy(ctx context.Context, policyDir string) (*ingestPolicy, error) {
	if policyDir == "" {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	if len(files) == 0 {
		return nil, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+1)
	options = append(options, rego.Query("data.knowledge.ingest"))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare ingest query")
	}

	return &ingestPolicy{query: &prepared}, nil
}

// evaluate decides whether a document may enter the store. A nil policy
// or a policy without an ingest document allows the input unchanged.
func (p *ingestPolicy) evaluate(ctx context.Context, input map[string]any) (*policyDecision, error) {
	decision := &policyDecision{Allow: true}
	if p == nil || p.query == nil {
		return decision, nil
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate ingest policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return decision, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return decision, nil
	}

	if allow, ok := data["allow"].(bool); ok {
		decision.Allow = allow
	}
	if meta, ok := data["metadata"].(map[string]any); ok {
		decision.Metadata = meta
	}

	return decision, nil
}
