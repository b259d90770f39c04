package dmn

// Variables are the decision table inputs keyed by input name
type Variables map[string]Value

// Set stores a String input, skipping empty payloads so optional inputs
// are left out of the request.
func (v Variables) Set(name, value string) Variables {
	if value != "" {
		v[name] = String(value)
	}
	return v
}

// EvaluateRequest is the body posted to the evaluator
type EvaluateRequest struct {
	Variables Variables `json:"variables"`
}

// NewEvaluateRequest wraps vars in the evaluator envelope
func NewEvaluateRequest(vars Variables) EvaluateRequest {
	if vars == nil {
		vars = Variables{}
	}
	return EvaluateRequest{Variables: vars}
}
