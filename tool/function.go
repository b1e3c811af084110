package tool

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. It has no internal mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	sensitive   bool
	fn          func(tc *Context, args map[string]any) (any, error)
}

// FunctionToolOptions configures a FunctionTool.
type FunctionToolOptions struct {
	// Sensitive gates the tool behind the external confirmation flow.
	Sensitive bool
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *tool.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(tc *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, fnOpt := range optFns {
		fnOpt(&opts)
	}
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		sensitive:   opts.Sensitive,
		fn:          fn,
	}
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Sensitive implements Tool.
func (t *FunctionTool) Sensitive() bool { return t.sensitive }

// Call implements Tool. Errors from the wrapped function are normalized to
// *Error unless the function already returned one.
func (t *FunctionTool) Call(tc *Context, args map[string]any) (any, error) {
	result, err := t.fn(tc, args)
	if err != nil {
		if te, ok := err.(*Error); ok {
			return nil, te
		}
		return nil, NewError(t.name, err.Error(), "EXECUTION_ERROR")
	}
	return result, nil
}
