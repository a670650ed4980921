package endpoint

// Result is the outcome of an endpoint operation. A Result with no errors is a success.
type Result struct {
	Errors []error
}

// Success returns an empty Result.
func Success() Result { return Result{} }

// Failure returns a Result holding the given non-nil errors.
func Failure(errs ...error) Result {
	var r Result
	for _, err := range errs {
		r.Add(err)
	}
	return r
}

// Add records err when it is not nil.
func (r *Result) Add(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// Succeeded reports whether the operation completed without errors.
func (r Result) Succeeded() bool { return len(r.Errors) == 0 }

// Err collapses the Result into a single error: nil, the only error, or an *AggregateError.
func (r Result) Err() error {
	switch len(r.Errors) {
	case 0:
		return nil
	case 1:
		return r.Errors[0]
	default:
		errs := make([]error, len(r.Errors))
		copy(errs, r.Errors)
		return &AggregateError{Errors: errs}
	}
}

// Combine merges results in order.
func Combine(results ...Result) Result {
	var out Result
	for _, r := range results {
		out.Errors = append(out.Errors, r.Errors...)
	}
	return out
}
