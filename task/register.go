package task

// Func is a task function: given the inputs bound to a Call, it writes to
// outputs and returns an error to fail the whole Call.
type Func func(ctx *Context, inputs []*DataInstance, outputs []*Output) error

var registry = map[string]Func{}

// Register binds taskType to fn. taskType must match (by prefix before
// the first "/") the governor's --executor spawn recipe for this binary;
// a binary may register several task types if it implements more than one.
func Register(taskType string, fn Func) {
	registry[taskType] = fn
}
