package lambda

import "time"

// Context is the invocation context handed to a subscriber alongside the
// event. Field names follow the Lambda runtime's context object.
type Context struct {
	AWSRequestID       string    `json:"awsRequestId"`
	FunctionName       string    `json:"functionName"`
	FunctionVersion    string    `json:"functionVersion"`
	InvokedFunctionArn string    `json:"invokedFunctionArn"`
	MemoryLimitInMB    int       `json:"memoryLimitInMB"`
	LogGroupName       string    `json:"logGroupName"`
	LogStreamName      string    `json:"logStreamName"`
	Deadline           time.Time `json:"deadline"`
}

// RemainingTime is the time left before the function's configured timeout.
// It is informational; nothing enforces it.
func (c *Context) RemainingTime() time.Duration {
	if c == nil || c.Deadline.IsZero() {
		return 0
	}
	d := time.Until(c.Deadline)
	if d < 0 {
		return 0
	}
	return d
}
