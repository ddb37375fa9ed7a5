package events

import "time"

// EndpointStart is emitted when an endpoint begins handling a request.
type EndpointStart struct {
	Kind   string
	Method string
	Route  string
}

// EndpointFinish is emitted after the endpoint transaction is committed or
// rolled back. Err is set for unexpected failures only.
type EndpointFinish struct {
	Kind     string
	Method   string
	Route    string
	Status   int
	Err      error
	Duration time.Duration
}
