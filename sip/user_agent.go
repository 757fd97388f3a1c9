package sip

// RespondOptions carries the optional parts of sending a response to an
// inbound request: the response's own construction options plus the
// options for the send itself.
type RespondOptions struct {
	ResponseOptions *ResponseOptions
	SendOptions     *SendResponseOptions
}

func (o *RespondOptions) resOpts() *ResponseOptions {
	if o == nil {
		return nil
	}
	return o.ResponseOptions
}

func (o *RespondOptions) sendOpts() *SendResponseOptions {
	if o == nil {
		return nil
	}
	return o.SendOptions
}
