package workflow

// RPCMode is the inferred call shape of a test, derived from its REQUEST and
// RESPONSE section counts.
type RPCMode string

const (
	RPCUnary          RPCMode = "Unary"
	RPCServerStreaming RPCMode = "ServerStreaming"
	RPCClientStreaming RPCMode = "ClientStreaming"
	RPCBidiStreaming   RPCMode = "BidiStreaming"
)

// Summary is the derived rollup attached to a workflow's terminal Complete
// event.
type Summary struct {
	RequestCount    int
	ResponseCount   int
	ErrorCount      int
	ExtractCount    int
	AssertCount     int
	Backends        []string
	Mode            RPCMode
	HasStreaming    bool
	HasBidiStreaming bool
}

// InferRPCMode classifies a call by its request/response counts: server
// streaming iff exactly one request and two or more responses, client
// streaming iff two or more requests and exactly one response, bidi iff both
// counts are two or more, unary otherwise.
func InferRPCMode(requestCount, responseCount int) RPCMode {
	switch {
	case requestCount >= 2 && responseCount >= 2:
		return RPCBidiStreaming
	case requestCount == 1 && responseCount >= 2:
		return RPCServerStreaming
	case requestCount >= 2 && responseCount == 1:
		return RPCClientStreaming
	default:
		return RPCUnary
	}
}

// summarize derives a Summary from a lowered event list and the document-wide
// request/response totals used to infer rpc_mode.
func summarize(events []Event, requestCount, responseCount int, backends []string) Summary {
	s := Summary{Backends: backends}
	for _, e := range events {
		switch e.Kind {
		case EventSendRequest:
			s.RequestCount++
		case EventResponseReceived:
			s.ResponseCount++
		case EventError:
			s.ErrorCount++
		case EventExtract:
			s.ExtractCount += len(e.Bindings)
		case EventAssert:
			s.AssertCount++
		}
	}
	s.Mode = InferRPCMode(requestCount, responseCount)
	s.HasStreaming = s.Mode != RPCUnary
	s.HasBidiStreaming = s.Mode == RPCBidiStreaming
	return s
}
