package interceptors

import (
	"net/http"

	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.temporal.io/sdk/activity"

	"github.com/farmwise/farmwise/go/orchestrator/internal/tracing"
)

// ActivityRoundTripper stamps outbound requests made from activities with the
// calling workflow's ids, so the WhatsApp and farmbase logs can be joined
// with workflow history.
type ActivityRoundTripper struct {
	base http.RoundTripper
}

func NewActivityRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &ActivityRoundTripper{base: base}
}

func (rt *ActivityRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := tracing.StartHTTPSpan(req.Context(), req.Method, req.URL.String())
	defer span.End()

	out := req.Clone(ctx)
	if id, run, ok := workflowIDs(req); ok {
		out.Header.Set("X-Workflow-ID", id)
		out.Header.Set("X-Run-ID", run)
	}
	tracing.InjectTraceparent(ctx, out)

	resp, err := rt.base.RoundTrip(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

// workflowIDs reads activity info from the request context. activity.GetInfo
// panics outside an activity, e.g. on the conversational path.
func workflowIDs(req *http.Request) (id, run string, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	info := activity.GetInfo(req.Context())
	if info.WorkflowExecution.ID == "" {
		return "", "", false
	}
	return info.WorkflowExecution.ID, info.WorkflowExecution.RunID, true
}
