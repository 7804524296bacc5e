package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AltairaLabs/VoiceKit/pkg/httputil"
)

// HTTPClient returns a copy of base that records a client span per request
// and writes the trace headers of the request context. Token fetches and SDP
// exchanges use it so the issuing service can join the conversation trace.
// A nil base means httputil.DefaultClient.
func HTTPClient(base *http.Client) *http.Client {
	base = httputil.OrDefault(base)
	c := *base
	c.Transport = otelhttp.NewTransport(base.Transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method + " " + r.URL.Path
		}),
	)
	return &c
}
