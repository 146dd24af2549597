package otel

import (
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys carrying the request path, old and new semconv.
const (
	httpTargetKey = attribute.Key("http.target")
	urlPathKey    = attribute.Key("url.path")
)

// endpointExcluder drops spans for noisy routes such as health checks and
// samples everything else by trace id ratio, honouring the parent decision.
type endpointExcluder struct {
	endpoints map[string]struct{}
	base      sdktrace.Sampler
}

func newEndpointExcluder(endpoints map[string]struct{}, probability float64) endpointExcluder {
	return endpointExcluder{
		endpoints: endpoints,
		base:      sdktrace.ParentBased(sdktrace.TraceIDRatioBased(probability)),
	}
}

func (ee endpointExcluder) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if ee.excluded(p.Name) {
		return drop(p)
	}
	for _, attr := range p.Attributes {
		if (attr.Key == httpTargetKey || attr.Key == urlPathKey) && ee.excluded(attr.Value.AsString()) {
			return drop(p)
		}
	}
	return ee.base.ShouldSample(p)
}

func (ee endpointExcluder) Description() string { return "endpointExcluder" }

func (ee endpointExcluder) excluded(route string) bool {
	_, ok := ee.endpoints[route]
	return ok
}

func drop(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	return sdktrace.SamplingResult{
		Decision:   sdktrace.Drop,
		Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
	}
}
