// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing provides the substrate's run and step span instrumentation,
// built on the OpenTelemetry SDK. A Provider registers itself as the global
// tracer provider; every package that wants a tracer calls Tracer(name)
// rather than holding its own reference, keeping span emission a process-wide
// concern the executor and resilience layer opt into without threading a
// dependency through their constructors.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process's TracerProvider and its span exporter.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a TracerProvider that writes completed spans to out in
// batches, tagged with serviceName, and installs it as the global provider.
// There is no collector in scope for this core, so stdout is the exporter;
// an operator wiring this into a real backend swaps the exporter, not the
// instrumentation calls.
func NewProvider(serviceName string, out io.Writer) (*Provider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("build trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("", semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes any batched spans and releases the exporter. Safe to
// call on a nil Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the named tracer from the global provider. Before a
// Provider is installed this is a no-op tracer, so callers never need to
// guard against tracing being disabled.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
