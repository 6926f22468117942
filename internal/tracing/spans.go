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

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRun opens the root span for one workflow run.
func StartRun(ctx context.Context, tracer trace.Tracer, runID, workflowID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("workflow.run %s", workflowID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("workflow.id", workflowID),
		),
	)
}

// StartStep opens a child span for one step's invocation, including
// retry attempts.
func StartStep(ctx context.Context, tracer trace.Tracer, stepID, module string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("step %s", stepID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.module", module),
		),
	)
}

// SetResilienceAttributes records the resilience layer's view of a call:
// the breaker state observed before dispatch and whether the limiter made
// the caller wait.
func SetResilienceAttributes(span trace.Span, breakerState string, limiterWaited bool) {
	span.SetAttributes(
		attribute.String("resilience.breaker_state", breakerState),
		attribute.Bool("resilience.limiter_waited", limiterWaited),
	)
}

// End records err on span, if any, and closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
