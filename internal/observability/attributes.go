// Package observability provides metrics and logging utilities.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys. Values are kept low-cardinality: operations are a fixed
// set, statuses are the canonical job states, HTTP codes are grouped.
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrOp      = "op"
	attrOutcome = "outcome"
)

// Command operation names.
const (
	OpSubmit     = "submit"
	OpCheckAlive = "check-alive"
	OpKill       = "kill"
)

// Command outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNonZero  = "non-zero"
	OutcomeTimedOut = "timed-out"
	OutcomeError    = "error"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func httpStatusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func jobStatusAttr(status string) attribute.KeyValue {
	return attribute.String(attrStatus, status)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

// normalizePath replaces dynamic path segments with placeholders so job
// names don't explode metric cardinality.
func normalizePath(path string) string {
	const prefix = "/v1/jobs/"
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		if path[len(path)-5:] == "/poll" {
			return "/v1/jobs/{jobId}/poll"
		}
		return "/v1/jobs/{jobId}"
	}
	return path
}
