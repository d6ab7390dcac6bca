// Package planner turns natural-language scenarios into executable plans
// and keeps them aligned with live page structure: refinement rewrites
// selectors against the current DOM before execution, adaptation repairs a
// single failing step mid-run. Both paths degrade to the unmodified plan
// on any upstream failure.
package planner
