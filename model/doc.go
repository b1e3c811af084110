// Package model defines the provider-agnostic interface through which agent
// runtime nodes invoke a reasoning step. The orchestrator treats the model as
// an opaque collaborator: it hands over the normalized conversation plus the
// available tool set and receives text output and/or tool call requests.
// Provider adapters live in the subpackages anthropic and openai; MockModel
// supports tests and examples without network access.
package model
