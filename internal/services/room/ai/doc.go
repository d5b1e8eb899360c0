// Package ai defines the model invocation boundary for dialogue prompt steps
// and provides the OpenAI responses-endpoint adapter.
package ai
