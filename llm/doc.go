// Package llm provides the provider-neutral data model for turning a prompt into
// completions from a remote Large Language Model service.
//
// # Core Concepts
//
//  1. Modes: a request is either a chat request (the prompt becomes a single user
//     message) or a text completion request (the prompt is passed verbatim). DefaultMode
//     picks one from the model name.
//
//  2. Options and normalization: per-client defaults are merged with per-call overrides
//     and Normalize turns prompt plus options into a NormalizedRequest, a deterministic
//     JSON payload whose Key is used by the cache layer.
//
//  3. Responses: RawResponse carries Choice values. A Choice is a tagged variant holding
//     either a ChatChoice or a TextChoice, resolved by the provider adapter.
//
//  4. Providers: the Provider interface exposes CreateTextCompletion and
//     CreateChatCompletion. Middleware can decorate any Provider.
//
//  5. Errors: the Error type classifies failures. Rate limits, server errors and network
//     errors are transient; everything else is surfaced to the caller unchanged.
//
// Usage Example
//
//	opts := llm.MergeOptions(llm.DefaultOptions("gpt-3.5-turbo-instruct"), llm.Options{"n": 2})
//	req, err := llm.Normalize("Say hi", llm.ModeText, opts)
//	if err != nil {
//	    return err
//	}
//	wire, _ := req.Options()
//	resp, err := provider.CreateTextCompletion(ctx, wire)
package llm
