// Package browser is the action layer between the agent loop and a browser
// session.
//
// A Registry holds named actions, each with a parameter schema and a
// handler. ExecuteAction validates the model's parameters against the
// schema, substitutes <secret>name</secret> placeholders with values the
// current page's domain is allowed to see, and runs the handler with an
// ActionContext describing the session and the agent that issued the call.
//
// # Errors
//
// ExecuteAction classifies failures so the agent can react to them:
//
//   - *AbortError: the context was cancelled before or during the action
//     (errors.Is(err, ErrAborted) holds)
//   - *ActionNotFoundError: no action has the requested name
//   - *ValidationError: parameters do not match the action's schema
//   - *browser.BrowserError: a classified browser failure, passed through
//   - *ActionError: any other handler failure
//
// # Built-in actions
//
// NewDefaultRegistry registers navigation (navigate, search_web, go_back),
// element interaction (click_element, input_text, scroll), tab management
// (open_tab, switch_tab, close_tab), page reading (extract_content,
// find_text, evaluate), files (read_file, write_file), wait and done.
package browser
