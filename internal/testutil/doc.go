// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing workflow states and tasks, and a
// scriptable in-process agent that speaks the agent-to-agent protocol over
// httptest. They are not intended for production usage.
package testutil
