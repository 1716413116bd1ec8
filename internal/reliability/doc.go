// Package reliability provides retry policies for stage handler invocations.
//
// Retry applies only to infrastructure failures: a handler that did not
// produce a result at all (timeout, transport error, malformed response).
// A handler that produced a valid rejection result is ordinary control flow
// and never reaches this package.
package reliability
