// Package gate authorizes access to protected regions from resolved capabilities.
//
// A Policy names one requirement: administrator only, all of a list of
// permissions, or any of a list. When more than one is set the precedence is
// admin, then all-of, then any-of. Evaluate is pure and returns Loading while
// the capabilities are unresolved, so nothing is allowed or denied on a guess.
//
// Gate.Protect turns a policy into HTTP middleware. Denials are rendered by a
// Strategy: Hide, Fallback, RedirectTo, or the default Explain page.
package gate
