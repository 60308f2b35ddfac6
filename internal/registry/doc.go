// Package registry maps events to the registrants subscribed to them.
//
// Two variants share the Lookup contract: Registry keeps the relation in
// process memory with a lookup cache, Persisted keeps it in a kv.Store so
// several processes see the same subscriptions.
package registry
