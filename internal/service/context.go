package service

import "context"

type contextKey string

const namespaceKey contextKey = "namespace"

// WithNamespace stores the request's namespace in the context.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, namespaceKey, namespace)
}

// Namespace extracts the namespace injected by the middleware; requests
// that skipped the middleware resolve to the default namespace.
func Namespace(ctx context.Context) string {
	if ns, ok := ctx.Value(namespaceKey).(string); ok && ns != "" {
		return ns
	}
	return "default"
}
