package errorcatcher

import "context"

type tagsKey struct{}

// WithTags returns a context carrying tags on top of those already in ctx.
// Later values win.
func WithTags(ctx context.Context, tags map[string]string) context.Context {
	merged := mergeTags(TagsFromContext(ctx), tags)
	return context.WithValue(ctx, tagsKey{}, merged)
}

// TagsFromContext returns a copy of the tags carried by ctx.
func TagsFromContext(ctx context.Context) map[string]string {
	tags, _ := ctx.Value(tagsKey{}).(map[string]string)
	return copyTags(tags)
}

func mergeTags(base, over map[string]string) map[string]string {
	out := copyTags(base)
	for k, v := range over {
		out[k] = v
	}
	return out
}
