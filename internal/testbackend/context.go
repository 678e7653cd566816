package testbackend

import "context"

func withBody(ctx context.Context, body string) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}

func bodyFrom(ctx context.Context) string {
	body, _ := ctx.Value(bodyKey{}).(string)
	return body
}
