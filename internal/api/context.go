package api

import (
	"bytes"
	"context"
	"io"
)

func withSigner(ctx context.Context, pubkeyHex string) context.Context {
	return context.WithValue(ctx, signerKey{}, pubkeyHex)
}

func signerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(signerKey{}).(string)
	return v, ok
}

func newBytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
