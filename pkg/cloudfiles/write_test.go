package cloudfiles_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/transport"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/simtest"
)

// rewriteTransport forwards storage calls to a real transport. respond may
// answer a call itself and edit may alter a forwarded response.
type rewriteTransport struct {
	next    cloudfiles.Transport
	respond func(req *transport.Request) *transport.Response
	edit    func(req *transport.Request, resp *transport.Response)

	mu    sync.Mutex
	calls []string
}

func (r *rewriteTransport) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	path, _, _ := strings.Cut(req.URL, "?")
	r.mu.Lock()
	r.calls = append(r.calls, req.Method+" "+path)
	r.mu.Unlock()

	if r.respond != nil {
		if resp := r.respond(req); resp != nil {
			return resp, nil
		}
	}
	resp, err := r.next.Send(ctx, req)
	if err == nil && r.edit != nil {
		r.edit(req, resp)
	}
	return resp, err
}

// count returns how many calls used method on a URL ending in suffix
func (r *rewriteTransport) count(method, suffix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, method+" ") && strings.HasSuffix(c, suffix) {
			n++
		}
	}
	return n
}

func stubResponse(code int, header http.Header) *transport.Response {
	if header == nil {
		header = http.Header{}
	}
	return &transport.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func setupRewrite(t *testing.T) (*rewriteTransport, *cloudfiles.Client, *cloudfiles.Container) {
	t.Helper()
	env := simtest.New(t)
	rt := &rewriteTransport{next: env.Transport()}
	client := env.Client(t, cloudfiles.WithTransport(rt))
	ct, err := client.CreateContainer(context.Background(), "test")
	require.NoError(t, err)
	return rt, client, ct
}

func md5String(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestWriteFromMissingSource(t *testing.T) {
	rt, _, ct := setupRewrite(t)
	ctx := context.Background()

	src, err := ct.CreateObject(ctx, "missing")
	require.NoError(t, err)
	dst, err := ct.CreateObject(ctx, "dst")
	require.NoError(t, err)

	err = dst.Write(ctx, src)
	require.Error(t, err)
	assert.ErrorIs(t, err, cloudfiles.ErrNoSuchObject)
	assert.True(t, cloudfiles.IsNotFound(err))
	assert.NotErrorIs(t, err, transport.ErrRetriesExhausted)
	assert.Equal(t, 1, rt.count(http.MethodHead, "/test/missing"), "source failures are not retried")

	var oerr *cloudfiles.ObjectError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "write", oerr.Op)
	assert.Equal(t, "dst", oerr.Object)

	_, err = ct.GetObject(ctx, "dst")
	assert.ErrorIs(t, err, cloudfiles.ErrNoSuchObject)
}

func TestWriteRejectedChecksum(t *testing.T) {
	rt, _, ct := setupRewrite(t)
	ctx := context.Background()
	obj := writeObject(t, ct, "obj", "data")
	etag := obj.ETag()

	rt.respond = func(req *transport.Request) *transport.Response {
		if req.Method == http.MethodPut && strings.HasSuffix(req.URL, "/test/obj") {
			return stubResponse(http.StatusUnprocessableEntity, nil)
		}
		return nil
	}

	err := obj.Write(ctx, cloudfiles.String("other"))
	require.Error(t, err)
	assert.ErrorIs(t, err, cloudfiles.ErrIntegrity)
	var ierr *cloudfiles.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, md5String("other"), ierr.Expected)

	assert.Equal(t, etag, obj.ETag())
	assert.Equal(t, int64(4), obj.ContentLength())
}

func TestWriteChunkedETagMismatch(t *testing.T) {
	rt, _, ct := setupRewrite(t)
	ctx := context.Background()
	obj := writeObject(t, ct, "obj", "data")
	etag := obj.ETag()

	const wrong = "00000000000000000000000000000000"
	rt.edit = func(req *transport.Request, resp *transport.Response) {
		if req.Method == http.MethodPut {
			resp.Header.Set("Etag", wrong)
		}
	}

	err := obj.Write(ctx, cloudfiles.String("longer data"), cloudfiles.WithWriteChunkSize(4))
	require.Error(t, err)
	assert.ErrorIs(t, err, cloudfiles.ErrIntegrity)
	var ierr *cloudfiles.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, md5String("longer data"), ierr.Expected)
	assert.Equal(t, wrong, ierr.Actual)

	assert.Equal(t, etag, obj.ETag())
	assert.Equal(t, int64(4), obj.ContentLength())

	// verification off accepts the server's word
	require.NoError(t, obj.Write(ctx, cloudfiles.String("longer data"), cloudfiles.WithWriteChunkSize(4), cloudfiles.WithVerify(false)))
	assert.Equal(t, int64(11), obj.ContentLength())
}

func TestCopyWithoutServerCopy(t *testing.T) {
	rt, _, ct := setupRewrite(t)
	ctx := context.Background()
	src := writeObject(t, ct, "src.txt", "data")
	require.NoError(t, src.UpdateMetadata(ctx, map[string]any{"x-object-meta-origin": "src"}))

	rt.respond = func(req *transport.Request) *transport.Response {
		if req.Method == "COPY" || req.Header.Get("X-Copy-From") != "" {
			return stubResponse(http.StatusMethodNotAllowed, nil)
		}
		return nil
	}

	dst, err := ct.CreateObject(ctx, "dst.txt")
	require.NoError(t, err)
	require.NoError(t, src.CopyTo(ctx, dst))
	assert.Equal(t, 1, rt.count("COPY", "/test/src.txt"))
	assert.Equal(t, src.ETag(), dst.ETag())
	assert.Equal(t, "text/plain", dst.ContentType())
	assert.Equal(t, "src", dst.Metadata()["x-object-meta-origin"])

	again, err := ct.CreateObject(ctx, "again.txt")
	require.NoError(t, err)
	require.NoError(t, again.CopyFrom(ctx, dst))
	data, err := again.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.Equal(t, "src", again.Metadata()["x-object-meta-origin"])
}
