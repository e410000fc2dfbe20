package httpgov

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/hupe1980/govern"
	"github.com/hupe1980/govern/retry"
)

// inbound is a request whose body is read once and replayed for every attempt.
type inbound struct {
	r         *http.Request
	maxBytes  int64
	fileField string

	once sync.Once
	body []byte
	err  error
}

func (in *inbound) load() ([]byte, error) {
	in.once.Do(func() {
		if in.r.Body == nil {
			return
		}
		data, err := io.ReadAll(io.LimitReader(in.r.Body, in.maxBytes+1))
		if err != nil {
			in.err = fmt.Errorf("read request body: %w", err)
			return
		}
		if int64(len(data)) > in.maxBytes {
			in.err = retry.Permanent(fmt.Errorf("%w: request body exceeds %d bytes", govern.ErrPayloadTooLarge, in.maxBytes))
			return
		}
		in.body = data
	})
	return in.body, in.err
}

// request returns a copy of the original request bound to ctx with a fresh
// body reader.
func (in *inbound) request(ctx context.Context) (*http.Request, error) {
	body, err := in.load()
	if err != nil {
		return nil, err
	}
	r := in.r.Clone(ctx)
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return r, nil
}

var errNoFile = errors.New("no file part")

// size reports the size of the uploaded file, or of the whole body for
// non-multipart requests. It reads from a copy of the buffered body.
func (in *inbound) size() (int64, error) {
	body, err := in.load()
	if err != nil {
		return 0, err
	}

	mediaType, params, err := mime.ParseMediaType(in.r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return int64(len(body)), nil
	}

	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errNoFile
			}
			return 0, err
		}
		if part.FormName() == in.fileField {
			return io.Copy(io.Discard, part)
		}
	}
}
