// Package respond writes gateway responses: short text bodies, error
// statuses, and files streamed from disk in bounded chunks.
package respond

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/xraph/popgate"
)

// HeaderStatusMessage carries the status message. net/http always sends
// the standard reason phrase, so custom messages travel in this header.
const HeaderStatusMessage = "X-Status-Message"

// DefaultChunkSize is the file read size used when none is configured.
const DefaultChunkSize = 1024

// Responder writes one response. It must not be used after the handler
// that owns the ResponseWriter returns.
type Responder struct {
	w         http.ResponseWriter
	chunkSize int
	mime      MimeTable
	status    StatusTable

	code int
	msg  string
}

// Option configures a Responder.
type Option func(*Responder)

// WithChunkSize sets the file read size.
func WithChunkSize(n int) Option {
	return func(r *Responder) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithMime replaces the MIME table.
func WithMime(t MimeTable) Option {
	return func(r *Responder) { r.mime = t }
}

// WithStatusTable replaces the status message table.
func WithStatusTable(t StatusTable) Option {
	return func(r *Responder) { r.status = t }
}

// New creates a Responder writing to w.
func New(w http.ResponseWriter, opts ...Option) *Responder {
	r := &Responder{
		w:         w,
		chunkSize: DefaultChunkSize,
		mime:      DefaultMime,
		status:    DefaultStatus,
		code:      http.StatusOK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetStatus records the status to send. A zero code means 520 and an
// empty msg means the table default.
func (r *Responder) SetStatus(code int, msg string) *Responder {
	if code == 0 {
		code = StatusUnknown
	}
	if msg == "" {
		msg = r.status.Message(code)
	}
	r.code = code
	r.msg = msg
	return r
}

// SetMime sets the headers registered for ext.
func (r *Responder) SetMime(ext string) *Responder {
	h := r.w.Header()
	for k, v := range r.mime.Lookup(ext) {
		h.Set(k, v)
	}
	return r
}

// Status returns the status code that will be (or was) sent.
func (r *Responder) Status() int { return r.code }

// SendError ends the response with code (404 when zero) and the status
// message as a text body.
func (r *Responder) SendError(code int, msg string) error {
	if code == 0 {
		code = http.StatusNotFound
	}
	r.SetStatus(code, msg)
	return r.sendBody([]byte(r.msg))
}

// SendString ends the response with s as a text body. A zero code
// means 200.
func (r *Responder) SendString(s string, code int, msg string) error {
	return r.SendBytes([]byte(s), code, msg)
}

// SendBytes ends the response with b as a text body. A zero code means 200.
func (r *Responder) SendBytes(b []byte, code int, msg string) error {
	if code == 0 {
		code = http.StatusOK
	}
	r.SetStatus(code, msg)
	return r.sendBody(b)
}

func (r *Responder) sendBody(b []byte) error {
	r.SetMime(FallbackExt)
	return r.Send(bytes.NewReader(b), int64(len(b)))
}

// Send writes the recorded status, then copies src to the client in
// chunks. size, when non-negative, is sent as Content-Length. Each chunk
// is written and flushed before the next is read; Write blocks once the connection
// buffer is full, so a slow client stalls the read loop instead of
// growing memory.
func (r *Responder) Send(src io.Reader, size int64) error {
	r.writeHeader(size)

	flusher, _ := r.w.(http.Flusher)
	buf := make([]byte, r.chunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := r.w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("respond: write: %w", werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read: %w", popgate.ErrIOFault, err)
		}
	}
}

func (r *Responder) writeHeader(size int64) {
	if r.msg == "" {
		r.msg = r.status.Message(r.code)
	}
	h := r.w.Header()
	if size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if r.msg != "" {
		h.Set(HeaderStatusMessage, r.msg)
	}
	r.w.WriteHeader(r.code)
}

// SendFile serves rel, resolved under root. A directory is answered with
// defaultFile inside it. The returned error describes why the file was
// not served; the response has been finalized either way.
func (r *Responder) SendFile(root, rel, defaultFile string) error {
	full := Resolve(root, rel)
	name := path.Base(path.Clean("/" + rel))

	info, err := os.Stat(full)
	if err != nil {
		_ = r.SendError(http.StatusNotFound, "File "+name+" not found.") //nolint:errcheck // already failing
		return fmt.Errorf("%w: stat %s: %w", popgate.ErrIOFault, rel, err)
	}

	if info.IsDir() && defaultFile != "" {
		full = filepath.Join(full, defaultFile)
		name = defaultFile
		info, err = os.Stat(full)
		if err != nil {
			_ = r.SendError(http.StatusNotFound, "File "+name+" not found.") //nolint:errcheck // already failing
			return fmt.Errorf("%w: stat %s: %w", popgate.ErrIOFault, full, err)
		}
	}

	if !info.Mode().IsRegular() {
		_ = r.SendError(http.StatusNotFound, "Incorrect path") //nolint:errcheck // already failing
		return fmt.Errorf("%w: %s is not a regular file", popgate.ErrIOFault, rel)
	}

	f, err := os.Open(full)
	if err != nil {
		_ = r.SendError(StatusUnknown, err.Error()) //nolint:errcheck // already failing
		return fmt.Errorf("%w: open %s: %w", popgate.ErrIOFault, rel, err)
	}
	defer f.Close()

	r.SetStatus(http.StatusOK, "")
	r.SetMime(filepath.Ext(full))
	r.w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	return r.Send(f, info.Size())
}

// Resolve joins rel onto root after cleaning it against "/", so the result
// never escapes root.
func Resolve(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(path.Clean("/"+rel)))
}
