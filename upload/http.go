package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/attendify/faceenroll/snapshot"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

const (
	// HeaderAttempt carries the attempt id so the server can drop parts of
	// superseded attempts.
	HeaderAttempt = "X-Enrollment-Attempt"

	// HeaderDigest carries the xxh3-64 digest of the artifact, hex encoded.
	HeaderDigest = "X-Artifact-Digest"

	maxExcerpt = 512
)

// ErrRejected is returned when the server answers with a non-success status.
var ErrRejected = errors.New("upload rejected")

// RejectedError describes a rejected part.
type RejectedError struct {
	Field   string
	Status  int
	Excerpt string
}

// Error names the field and status, followed by the body excerpt if any.
func (e *RejectedError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("%s: %s: status %d", ErrRejected, e.Field, e.Status)
	}

	return fmt.Sprintf("%s: %s: status %d: %s", ErrRejected, e.Field, e.Status, e.Excerpt)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// HTTPEndpoint posts each part as multipart/form-data to URL.
type HTTPEndpoint struct {
	URL    *url.URL
	Client *http.Client
}

// NewHTTPEndpoint returns an endpoint posting to target with the package's
// default client.
func NewHTTPEndpoint(ctx context.Context, target *url.URL) *HTTPEndpoint {
	return &HTTPEndpoint{
		URL:    target,
		Client: NewClient(ctx),
	}
}

func (e *HTTPEndpoint) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}

	return http.DefaultClient
}

// Send implements Endpoint.
func (e *HTTPEndpoint) Send(ctx context.Context, attemptID uuid.UUID, part Part) error {
	data, err := readArtifact(part.Artifact)
	if err != nil {
		return err
	}

	body, contentType, err := encodePart(part, data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL.String(), body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderAttempt, attemptID.String())
	req.Header.Set(HeaderDigest, strconv.FormatUint(xxh3.Hash(data), 16))

	rsp, err := e.client().Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_, _ = io.Copy(io.Discard, rsp.Body)
		_ = rsp.Body.Close()
	}()

	if rsp.StatusCode == http.StatusOK || rsp.StatusCode == http.StatusCreated {
		return nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(rsp.Body, maxExcerpt))

	return &RejectedError{
		Field:   part.Field,
		Status:  rsp.StatusCode,
		Excerpt: strings.TrimSpace(string(excerpt)),
	}
}

func readArtifact(ref snapshot.ArtifactRef) ([]byte, error) {
	return os.ReadFile(ref.Path()) // #nosec G304 -- artifact paths come from our own capturer
}

func encodePart(part Part, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, part.Field, part.FileName))
	header.Set("Content-Type", "image/jpeg")

	w, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}

	if _, err := w.Write(data); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}
