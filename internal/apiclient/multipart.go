package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// Multipart builds a multipart/form-data body. It is fully buffered so the
// request can be replayed after a token refresh.
type Multipart struct {
	buf    bytes.Buffer
	writer *multipart.Writer
	err    error
	closed bool
}

func NewMultipart() *Multipart {
	m := &Multipart{}
	m.writer = multipart.NewWriter(&m.buf)
	return m
}

// File adds a file part read fully from r.
func (m *Multipart) File(field, name string, r io.Reader) *Multipart {
	if m.err != nil {
		return m
	}
	part, err := m.writer.CreateFormFile(field, name)
	if err != nil {
		m.err = fmt.Errorf("create form file: %w", err)
		return m
	}
	if _, err := io.Copy(part, r); err != nil {
		m.err = fmt.Errorf("copy %s: %w", name, err)
	}
	return m
}

func (m *Multipart) FileBytes(field, name string, data []byte) *Multipart {
	return m.File(field, name, bytes.NewReader(data))
}

func (m *Multipart) Field(key, value string) *Multipart {
	if m.err != nil {
		return m
	}
	if err := m.writer.WriteField(key, value); err != nil {
		m.err = fmt.Errorf("write field %s: %w", key, err)
	}
	return m
}

func (m *Multipart) encode() ([]byte, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	if !m.closed {
		if err := m.writer.Close(); err != nil {
			return nil, "", fmt.Errorf("close multipart writer: %w", err)
		}
		m.closed = true
	}
	return m.buf.Bytes(), m.writer.FormDataContentType(), nil
}
