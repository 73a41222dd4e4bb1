// Package charset adapts text between a site's legacy encoding and UTF-8.
package charset

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

const UTF8 = "utf-8"

type Codec struct {
	name string
	enc  encoding.Encoding
}

// New returns a codec for an IANA/WHATWG charset label such as "windows-1251".
// An empty label means UTF-8.
func New(label string) (*Codec, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" || label == UTF8 || label == "utf8" {
		return &Codec{name: UTF8}, nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, errors.Wrapf(err, "unsupported charset %q", label)
	}
	name, _ := htmlindex.Name(enc)

	return &Codec{name: name, enc: enc}, nil
}

func (c *Codec) Name() string {
	return c.name
}

func (c *Codec) identity() bool {
	return c.enc == nil
}

// Decode converts site-encoded text to UTF-8.
func (c *Codec) Decode(s string) (string, error) {
	if c.identity() {
		return s, nil
	}
	out, _, err := transform.String(c.enc.NewDecoder(), s)
	if err != nil {
		return "", errors.Wrapf(err, "decode from %s", c.name)
	}
	return out, nil
}

// Encode converts UTF-8 text to the site encoding. Characters the site encoding
// cannot represent are replaced.
func (c *Codec) Encode(s string) string {
	if c.identity() {
		return s
	}
	out, _, err := transform.String(encoding.ReplaceUnsupported(c.enc.NewEncoder()), s)
	if err != nil {
		return s
	}
	return out
}

func (c *Codec) DecodeMap(values map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		decoded, err := c.Decode(v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", k)
		}
		out[k] = decoded
	}
	return out, nil
}

// NewWriter returns a writer that encodes UTF-8 input into the site encoding.
func (c *Codec) NewWriter(w io.Writer) io.Writer {
	if c.identity() {
		return w
	}
	return transform.NewWriter(w, encoding.ReplaceUnsupported(c.enc.NewEncoder()))
}
