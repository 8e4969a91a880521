package entry

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// FormatVersion is the on-disk record version written by Encode.
const FormatVersion = 1

// FileExt is the extension of entry record files.
const FileExt = ".entry"

// Body encodings.
const (
	EncodingRaw  = "raw"
	EncodingZstd = "zstd"
)

// maxHeaderBytes bounds the header line so a garbage file cannot make
// DecodeMeta buffer unbounded data.
const maxHeaderBytes = 64 * 1024

// maxRatioHint caps the decompressed-size preallocation at this multiple of
// the compressed payload.
const maxRatioHint = 16

// MaxBodyBytes bounds a stored body. Decoding never allocates past it
// whatever the header claims.
const MaxBodyBytes = 256 << 20

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed entry record")

// header is the first line of a record file.
type header struct {
	V          int     `json:"v"`
	ID         string  `json:"id"`
	CapturedAt int64   `json:"captured_at"`
	Command    *string `json:"command,omitempty"`
	ExitCode   *int    `json:"exit_code,omitempty"`
	ByteLength int     `json:"byte_length"`
	Encoding   string  `json:"encoding"`
	Blake3     string  `json:"blake3"`
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("entry: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodyBytes))
	if err != nil {
		panic("entry: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes e as a header line followed by the body payload.
// Bodies of at least compressThreshold bytes are zstd-compressed when that
// makes them smaller; compressThreshold <= 0 disables compression.
func Encode(e *Entry, compressThreshold int) ([]byte, error) {
	body := []byte(e.Body)
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("entry body is %d bytes, limit is %d", len(body), MaxBodyBytes)
	}
	sum := blake3.Sum256(body)

	h := header{
		V:          FormatVersion,
		ID:         e.ID.String(),
		CapturedAt: e.CapturedAt.UnixNano(),
		Command:    e.Command,
		ExitCode:   e.ExitCode,
		ByteLength: len(body),
		Encoding:   EncodingRaw,
		Blake3:     hex.EncodeToString(sum[:]),
	}

	payload := body
	if compressThreshold > 0 && len(body) >= compressThreshold {
		compressed := zstdEncoder.EncodeAll(body, nil)
		if len(compressed) < len(body) {
			payload = compressed
			h.Encoding = EncodingZstd
		}
	}

	line, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(line) + 1 + len(payload))
	buf.Write(line)
	buf.WriteByte('\n')
	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeMeta reads only the header line from r.
func DecodeMeta(r io.Reader) (Meta, error) {
	br := bufio.NewReader(io.LimitReader(r, maxHeaderBytes))
	line, err := br.ReadBytes('\n')
	if err != nil {
		return Meta{}, fmt.Errorf("%w: header line: %v", ErrMalformed, err)
	}
	h, err := parseHeader(line)
	if err != nil {
		return Meta{}, err
	}
	return h.meta()
}

// Decode parses a full record.
func Decode(data []byte) (*Entry, error) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing header terminator", ErrMalformed)
	}
	h, err := parseHeader(data[:idx+1])
	if err != nil {
		return nil, err
	}
	meta, err := h.meta()
	if err != nil {
		return nil, err
	}

	payload := data[idx+1:]
	var body []byte
	switch h.Encoding {
	case EncodingRaw, "":
		body = payload
	case EncodingZstd:
		// The header length is only a hint here; the check below enforces it.
		hint := min(h.ByteLength, len(payload)*maxRatioHint)
		body, err = zstdDecoder.DecodeAll(payload, make([]byte, 0, hint))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrMalformed, h.Encoding)
	}

	if len(body) != h.ByteLength {
		return nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrMalformed, len(body), h.ByteLength)
	}
	sum := blake3.Sum256(body)
	if hex.EncodeToString(sum[:]) != h.Blake3 {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformed)
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformed)
	}

	return &Entry{
		ID:         meta.ID,
		CapturedAt: meta.CapturedAt,
		Command:    meta.Command,
		ExitCode:   meta.ExitCode,
		Body:       string(body),
		ByteLength: meta.ByteLength,
	}, nil
}

func parseHeader(line []byte) (*header, error) {
	var h header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	if h.V < 1 || h.V > FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, h.V)
	}
	return &h, nil
}

func (h *header) meta() (Meta, error) {
	id, err := ParseID(h.ID)
	if err != nil {
		return Meta{}, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	if h.ByteLength < 0 {
		return Meta{}, fmt.Errorf("%w: negative byte_length", ErrMalformed)
	}
	if h.ByteLength > MaxBodyBytes {
		return Meta{}, fmt.Errorf("%w: byte_length %d over limit", ErrMalformed, h.ByteLength)
	}
	return Meta{
		ID:         id,
		CapturedAt: time.Unix(0, h.CapturedAt).UTC(),
		Command:    h.Command,
		ExitCode:   h.ExitCode,
		ByteLength: h.ByteLength,
	}, nil
}
