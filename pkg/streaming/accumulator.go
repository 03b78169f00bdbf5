package streaming

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// UpdateFunc is invoked after every appended chunk with the chunk's decoded
// text and the full accumulated completion so far. Returning an error stops
// the producer.
type UpdateFunc func(delta string, completion string) error

// AbortedError is returned when a stream is interrupted mid-flight. Partial
// holds whatever text had accumulated; the caller decides what to do with it.
type AbortedError struct {
	Partial string
	Err     error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("stream aborted after %d bytes: %v", len(e.Partial), e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

// Accumulator folds raw byte chunks into a growing string. A chunk's trailing
// incomplete UTF-8 sequence is held back and prefixed onto the next chunk, so
// multi-byte characters split across chunk boundaries decode correctly.
type Accumulator struct {
	completion strings.Builder
	pending    []byte
}

// Push appends a chunk and returns the newly decoded text, which may be empty
// when the chunk ends inside a multi-byte character.
func (a *Accumulator) Push(chunk []byte) string {
	buf := append(a.pending, chunk...)
	complete, rest := splitIncompleteRune(buf)
	a.pending = rest

	a.completion.Write(complete)
	return string(complete)
}

// Flush drains any held-back bytes and returns them as text. Called at
// end-of-stream; a dangling invalid sequence is emitted verbatim rather than
// dropped.
func (a *Accumulator) Flush() string {
	if len(a.pending) == 0 {
		return ""
	}
	delta := string(a.pending)
	a.completion.Write(a.pending)
	a.pending = nil
	return delta
}

func (a *Accumulator) String() string {
	return a.completion.String()
}

// splitIncompleteRune cuts buf at the last complete UTF-8 boundary. rest is
// the trailing incomplete sequence, if any.
func splitIncompleteRune(buf []byte) (complete []byte, rest []byte) {
	end := len(buf)
	for i := 1; i <= utf8.UTFMax && i <= len(buf); i++ {
		b := buf[len(buf)-i]
		if !utf8.RuneStart(b) {
			continue
		}
		// found the start of the trailing sequence; hold it back only if
		// it is genuinely truncated
		if r, _ := utf8.DecodeRune(buf[len(buf)-i:]); r == utf8.RuneError && !utf8.FullRune(buf[len(buf)-i:]) {
			end = len(buf) - i
		}
		break
	}

	if end == len(buf) {
		return buf, nil
	}
	rest = make([]byte, len(buf)-end)
	copy(rest, buf[end:])
	return buf[:end], rest
}

const readChunkSize = 4096

// ReadStream consumes r chunk-by-chunk until EOF, invoking onUpdate for each
// increment. It returns the final accumulated string. A read failure before
// end-of-stream yields an *AbortedError carrying the partial text, as does
// context cancellation.
func ReadStream(ctx context.Context, r io.Reader, onUpdate UpdateFunc) (string, error) {
	acc := &Accumulator{}
	buf := make([]byte, readChunkSize)
	chunks := 0

	for {
		if err := ctx.Err(); err != nil {
			return acc.String(), &AbortedError{Partial: acc.String(), Err: err}
		}

		n, err := r.Read(buf)
		if n > 0 {
			chunks++
			delta := acc.Push(buf[:n])
			if delta != "" {
				if err := onUpdate(delta, acc.String()); err != nil {
					return acc.String(), errors.Wrap(err, "update callback failed")
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Debug().Err(err).Int("chunks", chunks).Msg("stream read failed mid-flight")
			return acc.String(), &AbortedError{Partial: acc.String(), Err: err}
		}
	}

	if delta := acc.Flush(); delta != "" {
		if err := onUpdate(delta, acc.String()); err != nil {
			return acc.String(), errors.Wrap(err, "update callback failed")
		}
	}

	log.Debug().Int("chunks", chunks).Int("length", len(acc.String())).Msg("stream consumed")
	return acc.String(), nil
}
