// Package jsonl reads line-oriented JSON files written by agent CLIs.
//
// Upstream writers are not trustworthy: some pretty-print records across
// multiple physical lines, some concatenate objects on one line, and some
// emit whole arrays. The reader recovers every valid record it can and
// skips the rest; a malformed record never aborts the stream.
package jsonl

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// maxBufferedLines bounds the multi-line accumulator so a truly corrupt
// file cannot grow the buffer without limit.
const maxBufferedLines = 100

// scanBufferSize is the maximum physical line length accepted.
const scanBufferSize = 4 * 1024 * 1024

var concatBoundary = regexp.MustCompile(`\}\s*\{`)

// Reader yields parsed JSON records from a file, one Next call per logical
// record. It is lazy, finite, and non-restartable.
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
	logger  *logrus.Entry

	// queue holds records already split out of the current physical line
	// (array elements, concatenated objects).
	queue []json.RawMessage

	// pending accumulates physical lines of a pretty-printed record.
	pending []string

	skipped int
}

// Open creates a Reader for the given path.
func Open(path string, logger *logrus.Entry) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
	return &Reader{file: f, scanner: scanner, logger: logger}, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Skipped returns the number of fragments dropped as unparseable so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Next returns the next JSON record, or io.EOF when the file is exhausted.
func (r *Reader) Next() (json.RawMessage, error) {
	for {
		if len(r.queue) > 0 {
			rec := r.queue[0]
			r.queue = r.queue[1:]
			return rec, nil
		}

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			if len(r.pending) > 0 {
				r.dropPending("unterminated multi-line record at EOF")
			}
			return nil, io.EOF
		}

		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		if len(r.pending) > 0 {
			if rec, done := r.appendPending(line); done {
				if rec != nil {
					return rec, nil
				}
			}
			continue
		}

		if rec := r.consumeLine(line); rec != nil {
			return rec, nil
		}
	}
}

// consumeLine handles a fresh physical line. It either returns the first
// record parsed from it (queueing the rest), or starts the multi-line
// accumulator and returns nil.
func (r *Reader) consumeLine(line string) json.RawMessage {
	// Fast path: the line is a complete JSON value.
	if gjson.Valid(line) {
		r.enqueueValue(line)
		return r.dequeue()
	}

	if !strings.HasPrefix(line, "[") && strings.Contains(line, "}{") {
		r.splitConcatenated(line)
		if rec := r.dequeue(); rec != nil {
			return rec
		}
		return nil
	}

	// A line opening an object or array is assumed to be the start of a
	// pretty-printed record spanning multiple physical lines.
	if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
		r.pending = append(r.pending, line)
		return nil
	}

	// Anything else cannot start a record.
	r.skipped++
	if r.logger != nil {
		r.logger.WithField("line", truncate(line, 120)).Warn("Skipping unparseable line")
	}
	return nil
}

// appendPending adds a line to the multi-line buffer and tries to parse the
// accumulated text. The bool result reports whether the buffer was resolved
// (successfully or by being dropped).
func (r *Reader) appendPending(line string) (json.RawMessage, bool) {
	r.pending = append(r.pending, line)
	joined := strings.Join(r.pending, "\n")
	if gjson.Valid(joined) {
		r.pending = nil
		r.enqueueValue(joined)
		return r.dequeue(), true
	}

	// A complete single-line record showing up mid-accumulation means the
	// buffered text is garbage, not a pretty-printed prefix. Drop the
	// buffer and take the record.
	if (strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[")) && gjson.Valid(line) {
		r.pending = r.pending[:len(r.pending)-1]
		r.dropPending("complete record interrupted multi-line buffer")
		r.enqueueValue(line)
		return r.dequeue(), true
	}

	if len(r.pending) >= maxBufferedLines {
		r.dropPending("multi-line buffer exceeded limit")
		return nil, true
	}
	return nil, false
}

// enqueueValue queues a parsed JSON value, flattening top-level arrays.
func (r *Reader) enqueueValue(raw string) {
	parsed := gjson.Parse(raw)
	if parsed.IsArray() {
		for _, elem := range parsed.Array() {
			r.queue = append(r.queue, json.RawMessage(elem.Raw))
		}
		return
	}
	r.queue = append(r.queue, json.RawMessage(raw))
}

// splitConcatenated breaks a `}{` line into individual objects, repairing
// the braces removed by the split. Fragments that still fail to parse are
// logged and skipped.
func (r *Reader) splitConcatenated(line string) {
	fragments := concatBoundary.Split(line, -1)
	for i, frag := range fragments {
		if i > 0 {
			frag = "{" + frag
		}
		if i < len(fragments)-1 {
			frag = frag + "}"
		}
		frag = strings.TrimSpace(frag)
		if gjson.Valid(frag) {
			r.queue = append(r.queue, json.RawMessage(frag))
			continue
		}
		r.skipped++
		if r.logger != nil {
			r.logger.WithField("fragment", truncate(frag, 120)).Warn("Skipping unparseable record fragment")
		}
	}
}

func (r *Reader) dequeue() json.RawMessage {
	if len(r.queue) == 0 {
		return nil
	}
	rec := r.queue[0]
	r.queue = r.queue[1:]
	return rec
}

func (r *Reader) dropPending(reason string) {
	r.skipped++
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"lines":  len(r.pending),
			"reason": reason,
		}).Warn("Dropping unparseable buffered record")
	}
	r.pending = nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ReadAll materializes the record sequence of a file. A limit of 0 means
// no limit. Missing files yield an empty slice, matching the semantics of
// a session that has produced no records yet.
func ReadAll(path string, limit int, logger *logrus.Entry) ([]json.RawMessage, error) {
	r, err := Open(path, logger)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer r.Close()

	var records []json.RawMessage
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
		if limit > 0 && len(records) >= limit {
			return records, nil
		}
	}
}
