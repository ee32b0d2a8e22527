package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// readStdout turns result lines into overlays and status log entries.
func (b *Bridge) readStdout(r *run, rd io.Reader) {
	defer r.readers.Done()
	b.consumeStdout(rd)
}

func (b *Bridge) consumeStdout(rd io.Reader) {
	err := readLines(rd, b.cfg.MaxLineBytes, b.handleLine, func(n int) {
		b.malformed.Add(1)
		b.logger.Warn("stdout line too long, discarded", "bytes", n, "limit", b.cfg.MaxLineBytes)
		b.sink.Log(TagError, fmt.Sprintf("worker output line of %d bytes discarded", n))
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		b.logger.Warn("stdout reader stopped", "error", err)
	}
}

// handleLine processes one stdout line. Nothing here stops the reader.
func (b *Bridge) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	res, err := ParseResult(line)
	if err != nil || !res.Known() {
		b.malformed.Add(1)
		b.sink.Log(TagStdout, string(line))
		return
	}
	b.results.Add(1)

	if res.Error != "" {
		b.workerErrors.Add(1)
		b.logger.Warn("worker reported error", "request_id", res.ID, "error", res.Error)
		b.sink.Log(TagError, "worker: "+res.Error)
		return
	}

	if !res.HasOverlay() {
		b.sink.Log(TagStatus, res.StatusLine())
		return
	}

	ov, err := DecodeOverlay(res)
	if err != nil {
		b.decodeFails.Add(1)
		b.logger.Warn("overlay decode failed", "request_id", res.ID, "error", err)
		b.sink.Log(TagError, err.Error())
		return
	}

	ov.Seq = b.overlaySeq.Add(1)
	b.overlays.Add(1)
	b.sink.ShowOverlay(ov)
	b.sink.Log(TagStatus, ov.StatusLine())
}

// readStderr forwards every non-blank stderr line as a diagnostic.
func (b *Bridge) readStderr(r *run, rd io.Reader) {
	defer r.readers.Done()
	b.consumeStderr(rd)
}

func (b *Bridge) consumeStderr(rd io.Reader) {
	err := readLines(rd, b.cfg.MaxLineBytes, func(line []byte) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return
		}
		b.stderrLines.Add(1)
		b.sink.Log(TagStderr, string(line))
	}, func(n int) {
		b.logger.Warn("stderr line too long, discarded", "bytes", n)
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		b.logger.Warn("stderr reader stopped", "error", err)
	}
}

// readLines calls line for every newline-terminated line of rd, including a
// final unterminated one. Lines longer than max are skipped whole and reported
// to overflow so one oversized line never stalls the stream. The slice passed
// to line is only valid during the call.
func readLines(rd io.Reader, max int, line func([]byte), overflow func(n int)) error {
	br := bufio.NewReaderSize(rd, 64*1024)
	var buf []byte
	skipping := false
	skipped := 0

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			switch {
			case skipping:
				skipped += len(chunk)
			case len(buf)+len(chunk) > max:
				skipping = true
				skipped = len(buf) + len(chunk)
				buf = buf[:0]
			default:
				buf = append(buf, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if skipping {
			overflow(skipped)
			skipping = false
			skipped = 0
		} else if len(buf) > 0 {
			line(bytes.TrimRight(buf, "\r\n"))
		}
		buf = buf[:0]

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
