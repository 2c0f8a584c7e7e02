package mysqltest

import "bytes"

// lineWriter implements io.WriteCloser and invokes the callback once per
// complete line written to it. A trailing partial line is flushed on Close.
type lineWriter struct {
	buf      []byte
	callback func([]byte)
}

func newLineWriter(callback func([]byte)) *lineWriter {
	return &lineWriter{callback: callback}
}

func (l *lineWriter) Write(in []byte) (int, error) {
	n := len(in)
	for {
		pos := bytes.IndexByte(in, '\n')
		if pos < 0 {
			break
		}
		line := in[:pos]
		if len(l.buf) > 0 {
			line = append(l.buf, line...)
			l.buf = nil
		}
		l.callback(line)
		in = in[pos+1:]
	}
	if len(in) > 0 {
		l.buf = append(l.buf, in...)
	}
	return n, nil
}

func (l *lineWriter) Close() error {
	if len(l.buf) > 0 {
		l.callback(l.buf)
	}
	l.buf = nil
	return nil
}
