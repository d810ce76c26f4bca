package progress

import "io"

// Reader wraps an io.Reader, counting bytes and reporting through a callback
// every interval bytes and once more at EOF.
type Reader struct {
	Reader     io.Reader
	Total      int64 // expected size, <= 0 when unknown
	OnProgress func(read int64, total int64)

	read       int64
	sinceLast  int64
	interval   int64
	reportedAt int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		OnProgress: cb,
		interval:   interval,
		reportedAt: -1,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		if pr.interval > 0 && pr.sinceLast >= pr.interval {
			pr.report()
		}
	}

	if err == io.EOF && pr.reportedAt != pr.read {
		pr.report()
	}

	return n, err
}

func (pr *Reader) report() {
	pr.sinceLast = 0
	pr.reportedAt = pr.read

	if pr.OnProgress != nil {
		pr.OnProgress(pr.read, pr.Total)
	}
}
