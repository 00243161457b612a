package upload

import "io"

// ProgressFunc receives upload progress as a whole percentage in [0, 100].
// Within one upload attempt the reported value never decreases.
type ProgressFunc func(percent int)

// progressReader wraps the file reader feeding the multipart body and
// reports monotonic percentage progress as bytes are consumed by the
// transport.
type progressReader struct {
	r        io.Reader
	total    int64
	sent     int64
	lastPct  int
	progress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, lastPct: -1, progress: progress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		p.report()
	}
	return n, err
}

// report computes round(sent/total*100), clamped to [0,100], and notifies
// only when the percentage advances.
func (p *progressReader) report() {
	if p.progress == nil || p.total <= 0 {
		return
	}
	pct := int((float64(p.sent)/float64(p.total))*100 + 0.5)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct > p.lastPct {
		p.lastPct = pct
		p.progress(pct)
	}
}
