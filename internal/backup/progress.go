package backup

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressReader tracks bytes read and updates an mpb.Bar.
type ProgressReader struct {
	r   io.Reader
	bar *mpb.Bar
}

func NewProgressReader(r io.Reader, bar *mpb.Bar) *ProgressReader {
	return &ProgressReader{r: r, bar: bar}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.bar != nil {
		pr.bar.IncrBy(n)
	}
	return n, err
}

func NewProgressContainer(w io.Writer) *mpb.Progress {
	return mpb.New(mpb.WithWidth(64), mpb.WithOutput(w))
}

// AddFilesBar counts files, e.g. while digesting or verifying.
func AddFilesBar(p *mpb.Progress, name string, total int) *mpb.Bar {
	if p == nil {
		return nil
	}
	return p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(), " [DONE]"),
		),
	)
}

// AddBytesBar tracks bytes, e.g. while saving the archive.
func AddBytesBar(p *mpb.Progress, name string, total int64) *mpb.Bar {
	if p == nil {
		return nil
	}
	return p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1}),
			decor.Percentage(),
		),
		mpb.AppendDecorators(
			decor.OnComplete(
				decor.CountersKibiByte("% .2f / % .2f"),
				"DONE",
			),
		),
	)
}

func increment(bar *mpb.Bar) {
	if bar != nil {
		bar.Increment()
	}
}

// finish completes bar even when fewer steps ran than announced.
func finish(bar *mpb.Bar) {
	if bar != nil && !bar.Completed() {
		bar.SetTotal(-1, true)
	}
}
