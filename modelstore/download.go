package modelstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// fetch downloads url into destPath, resuming from a partial file when the
// server honours Range requests.
func fetch(ctx context.Context, client *http.Client, url, destPath, displayName string, progressOut io.Writer) error {
	var resumeFrom int64
	if info, err := os.Stat(destPath); err == nil {
		resumeFrom = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("modelstore: create request: %w", err)
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", BuildRangeHeader(resumeFrom))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("modelstore: download request failed: %w", err)
	}
	defer resp.Body.Close()

	flag := os.O_CREATE | os.O_WRONLY
	var total int64
	switch resp.StatusCode {
	case http.StatusOK:
		// Server sent the full file, start fresh
		resumeFrom = 0
		flag |= os.O_TRUNC
		total = resp.ContentLength
	case http.StatusPartialContent:
		flag |= os.O_APPEND
		if resp.ContentLength >= 0 {
			total = resumeFrom + resp.ContentLength
		} else {
			total = -1
		}
	default:
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	out, err := os.OpenFile(destPath, flag, 0644)
	if err != nil {
		return fmt.Errorf("modelstore: open destination: %w", err)
	}
	defer func() {
		out.Sync()
		out.Close()
	}()

	progress := mpb.NewWithContext(ctx, mpb.WithOutput(progressOut), mpb.WithWidth(40))
	bar := progress.AddBar(total,
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name(displayName, decor.WC{W: 40, C: decor.DidentRight}),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.EwmaETA(decor.ET_STYLE_GO, 90),
			decor.Name(" ] "),
			decor.EwmaSpeed(decor.UnitKiB, "% .2f", 60),
		),
	)
	if resumeFrom > 0 {
		bar.SetCurrent(resumeFrom)
	}

	reader := bar.ProxyReader(resp.Body)
	written, copyErr := io.Copy(out, reader)
	reader.Close()

	if copyErr == nil && total > 0 && resumeFrom+written < total {
		copyErr = io.ErrUnexpectedEOF
	}
	if !bar.Completed() {
		// Bars without an announced size never complete on their own.
		bar.Abort(copyErr != nil)
	}
	progress.Wait()

	if copyErr != nil {
		return fmt.Errorf("modelstore: download interrupted: %w", copyErr)
	}
	return nil
}

// BuildRangeHeader constructs an HTTP Range header for resumable downloads.
// Negative values are treated as 0 (start from beginning).
func BuildRangeHeader(resumeFrom int64) string {
	if resumeFrom < 0 {
		resumeFrom = 0
	}
	return fmt.Sprintf("bytes=%d-", resumeFrom)
}
