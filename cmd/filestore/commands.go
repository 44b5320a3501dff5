package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	apperrors "github.com/kbukum/filestore/errors"
	"github.com/kbukum/filestore/resilience"
	"github.com/kbukum/filestore/storage"
)

type command struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(ctx context.Context, svc *storage.Service, args []string, out io.Writer) error
}

var commandOrder = []string{"put", "get", "rm", "url", "chunked", "sweep", "serve"}

var commands = map[string]command{
	"put":     {usage: "<file>", minArgs: 1, maxArgs: 1, run: putCmd},
	"get":     {usage: "<object-id> <dest>", minArgs: 2, maxArgs: 2, run: getCmd},
	"rm":      {usage: "<object-id>", minArgs: 1, maxArgs: 1, run: rmCmd},
	"url":     {usage: "<object-id> [seconds]", minArgs: 1, maxArgs: 2, run: urlCmd},
	"chunked": {usage: "<file> <part-size-bytes> [parallel]", minArgs: 2, maxArgs: 3, run: chunkedCmd},
	"sweep":   {usage: "", minArgs: 0, maxArgs: 0, run: sweepCmd},
	"serve":   {usage: "", minArgs: 0, maxArgs: 0, run: serveCmd},
}

func contentTypeOf(path string) string {
	return mime.TypeByExtension(filepath.Ext(path))
}

func putCmd(ctx context.Context, svc *storage.Service, args []string, out io.Writer) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only
	info, err := f.Stat()
	if err != nil {
		return err
	}

	id, err := svc.Upload(ctx, storage.UploadInput{
		Reader:      f,
		Size:        info.Size(),
		FileName:    filepath.Base(args[0]),
		ContentType: contentTypeOf(args[0]),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func getCmd(ctx context.Context, svc *storage.Service, args []string, out io.Writer) error {
	rc, err := svc.Download(ctx, args[0])
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck // read-only

	dest, err := os.Create(args[1])
	if err != nil {
		return err
	}
	n, err := io.Copy(dest, rc)
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", args[1], err)
	}
	fmt.Fprintf(out, "%d bytes written to %s\n", n, args[1])
	return nil
}

func rmCmd(ctx context.Context, svc *storage.Service, args []string, out io.Writer) error {
	existed, err := svc.Delete(ctx, args[0])
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintln(out, "deleted")
	} else {
		fmt.Fprintln(out, "not found")
	}
	return nil
}

func urlCmd(ctx context.Context, svc *storage.Service, args []string, out io.Writer) error {
	expire := int64(3600)
	if len(args) == 2 {
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seconds %q: %w", args[1], err)
		}
		expire = v
	}
	u, err := svc.PresignedURL(ctx, args[0], expire)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, u)
	return nil
}

const defaultParallelParts = 4

// chunkedCmd uploads a file through the multipart protocol, aborting the
// session if any step fails.
func chunkedCmd(ctx context.Context, svc *storage.Service, args []string, out io.Writer) error {
	partSize, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || partSize <= 0 {
		return fmt.Errorf("invalid part size %q", args[1])
	}
	parallel := defaultParallelParts
	if len(args) == 3 {
		if parallel, err = strconv.Atoi(args[2]); err != nil || parallel <= 0 {
			return fmt.Errorf("invalid parallelism %q", args[2])
		}
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty; use put for empty files", args[0])
	}

	sessionID, err := svc.InitiateMultipartUpload(ctx, storage.MultipartInput{
		FileName:    filepath.Base(args[0]),
		ContentType: contentTypeOf(args[0]),
		FileSize:    info.Size(),
	})
	if err != nil {
		return err
	}

	abort := func() {
		err := svc.AbortMultipartUpload(context.WithoutCancel(ctx), sessionID)
		if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound) {
			fmt.Fprintf(out, "abort %s: %v\n", sessionID, err)
		}
	}

	parts, err := uploadParts(ctx, svc, sessionID, f, info.Size(), partSize, parallel)
	if err != nil {
		abort()
		return err
	}

	id, err := svc.CompleteMultipartUpload(ctx, sessionID, parts)
	if err != nil {
		abort()
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

// uploadParts sends the parts of r concurrently, at most parallel at a time.
// The first failure cancels the parts still waiting for a slot.
func uploadParts(ctx context.Context, svc *storage.Service, sessionID string, r io.ReaderAt, size, partSize int64, parallel int) (map[int]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pool := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "cli.parts", MaxConcurrent: parallel})

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		parts = make(map[int]string)
		errs  []error
	)
	number := 1
	for off := int64(0); off < size; off += partSize {
		num, n := number, min(partSize, size-off)
		section := io.NewSectionReader(r, off, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			etag, err := resilience.ExecuteWithResult(pool, ctx, func() (string, error) {
				return svc.UploadPart(ctx, sessionID, num, section, n)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("part %d: %w", num, err))
				cancel()
				return
			}
			parts[num] = etag
		}()
		number++
	}
	wg.Wait()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return parts, nil
}

func sweepCmd(ctx context.Context, svc *storage.Service, _ []string, out io.Writer) error {
	n, err := svc.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d expired sessions removed\n", n)
	return nil
}

// serveCmd keeps the storage component, and with it the expiry sweeper,
// running until the process is interrupted.
func serveCmd(ctx context.Context, svc *storage.Service, _ []string, out io.Writer) error {
	fmt.Fprintf(out, "sweeping expired sessions on %s until interrupted\n", svc.Backend().Name())
	<-ctx.Done()
	return nil
}
