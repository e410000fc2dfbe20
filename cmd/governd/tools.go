package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hupe1980/govern"
	"github.com/hupe1980/govern/httpgov"
	"github.com/hupe1980/govern/resource"
)

const (
	placeholderInput  = "{input}"
	placeholderOutput = "{output}"

	// maxStderr bounds the converter output kept for error messages.
	maxStderr = 4 << 10
)

// converter runs an external command on an uploaded file.
type converter struct {
	cfg     ToolConfig
	state   *resource.State
	tempDir string
}

func newConverter(cfg ToolConfig, state *resource.State, tempDir string) *converter {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/octet-stream"
	}
	return &converter{cfg: cfg, state: state, tempDir: tempDir}
}

// probe returns the configured health probe, if any.
func (c *converter) probe() (httpgov.Probe, bool) {
	if len(c.cfg.Probe) == 0 {
		return httpgov.Probe{}, false
	}
	return httpgov.CommandProbe(c.cfg.Name, c.cfg.Probe[0], c.cfg.Probe[1:]...), true
}

// args substitutes the file placeholders. It reports whether the command
// writes the output file itself.
func (c *converter) args(input, output string) ([]string, bool) {
	usesOutput := false
	args := make([]string, len(c.cfg.Args))
	for i, a := range c.cfg.Args {
		if strings.Contains(a, placeholderOutput) {
			usesOutput = true
		}
		a = strings.ReplaceAll(a, placeholderInput, input)
		args[i] = strings.ReplaceAll(a, placeholderOutput, output)
	}
	return args, usesOutput
}

// serve is an httpgov.HandlerFunc. Returned errors fail the attempt; client
// mistakes are answered with a 4xx response instead.
func (c *converter) serve(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return nil
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return nil
	}
	defer func() { _ = file.Close() }()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	dir, err := os.MkdirTemp(c.tempDir, "governd-"+c.cfg.Name+"-")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, "input"+filepath.Ext(filepath.Base(header.Filename)))
	inTrack, err := c.save(input, file)
	defer inTrack.Release()
	if err != nil {
		return err
	}

	output := filepath.Join(dir, "output"+c.cfg.OutputExt)
	args, usesOutput := c.args(input, output)

	stderr := &boundedBuffer{max: maxStderr}
	cmd := exec.CommandContext(r.Context(), c.cfg.Command, args...)
	cmd.Stderr = stderr

	var outTrack *resource.TrackedWriter
	if !usesOutput {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		outTrack = resource.NewTrackedWriter(f, c.state)
		defer outTrack.Release()
		cmd.Stdout = outTrack
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := r.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%s: %w", c.cfg.Command, err)
		}
		return fmt.Errorf("%s: %w: %s", c.cfg.Command, err, msg)
	}

	out, err := os.Open(output)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = out.Close() }()

	if outTrack == nil {
		if fi, err := out.Stat(); err == nil {
			c.state.AddTemp(fi.Size())
			defer c.state.RemoveTemp(fi.Size())
		}
	}

	w.Header().Set("Content-Type", c.cfg.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outputName(header.Filename, c.cfg.OutputExt)))
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, out)
	return err
}

// save copies the upload to path and accounts it as temp storage.
func (c *converter) save(path string, src io.Reader) (*resource.TrackedWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return resource.NewTrackedWriter(io.Discard, nil), fmt.Errorf("create input: %w", err)
	}
	tw := resource.NewTrackedWriter(f, c.state)
	if _, err := io.Copy(tw, src); err != nil {
		_ = f.Close()
		return tw, fmt.Errorf("save upload: %w", err)
	}
	return tw, f.Close()
}

func outputName(upload, ext string) string {
	base := filepath.Base(upload)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		base = "output"
	}
	return base + ext
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// boundedBuffer keeps the first max bytes written to it.
type boundedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string { return b.buf.String() }

// mountTools registers every configured tool under /api/<name>.
func mountTools(mux *http.ServeMux, g *govern.Governor, tools []ToolConfig, maxBody int64, tempDir string) []httpgov.Probe {
	var probes []httpgov.Probe
	for _, t := range tools {
		c := newConverter(t, g.State(), tempDir)
		mux.Handle("/api/"+t.Name, httpgov.Handler(g, httpgov.Job{
			Tool:         t.Name,
			Category:     t.Category,
			Timeout:      t.Timeout,
			MaxBodyBytes: maxBody,
		}, c.serve))
		if p, ok := c.probe(); ok {
			probes = append(probes, p)
		}
	}
	return probes
}
