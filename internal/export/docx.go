package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	docxMimeType  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	maxStderrEcho = 512
)

// pandoc converts rendered dossiers to DOCX. A reference document, when set,
// supplies the styles of the generated file.
type pandoc struct {
	bin          string
	referenceDoc string
	timeout      time.Duration
}

func defaultPandoc() pandoc {
	return pandoc{bin: "pandoc", timeout: 30 * time.Second}
}

func (p pandoc) args(title string) []string {
	args := []string{"--from=html", "--to=docx", "--standalone", "--output=-"}
	if p.referenceDoc != "" {
		args = append(args, "--reference-doc="+p.referenceDoc)
	}
	return append(args, "--metadata=title:"+title)
}

func (p pandoc) convert(parent context.Context, html, title string) (*Result, error) {
	path, err := exec.LookPath(p.bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrDOCXDependencyMissing, p.bin)
	}

	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, p.args(title)...)
	cmd.Stdin = strings.NewReader(html)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("pandoc timed out after %s", p.timeout)
		}
		return nil, fmt.Errorf("pandoc: %w: %s", err, truncateStderr(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("pandoc produced an empty document")
	}

	return &Result{
		Data:     stdout.Bytes(),
		Filename: sanitizeFilename(title) + ".docx",
		MimeType: docxMimeType,
	}, nil
}

func truncateStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrEcho {
		return s[:maxStderrEcho] + "..."
	}
	return s
}
