// Package dockerfile assembles layered Dockerfile fragments into a single
// self-contained Dockerfile for backends that build without a build context.
package dockerfile

import (
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/distribution/reference"
)

// Fragment names, in composition order
const (
	FragmentBase        = "base"
	FragmentEnvironment = "environment"
	FragmentInstance    = "instance"
)

// Fragments holds the three layers of an image definition.
// Each layer starts with a FROM line pointing at the previous one.
type Fragments struct {
	Base        string
	Environment string
	Instance    string
}

// Mounts maps a virtual COPY source path to the file content it stands for
type Mounts map[string]string

// Compositor merges Dockerfile fragments and inlines COPY sources
type Compositor struct {
	baseImage string
}

// NewCompositor creates a Compositor that roots every composed Dockerfile at baseImage.
func NewCompositor(baseImage string) (*Compositor, error) {
	baseImage = strings.TrimSpace(baseImage)
	if baseImage == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBaseImage)
	}
	if _, err := reference.ParseNormalizedNamed(baseImage); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBaseImage, baseImage, err)
	}
	return &Compositor{baseImage: baseImage}, nil
}

// BaseImage returns the image every composed Dockerfile starts FROM
func (c *Compositor) BaseImage() string {
	return c.baseImage
}

// Compose merges the fragments into one Dockerfile and rewrites every COPY
// instruction into a RUN that recreates the file from mounts.
// The result depends only on the inputs.
func (c *Compositor) Compose(f Fragments, mounts Mounts) (string, error) {
	parts := []struct {
		name string
		text string
	}{
		{FragmentBase, f.Base},
		{FragmentEnvironment, f.Environment},
		{FragmentInstance, f.Instance},
	}

	lines := []string{"FROM " + c.baseImage}
	for _, p := range parts {
		body, first, err := stripFrom(p.name, p.text)
		if err != nil {
			return "", err
		}
		for i, line := range body {
			rewritten, err := rewriteCopy(p.name, line, first+i, mounts)
			if err != nil {
				return "", err
			}
			lines = append(lines, rewritten)
		}
	}

	return strings.Join(lines, "\n") + "\n", nil
}

// stripFrom drops everything up to and including the first non-empty line,
// which must be a FROM instruction. It returns the remaining lines and the
// 1-based fragment line number of the first of them. A trailing newline does
// not produce an extra empty line.
func stripFrom(name, text string) ([]string, int, error) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if instruction(line) != "FROM" {
			return nil, 0, &MalformedFragmentError{
				Fragment: name,
				Line:     i + 1,
				Reason:   fmt.Sprintf("expected FROM instruction, got %q", strings.TrimSpace(line)),
			}
		}
		return lines[i+1:], i + 2, nil
	}
	return nil, 0, &MalformedFragmentError{Fragment: name, Reason: "no FROM instruction"}
}

// rewriteCopy turns "COPY <src> <dest>" into a RUN that decodes the mount
// content into <dest><basename(src)>. Other lines are returned unchanged.
func rewriteCopy(fragment, line string, lineNo int, mounts Mounts) (string, error) {
	if instruction(line) != "COPY" {
		return line, nil
	}

	args := strings.Fields(line)[1:]
	if len(args) != 2 {
		return "", &MalformedFragmentError{
			Fragment: fragment,
			Line:     lineNo,
			Reason:   fmt.Sprintf("COPY expects exactly a source and a destination, got %d arguments", len(args)),
		}
	}
	src, dest := args[0], args[1]

	content, ok := mounts[src]
	if !ok {
		return "", &MissingMountError{Fragment: fragment, Source: src, Line: lineNo}
	}

	payload := base64.StdEncoding.EncodeToString([]byte(content))
	return fmt.Sprintf("RUN echo %s | base64 -d > %s%s", payload, dest, path.Base(src)), nil
}

// instruction returns the upper-cased first token of a Dockerfile line
func instruction(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
