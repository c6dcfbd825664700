// Package rclone implements the bidirectional sync strategy by driving
// the rclone binary against a configured remote. Authentication is
// rclone's problem (`rclone config`); piframe only needs the remote's
// name and path.
package rclone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os/exec"
	"path"
	"strings"
	"time"

	"github.com/piframe/piframe/pkg/errors"
	"github.com/piframe/piframe/pkg/sync"
)

// commandRunner runs an rclone invocation and returns its stdout. Mocked
// out in unit tests.
type commandRunner func(ctx context.Context, args ...string) ([]byte, error)

func runRclone(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "rclone", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, errors.New(fmt.Sprintf(
				"rclone %s: %s", args[0], strings.TrimSpace(string(exitErr.Stderr))))
		}
		return nil, err
	}
	return out, nil
}

// Source lists, fetches, pushes, and deletes through an rclone remote. It
// implements sync.Pusher and sync.RemoteDeleter, making it the
// bidirectional strategy.
type Source struct {
	remote  string
	path    string
	bwLimit string

	run commandRunner
}

// New returns a source for remote:path. The remote must already be
// configured in rclone.
func New(remote, remotePath, bwLimit string) (*Source, error) {
	if remote == "" {
		return nil, errors.MissingFieldError{Field: "remote_name"}
	}
	return &Source{
		remote:  remote,
		path:    remotePath,
		bwLimit: bwLimit,
		run:     runRclone,
	}, nil
}

// Name identifies the source in log lines.
func (s *Source) Name() string {
	return "rclone:" + s.remote
}

// Validate confirms the remote is reachable, so that a missing rclone
// binary or unconfigured remote fails fast at startup.
func (s *Source) Validate(ctx context.Context) error {
	if _, err := s.run(ctx, "lsjson", "--files-only", s.target("")); err != nil {
		return errors.NewFriendlyError(
			"The rclone remote %q isn't usable:\n%s\n\n"+
				"Run `rclone config` to set it up, and check that "+
				"remote_path %q exists.", s.remote, err, s.path)
	}
	return nil
}

// lsjsonEntry is one entry of `rclone lsjson` output.
type lsjsonEntry struct {
	Path    string    `json:"Path"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

// List returns the remote listing via `rclone lsjson`.
func (s *Source) List(ctx context.Context) ([]sync.Item, error) {
	out, err := s.run(ctx, "lsjson", "--files-only", "--recursive", s.target(""))
	if err != nil {
		return nil, errors.WithContext(err, "list remote")
	}

	var entries []lsjsonEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, errors.WithContext(err, "parse listing")
	}

	var items []sync.Item
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		items = append(items, sync.Item{
			Path:    entry.Path,
			Size:    entry.Size,
			ModTime: entry.ModTime,
			ID:      entry.Path,
		})
	}
	return items, nil
}

// Fetch reads the item's contents via `rclone cat`. Images are small
// enough that buffering a whole file is fine.
func (s *Source) Fetch(ctx context.Context, item sync.Item) (io.ReadCloser, error) {
	args := []string{"cat", s.target(item.Path)}
	if s.bwLimit != "" {
		args = append(args, "--bwlimit", s.bwLimit)
	}

	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, errors.WithContext(err, "cat remote file")
	}
	return ioutil.NopCloser(bytes.NewReader(out)), nil
}

// Push uploads a local file via `rclone copyto`.
func (s *Source) Push(ctx context.Context, relPath, localPath string, _ time.Time) error {
	args := []string{"copyto", localPath, s.target(relPath)}
	if s.bwLimit != "" {
		args = append(args, "--bwlimit", s.bwLimit)
	}

	if _, err := s.run(ctx, args...); err != nil {
		return errors.WithContext(err, "copyto remote")
	}
	return nil
}

// DeleteRemote removes a remote file via `rclone deletefile`.
func (s *Source) DeleteRemote(ctx context.Context, relPath string) error {
	if _, err := s.run(ctx, "deletefile", s.target(relPath)); err != nil {
		return errors.WithContext(err, "delete remote file")
	}
	return nil
}

func (s *Source) target(relPath string) string {
	return s.remote + ":" + path.Join(s.path, relPath)
}
