// Package media manages the video library: discovery of video files in
// the working directory, caption artifacts next to them, directory
// browsing, and thumbnail generation.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/vidcaption/captiond/internal/processing"
)

// ErrVideoNotFound is returned when a requested video name is not in
// the library.
var ErrVideoNotFound = errors.New("video not found in library")

// ErrUnsupportedExtension is returned for uploads whose extension is
// outside the configured video set.
var ErrUnsupportedExtension = errors.New("unsupported video extension")

const captionPreviewLen = 200

// VideoEntry is one library listing row.
type VideoEntry struct {
	Name           string    `json:"name"`
	Path           string    `json:"-"`
	SizeBytes      int64     `json:"size_bytes"`
	ModTime        time.Time `json:"mod_time"`
	HasCaption     bool      `json:"has_caption"`
	CaptionPreview string    `json:"caption_preview,omitempty"`
}

// Library scans the working directory for videos and keeps the listing
// cached until the filesystem watcher reports a change.
type Library struct {
	log        hclog.Logger
	extensions map[string]bool
	captionExt string
	recursive  bool

	mu      sync.Mutex
	root    string
	cache   []VideoEntry
	dirty   bool
	watcher *fsnotify.Watcher
	closed  chan struct{}
}

// NewLibrary creates a library over root. extensions are matched
// case-insensitively and must include the dot; captionExt names the
// sidecar caption files. With recursive set, subfolders are scanned too
// and entries are named by their path relative to the root.
func NewLibrary(root string, extensions []string, captionExt string, recursive bool, log hclog.Logger) (*Library, error) {
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}
	if captionExt == "" {
		captionExt = ".txt"
	}

	lib := &Library{
		log:        log,
		extensions: extSet,
		captionExt: captionExt,
		recursive:  recursive,
		dirty:      true,
		closed:     make(chan struct{}),
	}
	if err := lib.SetRoot(root); err != nil {
		return nil, err
	}
	return lib, nil
}

// Root returns the current working directory.
func (l *Library) Root() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// SetRoot points the library at a new directory and rebuilds the
// watcher. The cached listing is invalidated.
func (l *Library) SetRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		l.watcher.Close()
		l.watcher = nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.log.Warn("filesystem watcher unavailable, listings always rescan", "error", err)
	} else if err := watcher.Add(abs); err != nil {
		l.log.Warn("cannot watch directory", "path", abs, "error", err)
		watcher.Close()
		watcher = nil
	} else if l.recursive {
		// fsnotify watches are per directory.
		filepath.WalkDir(abs, func(path string, entry os.DirEntry, err error) error {
			if err == nil && entry.IsDir() && path != abs {
				if err := watcher.Add(path); err != nil {
					l.log.Warn("cannot watch subdirectory", "path", path, "error", err)
				}
			}
			return nil
		})
	}

	l.root = abs
	l.cache = nil
	l.dirty = true
	l.watcher = watcher
	if watcher != nil {
		go l.watch(watcher)
	}

	l.log.Info("library directory set", "path", abs)
	return nil
}

// Close stops the watcher.
func (l *Library) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	if l.watcher != nil {
		l.watcher.Close()
		l.watcher = nil
	}
}

func (l *Library) watch(watcher *fsnotify.Watcher) {
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			l.mu.Lock()
			l.dirty = true
			l.mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.log.Warn("watcher error", "error", err)
		case <-l.closed:
			return
		}
	}
}

// Videos returns the library listing, rescanning only when the cache
// has been invalidated.
func (l *Library) Videos() ([]VideoEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dirty && l.cache != nil {
		out := make([]VideoEntry, len(l.cache))
		copy(out, l.cache)
		return out, nil
	}

	entries, err := l.scanLocked()
	if err != nil {
		return nil, err
	}
	l.cache = entries
	l.dirty = false

	out := make([]VideoEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (l *Library) scanLocked() ([]VideoEntry, error) {
	var videos []VideoEntry

	add := func(name, path string, info os.FileInfo) {
		video := VideoEntry{
			Name:      name,
			Path:      path,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		}
		video.HasCaption, video.CaptionPreview = l.captionPreview(video.Path)
		videos = append(videos, video)
	}

	if l.recursive {
		err := filepath.WalkDir(l.root, func(path string, entry os.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return err
			}
			if !l.extensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(l.root, path)
			if err != nil {
				return nil
			}
			add(filepath.ToSlash(rel), path, info)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk library directory: %w", err)
		}
	} else {
		dirEntries, err := os.ReadDir(l.root)
		if err != nil {
			return nil, fmt.Errorf("failed to read library directory: %w", err)
		}
		for _, entry := range dirEntries {
			if entry.IsDir() {
				continue
			}
			if !l.extensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			add(entry.Name(), filepath.Join(l.root, entry.Name()), info)
		}
	}

	sort.Slice(videos, func(i, j int) bool { return videos[i].Name < videos[j].Name })
	return videos, nil
}

func (l *Library) captionPreview(videoPath string) (bool, string) {
	data, err := os.ReadFile(l.CaptionPath(videoPath))
	if err != nil {
		return false, ""
	}
	text := strings.TrimSpace(string(data))
	if cut := strings.Index(text, "\n---\n"); cut >= 0 {
		text = strings.TrimSpace(text[:cut])
	}
	if runes := []rune(text); len(runes) > captionPreviewLen {
		text = string(runes[:captionPreviewLen]) + "…"
	}
	return true, text
}

// CaptionPath maps a video path to its sidecar caption path.
func (l *Library) CaptionPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + l.captionExt
}

// Lookup finds one video by name.
func (l *Library) Lookup(name string) (VideoEntry, error) {
	videos, err := l.Videos()
	if err != nil {
		return VideoEntry{}, err
	}
	for _, video := range videos {
		if video.Name == name {
			return video, nil
		}
	}
	return VideoEntry{}, ErrVideoNotFound
}

// Resolve maps requested names to task specs; an empty request selects
// every video in the library. Unknown names are an error so a typo does
// not silently shrink a job.
func (l *Library) Resolve(names []string) ([]processing.TaskSpec, error) {
	videos, err := l.Videos()
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		specs := make([]processing.TaskSpec, len(videos))
		for i, video := range videos {
			specs[i] = processing.TaskSpec{Name: video.Name, Path: video.Path}
		}
		return specs, nil
	}

	byName := make(map[string]VideoEntry, len(videos))
	for _, video := range videos {
		byName[video.Name] = video
	}
	specs := make([]processing.TaskSpec, 0, len(names))
	for _, name := range names {
		video, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, name)
		}
		specs = append(specs, processing.TaskSpec{Name: video.Name, Path: video.Path})
	}
	return specs, nil
}

// SaveUpload writes an uploaded video into the library root under its
// base name. The copy goes through a temp file so a failed upload never
// leaves a partial video in the listing.
func (l *Library) SaveUpload(name string, r io.Reader) (VideoEntry, error) {
	name = filepath.Base(name)
	if !l.extensions[strings.ToLower(filepath.Ext(name))] {
		return VideoEntry{}, fmt.Errorf("%w: %s", ErrUnsupportedExtension, name)
	}

	root := l.Root()
	tmp, err := os.CreateTemp(root, ".upload-*")
	if err != nil {
		return VideoEntry{}, fmt.Errorf("failed to stage upload: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return VideoEntry{}, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return VideoEntry{}, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(root, name)); err != nil {
		os.Remove(tmpName)
		return VideoEntry{}, fmt.Errorf("failed to place upload: %w", err)
	}

	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
	return l.Lookup(name)
}

// Delete removes a video and its caption, if present.
func (l *Library) Delete(name string) error {
	video, err := l.Lookup(name)
	if err != nil {
		return err
	}
	if err := os.Remove(video.Path); err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	os.Remove(l.CaptionPath(video.Path))

	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
	return nil
}

// BrowseDir lists the subdirectories of path, for the directory picker.
func BrowseDir(path string) (parent string, dirs []string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", nil, fmt.Errorf("failed to browse %s: %w", abs, err)
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)
	return filepath.Dir(abs), dirs, nil
}
