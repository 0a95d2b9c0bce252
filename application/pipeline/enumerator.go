package pipeline

import (
	"bufio"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Skryldev/speech-enhance/domain/model"
	"github.com/Skryldev/speech-enhance/domain/ports"
	"github.com/Skryldev/speech-enhance/infrastructure/wavio"
	pkgerrors "github.com/Skryldev/speech-enhance/pkg/errors"
	"github.com/Skryldev/speech-enhance/pkg/logger"
)

// Enumerator lists input recordings. Sequences are lazy and restartable: each range
// over them walks the source again and reads headers only.
type Enumerator struct {
	audio ports.AudioStore
	log   *logger.Logger
}

// NewEnumerator creates an enumerator backed by audio
func NewEnumerator(audio ports.AudioStore, log *logger.Logger) *Enumerator {
	if log == nil {
		log = logger.Nop()
	}
	return &Enumerator{audio: audio, log: log}
}

// Dir yields every .wav file under root, recursively, sorted by path.
func (e *Enumerator) Dir(root string) iter.Seq2[model.AudioFile, error] {
	return func(yield func(model.AudioFile, error) bool) {
		paths, err := listWAV(root)
		if err != nil {
			yield(model.AudioFile{Path: root}, err)
			return
		}
		for _, p := range paths {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				rel = filepath.Base(p)
			}
			if !yield(e.describe(p, rel)) {
				return
			}
		}
	}
}

// ScriptFile yields the WAV files listed in an scp file, one path per line. Blank
// lines and lines starting with # are ignored. Outputs are named by base name.
func (e *Enumerator) ScriptFile(path string) iter.Seq2[model.AudioFile, error] {
	return func(yield func(model.AudioFile, error) bool) {
		paths, err := readScript(path)
		if err != nil {
			yield(model.AudioFile{Path: path}, err)
			return
		}
		seen := make(map[string]string, len(paths))
		for _, p := range paths {
			rel := filepath.Base(p)
			if first, ok := seen[rel]; ok {
				e.log.Warn("duplicate output name in script file, later entry overwrites earlier",
					zap.String("output", rel),
					zap.String("path", p),
					zap.String("first", first),
				)
			} else {
				seen[rel] = p
			}
			if !yield(e.describe(p, rel)) {
				return
			}
		}
	}
}

func (e *Enumerator) describe(path, rel string) (model.AudioFile, error) {
	af, err := e.audio.ReadHeader(path)
	af.Path = path
	af.RelPath = rel
	if err != nil {
		return af, err
	}
	return af, wavio.ValidateFormat(af)
}

func listWAV(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.NewNotFoundError(root, "input directory does not exist", err)
		}
		return nil, pkgerrors.NewIOError(root, "failed to stat input directory", err)
	}
	if !info.IsDir() {
		return nil, pkgerrors.NewNotFoundError(root, "input path is not a directory", nil)
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".wav") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewIOError(root, "failed to walk input directory", err)
	}
	if len(paths) == 0 {
		return nil, pkgerrors.NewNotFoundError(root, "no WAV files in input directory", nil)
	}
	sort.Strings(paths)
	return paths, nil
}

func readScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.NewNotFoundError(path, "script file does not exist", err)
		}
		return nil, pkgerrors.NewIOError(path, "failed to open script file", err)
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, pkgerrors.NewIOError(path, "failed to read script file", err)
	}
	if len(paths) == 0 {
		return nil, pkgerrors.NewNotFoundError(path, "script file lists no WAV files", nil)
	}
	return paths, nil
}
